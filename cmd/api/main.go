package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outbound-orchestrator/internal/app"
	"outbound-orchestrator/internal/auth"
	"outbound-orchestrator/internal/config"
	"outbound-orchestrator/internal/rbac"
	"outbound-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	mintRole := flag.String("mint-token", "", "print an access token for the given role (admin, operator, service) and exit")
	mintUser := flag.String("mint-user", "bootstrap", "user_id for -mint-token")
	mintTTL := flag.Duration("mint-ttl", 0, "ttl for -mint-token (default JWT_ACCESS_TTL)")
	flag.Parse()

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	if *mintRole != "" {
		if !rbac.Known(*mintRole) {
			log.Error("unknown role", "role", *mintRole)
			os.Exit(2)
		}
		tok, err := authManager.IssueAccess(time.Now(), *mintUser, *mintRole, *mintTTL)
		if err != nil {
			log.Error("token mint failed", "err", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, a, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "db_driver", cfg.DB.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

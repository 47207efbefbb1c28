// Package app wires config into the stores, provider and services shared by
// the api and dispatcher processes.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"outbound-orchestrator/internal/audit"
	"outbound-orchestrator/internal/backoff"
	"outbound-orchestrator/internal/calljobs"
	"outbound-orchestrator/internal/config"
	"outbound-orchestrator/internal/conversation"
	"outbound-orchestrator/internal/dispatcher"
	"outbound-orchestrator/internal/telephony"
	"outbound-orchestrator/internal/transcript"
	"outbound-orchestrator/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// SlotKey names the single outbound concurrency pool.
const SlotKey = "outbound"

type App struct {
	Config config.Config
	Log    *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Jobs        *calljobs.Service
	Transcripts *transcript.Service
	Audit       *audit.Service
	Provider    *telephony.TwilioProvider
	Dispatcher  *dispatcher.Dispatcher
	Engine      *conversation.Engine
}

// New opens the database and redis, runs migrations and builds every service.
// Close releases what New opened.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, dialect, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DB = db

	store := calljobs.NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate call_jobs: %w", err)
	}
	tsType := ""
	if dialect == calljobs.DialectSQLite {
		tsType = "DATETIME"
	}
	turns := transcript.NewSQLRepo(db, dialect.Rebind, tsType)
	if err := turns.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate call_turns: %w", err)
	}

	auditRepo := audit.NewSQLRepo(db, dialect.Rebind, tsType)
	if err := auditRepo.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate audit_events: %w", err)
	}
	a.Audit = audit.NewService(auditRepo)

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb

	d := cfg.Dispatcher
	a.Jobs = calljobs.NewService(store, calljobs.Config{
		MaxAttempts:  d.MaxAttempts,
		LeaseTTL:     d.LeaseTTL,
		CallCeiling:  d.CallCeiling,
		DedupeWindow: d.DedupeWindow,
		Backoff:      backoff.NewExponential(d.BackoffBase, d.BackoffMax),
	})
	a.Transcripts = transcript.NewService(turns)

	a.Provider, err = telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
		APIBaseURL: cfg.Twilio.APIBaseURL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var slots *utils.CallSlots
	if d.ConcurrencyLimit > 0 {
		slots, err = utils.NewCallSlots(rdb, d.ConcurrencyLimit, d.CallCeiling)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var dispSlots dispatcher.Slots
	if slots != nil {
		dispSlots = slots
	}
	a.Dispatcher, err = dispatcher.New(a.Jobs, a.Provider, dispSlots, dispatcher.Config{
		PublicBaseURL: cfg.App.PublicBaseURL,
		SlotKey:       SlotKey,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	convStore, err := conversation.NewRedisStore(rdb, cfg.Conversation.StateTTL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = conversation.NewEngine(a.Jobs, convStore, conversation.Config{
		ConfidenceThreshold: cfg.Conversation.ConfidenceThreshold,
		StepRetries:         cfg.Conversation.StepRetries,
		LowConfidencePolicy: cfg.Conversation.LowConfidencePolicy,
		SlotKey:             SlotKey,
	})
	a.Engine.Turns = a.Transcripts
	if slots != nil {
		a.Engine.Slots = slots
	}
	a.Dispatcher.Conversations = a.Engine

	return a, nil
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, calljobs.Dialect, error) {
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		db, err := utils.OpenSQLite(ctx, cfg.DB.SQLitePath)
		if err != nil {
			return nil, "", fmt.Errorf("sqlite init: %w", err)
		}
		return db, calljobs.DialectSQLite, nil
	case config.DriverPostgres, "":
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PoolConfig{})
		if err != nil {
			return nil, "", fmt.Errorf("postgres init: %w", err)
		}
		return db, calljobs.DialectPostgres, nil
	default:
		return nil, "", fmt.Errorf("unsupported db driver %q", cfg.DB.Driver)
	}
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

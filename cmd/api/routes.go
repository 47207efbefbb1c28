package main

import (
	"net/http"
	"time"

	"outbound-orchestrator/internal/app"
	"outbound-orchestrator/internal/auth"
	"outbound-orchestrator/internal/httpapi"
	"outbound-orchestrator/internal/reporting"
	"outbound-orchestrator/internal/telephony"
	"outbound-orchestrator/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, authManager *auth.Manager) {
	cfg := a.Config

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		if err := a.Redis.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public, signature-checked when enabled).
	{
		h := telephony.TwilioWebhookHandler{
			Engine:        a.Engine,
			Jobs:          a.Jobs,
			PublicBaseURL: cfg.App.PublicBaseURL,
			Language:      cfg.Conversation.Language,
			TimingLog:     cfg.Conversation.TimingLog,
		}
		token := ""
		if cfg.Twilio.ValidateSignature {
			token = cfg.Twilio.AuthToken
		}
		h.RegisterRoutes(r, token)
	}

	// protected API group
	h := httpapi.Handlers{
		Auth:         authManager,
		Jobs:         a.Jobs,
		Dispatcher:   a.Dispatcher,
		Transcripts:  a.Transcripts,
		Reports:      reporting.NewService(a.Jobs),
		Audit:        a.Audit,
		DefaultLimit: cfg.Dispatcher.Limit,
	}
	h.RegisterRoutes(r.Group("/v1"), auth.RequireAccessToken(authManager))
}

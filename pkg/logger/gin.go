package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// Middleware puts a request-scoped logger on the gin and request contexts and
// writes one summary line per request. A job_id query parameter, carried by
// every provider webhook, is attached so a call can be followed across callbacks.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)

		attrs := []any{"request_id", rid}
		if jobID := c.Query("job_id"); jobID != "" {
			attrs = append(attrs, "job_id", jobID)
		}
		reqLogger := l.With(attrs...)
		c.Set(ginLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		summary := []any{
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case len(c.Errors) > 0:
			reqLogger.Error("request", append(summary, "errors", c.Errors.String())...)
		case route == "/healthz":
			reqLogger.Debug("request", summary...)
		default:
			reqLogger.Info("request", summary...)
		}
	}
}

// FromGin returns the request-scoped logger, or slog.Default outside Middleware.
func FromGin(c *gin.Context) *slog.Logger {
	if l, ok := c.Value(ginLoggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

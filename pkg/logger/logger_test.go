package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddlewarePropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "local")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if strings.Count(buf.String(), `"request_id":"rid-1"`) != 2 {
		t.Fatalf("expected handler and summary lines tagged with request id: %s", buf.String())
	}
}

func TestMiddlewareTagsWebhookJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "production")))
	r.POST("/webhooks/twilio/status", func(c *gin.Context) {
		FromGin(c).Info("status")
		c.Status(http.StatusNoContent)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status?job_id=j9", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	out := buf.String()
	if strings.Count(out, `"job_id":"j9"`) != 2 {
		t.Fatalf("expected handler and summary lines tagged with job_id: %s", out)
	}
	if strings.Contains(out, "/healthz") {
		t.Fatalf("health probes should log below info: %s", out)
	}
}

func TestWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), NewWithWriter(&buf, "production"))
	ctx, l := WithAttrs(ctx, "job_id", "j1")
	l.Info("a")
	From(ctx).Debug("suppressed at info level")
	if !strings.Contains(buf.String(), `"job_id":"j1"`) {
		t.Fatalf("expected job_id attr: %s", buf.String())
	}
	if strings.Contains(buf.String(), "suppressed") {
		t.Fatalf("debug line should be filtered in production")
	}
}

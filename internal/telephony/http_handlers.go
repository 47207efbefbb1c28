package telephony

import (
	"context"
	"errors"
	"net/http"
	"time"

	"outbound-orchestrator/internal/calljobs"
	"outbound-orchestrator/internal/conversation"
	"outbound-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventHandler is the conversation engine as seen from the webhook boundary.
type EventHandler interface {
	OnEvent(ctx context.Context, jobID string, ev conversation.Event) (conversation.NextAction, error)
}

// JobAnnotator records non-terminal call progress on a job.
type JobAnnotator interface {
	Annotate(ctx context.Context, id, callID string, artifacts calljobs.Artifacts) (*calljobs.Job, bool, error)
}

// TwilioWebhookHandler converts Twilio webhooks to conversation events and
// writes TwiML. No script logic lives here.
type TwilioWebhookHandler struct {
	Engine EventHandler
	Jobs   JobAnnotator

	PublicBaseURL string
	Language      string

	// TimingLog adds a per-webhook duration log line.
	TimingLog bool

	Now func() time.Time
}

func (h TwilioWebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// HandleVoice serves the answer URL and every gather callback.
func (h TwilioWebhookHandler) HandleVoice(c *gin.Context) {
	started := h.now()
	log := logger.FromGin(c)

	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversation engine not configured"})
		return
	}

	w, err := ParseVoiceWebhook(c.Request)
	if err != nil {
		log.Warn("twilio voice webhook rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	ctx, log := logger.WithAttrs(c.Request.Context(), "job_id", w.JobID, "call_sid", w.CallSid, "token", w.Token.String())
	action, err := h.Engine.OnEvent(ctx, w.JobID, w.Event())
	if err != nil {
		// The caller is live; close politely whatever went wrong.
		if errors.Is(err, conversation.ErrUnknownJob) || errors.Is(err, conversation.ErrNoConversation) {
			log.Warn("voice webhook for unknown conversation", "err", err)
		} else {
			log.Error("voice webhook failed", "err", err)
		}
		h.writeTwiML(c, GracefulHangup(h.Language))
		return
	}

	twiml, err := RenderAction(action, h.PublicBaseURL, w.JobID, h.Language)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		twiml = GracefulHangup(h.Language)
	}
	if action.Replayed {
		log.Info("voice webhook replayed", "kind", string(action.Kind))
	}
	if h.TimingLog {
		log.Info("voice webhook timing", "duration_ms", h.now().Sub(started).Milliseconds(), "kind", string(action.Kind))
	}
	h.writeTwiML(c, twiml)
}

// HandleStatus serves status callbacks. Terminal statuses end the conversation
// and resolve the job; others are recorded on the job and acknowledged.
func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	started := h.now()
	log := logger.FromGin(c)

	if h.Engine == nil || h.Jobs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook handler not configured"})
		return
	}

	w, err := ParseStatusWebhook(c.Request)
	if err != nil {
		log.Warn("twilio status webhook rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	ctx, log := logger.WithAttrs(c.Request.Context(), "job_id", w.JobID, "call_sid", w.CallSid, "call_status", w.CallStatus)
	if w.Terminal() {
		_, err = h.Engine.OnEvent(ctx, w.JobID, conversation.CallEnded{CallID: w.CallSid, Reason: w.CallStatus, Duration: w.CallDuration})
	} else {
		_, _, err = h.Jobs.Annotate(ctx, w.JobID, w.CallSid, calljobs.Artifacts{calljobs.ArtifactCallStatus: w.CallStatus})
	}
	switch {
	case errors.Is(err, conversation.ErrUnknownJob), errors.Is(err, calljobs.ErrNotFound):
		log.Warn("status webhook for unknown job")
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	case err != nil:
		// 5xx makes Twilio retry the callback.
		log.Error("status webhook failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status handling failed"})
		return
	}

	if h.TimingLog {
		log.Info("status webhook timing", "duration_ms", h.now().Sub(started).Milliseconds())
	}
	c.Status(http.StatusNoContent)
}

func (h TwilioWebhookHandler) writeTwiML(c *gin.Context, twiml string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// RegisterRoutes mounts the Twilio webhooks on g. A non-empty authToken turns
// on signature verification.
func (h TwilioWebhookHandler) RegisterRoutes(g gin.IRoutes, authToken string) {
	if authToken != "" {
		verify := SignatureMiddleware(authToken, h.PublicBaseURL)
		g.POST("/webhooks/twilio/voice", verify, h.HandleVoice)
		g.POST("/webhooks/twilio/status", verify, h.HandleStatus)
		return
	}
	g.POST("/webhooks/twilio/voice", h.HandleVoice)
	g.POST("/webhooks/twilio/status", h.HandleStatus)
}

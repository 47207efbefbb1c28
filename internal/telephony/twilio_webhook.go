package telephony

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"outbound-orchestrator/internal/conversation"
)

// VoiceWebhook captures the subset of Twilio voice/gather fields we care about.
// Twilio sends application/x-www-form-urlencoded; job_id, step and seq are
// query parameters we put on the URLs ourselves.
// Ref: https://www.twilio.com/docs/voice/twiml/gather
type VoiceWebhook struct {
	JobID        string
	CallSid      string
	CallStatus   string
	SpeechResult string
	Confidence   float64

	// Token is zero on the answer webhook, which has no step yet.
	Token conversation.StepToken
}

func (w VoiceWebhook) Event() conversation.Event {
	if w.Token.IsZero() {
		return conversation.CallStarted{CallID: w.CallSid}
	}
	return conversation.SpeechCaptured{CallID: w.CallSid, Text: w.SpeechResult, Confidence: w.Confidence, Token: w.Token}
}

// StatusWebhook is a status callback.
type StatusWebhook struct {
	JobID        string
	CallSid      string
	CallStatus   string
	CallDuration string
}

func (w StatusWebhook) Terminal() bool { return conversation.IsTerminalCallStatus(w.CallStatus) }

var ErrMalformedWebhook = errors.New("telephony: malformed webhook")

func ParseVoiceWebhook(r *http.Request) (VoiceWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceWebhook{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	q := r.URL.Query()
	w := VoiceWebhook{
		JobID:        strings.TrimSpace(q.Get("job_id")),
		CallSid:      r.PostFormValue("CallSid"),
		CallStatus:   r.PostFormValue("CallStatus"),
		SpeechResult: strings.TrimSpace(r.PostFormValue("SpeechResult")),
	}
	if w.JobID == "" || w.CallSid == "" {
		return VoiceWebhook{}, fmt.Errorf("%w: job_id and CallSid are required", ErrMalformedWebhook)
	}

	// Missing confidence means the recognizer returned nothing usable.
	if raw := strings.TrimSpace(r.PostFormValue("Confidence")); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil || c < 0 || c > 1 {
			return VoiceWebhook{}, fmt.Errorf("%w: confidence %q", ErrMalformedWebhook, raw)
		}
		w.Confidence = c
	}

	step, seq := strings.TrimSpace(q.Get("step")), strings.TrimSpace(q.Get("seq"))
	if step != "" || seq != "" {
		tok, err := conversation.ParseStepToken(step + "." + seq)
		if err != nil {
			return VoiceWebhook{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
		}
		w.Token = tok
	}
	return w, nil
}

func ParseStatusWebhook(r *http.Request) (StatusWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return StatusWebhook{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	w := StatusWebhook{
		JobID:        strings.TrimSpace(r.URL.Query().Get("job_id")),
		CallSid:      r.PostFormValue("CallSid"),
		CallStatus:   strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		CallDuration: r.PostFormValue("CallDuration"),
	}
	if w.JobID == "" || w.CallSid == "" || w.CallStatus == "" {
		return StatusWebhook{}, fmt.Errorf("%w: job_id, CallSid and CallStatus are required", ErrMalformedWebhook)
	}
	return w, nil
}

package telephony

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"outbound-orchestrator/internal/conversation"
)

func formRequest(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseVoiceWebhook(t *testing.T) {
	w, err := ParseVoiceWebhook(formRequest("/webhooks/twilio/voice?job_id=j1", "CallSid=CA123&CallStatus=in-progress"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := w.Event().(conversation.CallStarted); !ok {
		t.Fatalf("expected CallStarted, got %T", w.Event())
	}

	w, err = ParseVoiceWebhook(formRequest("/webhooks/twilio/voice?job_id=j1&step=capture_intent&seq=2", "CallSid=CA123&SpeechResult=yes&Confidence=0.95"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ev, ok := w.Event().(conversation.SpeechCaptured)
	if !ok {
		t.Fatalf("expected SpeechCaptured, got %T", w.Event())
	}
	if ev.CallID != "CA123" || ev.Text != "yes" || ev.Confidence != 0.95 || ev.Token != (conversation.StepToken{Step: conversation.StepCaptureIntent, Seq: 2}) {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// Redirect after silence: no SpeechResult or Confidence.
	w, err = ParseVoiceWebhook(formRequest("/webhooks/twilio/voice?job_id=j1&step=intro&seq=1", "CallSid=CA123"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev := w.Event().(conversation.SpeechCaptured); ev.Text != "" || ev.Confidence != 0 {
		t.Fatalf("expected empty utterance, got %+v", ev)
	}
}

func TestParseVoiceWebhookMalformed(t *testing.T) {
	cases := []struct {
		name   string
		target string
		body   string
	}{
		{name: "missing job", target: "/webhooks/twilio/voice", body: "CallSid=CA1"},
		{name: "missing call sid", target: "/webhooks/twilio/voice?job_id=j1", body: ""},
		{name: "bad confidence", target: "/webhooks/twilio/voice?job_id=j1&step=intro&seq=1", body: "CallSid=CA1&Confidence=high"},
		{name: "confidence out of range", target: "/webhooks/twilio/voice?job_id=j1&step=intro&seq=1", body: "CallSid=CA1&Confidence=1.5"},
		{name: "step without seq", target: "/webhooks/twilio/voice?job_id=j1&step=intro", body: "CallSid=CA1"},
		{name: "unknown step", target: "/webhooks/twilio/voice?job_id=j1&step=upsell&seq=4", body: "CallSid=CA1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseVoiceWebhook(formRequest(tc.target, tc.body)); !errors.Is(err, ErrMalformedWebhook) {
				t.Fatalf("expected ErrMalformedWebhook, got %v", err)
			}
		})
	}
}

func TestParseStatusWebhook(t *testing.T) {
	w, err := ParseStatusWebhook(formRequest("/webhooks/twilio/status?job_id=j1", "CallSid=CA1&CallStatus=No-Answer&CallDuration=0"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if w.CallStatus != CallStatusNoAnswer || !w.Terminal() {
		t.Fatalf("unexpected webhook: %+v", w)
	}

	w, err = ParseStatusWebhook(formRequest("/webhooks/twilio/status?job_id=j1", "CallSid=CA1&CallStatus=ringing"))
	if err != nil || w.Terminal() {
		t.Fatalf("ringing should parse as non-terminal: %+v %v", w, err)
	}

	if _, err := ParseStatusWebhook(formRequest("/webhooks/twilio/status?job_id=j1", "CallSid=CA1")); !errors.Is(err, ErrMalformedWebhook) {
		t.Fatalf("expected ErrMalformedWebhook, got %v", err)
	}
}

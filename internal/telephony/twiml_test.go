package telephony

import (
	"strings"
	"testing"

	"outbound-orchestrator/internal/conversation"
)

func TestRenderActionPrompt(t *testing.T) {
	a := conversation.NextAction{
		Kind:  conversation.ActionPrompt,
		Text:  "Is now a good time?",
		Token: conversation.StepToken{Step: conversation.StepIntro, Seq: 1},
	}
	xml, err := RenderAction(a, "https://calls.example.com/", "job-1", "en-GB")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`<Gather input="speech"`,
		`action="https://calls.example.com/webhooks/twilio/voice?job_id=job-1&amp;seq=1&amp;step=intro"`,
		`speechTimeout="auto"`,
		`speechModel="phone_call"`,
		`language="en-GB"`,
		`>Is now a good time?</Say>`,
		`<Redirect method="POST">https://calls.example.com/webhooks/twilio/voice?job_id=job-1&amp;seq=1&amp;step=intro</Redirect>`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Contains(xml, "<Hangup") {
		t.Fatalf("prompt must not hang up: %s", xml)
	}
}

func TestRenderActionHangup(t *testing.T) {
	xml, err := RenderAction(conversation.NextAction{Kind: conversation.ActionHangup, Text: "Goodbye."}, "", "job-1", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "<Say>Goodbye.</Say>") || !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("unexpected xml: %s", xml)
	}
}

func TestRenderActionPromptRequiresToken(t *testing.T) {
	_, err := RenderAction(conversation.NextAction{Kind: conversation.ActionPrompt, Text: "Hi"}, "", "job-1", "")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestGracefulHangup(t *testing.T) {
	xml := GracefulHangup("en-GB")
	if !strings.Contains(xml, "something went wrong on our side") || !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("unexpected xml: %s", xml)
	}
}

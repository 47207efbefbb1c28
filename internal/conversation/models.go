package conversation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"outbound-orchestrator/internal/personalization"
)

// Step is a position in the call script.
type Step string

const (
	StepIntro         Step = "intro"
	StepCaptureIntent Step = "capture_intent"
	StepConfirm       Step = "confirm"
	StepComplete      Step = "complete"
)

var script = []Step{StepIntro, StepCaptureIntent, StepConfirm, StepComplete}

func (s Step) index() int {
	for i, step := range script {
		if step == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool { return s.index() >= 0 }

// next returns the step after s. StepComplete has no successor.
func (s Step) next() Step {
	i := s.index()
	if i < 0 || i >= len(script)-1 {
		return StepComplete
	}
	return script[i+1]
}

// Outcome classifies how a conversation ended.
type Outcome string

const (
	OutcomeNone                   Outcome = ""
	OutcomeCompleted              Outcome = "completed"
	OutcomeAbandonedByCaller      Outcome = "abandoned_by_caller"
	OutcomeLowConfidenceExhausted Outcome = "low_confidence_exhausted"
	OutcomeProviderError          Outcome = "provider_error"
)

// State is the progress of one live call through the script.
//
// Seq increases on every saved change. Saves are conditioned on the previous
// Seq, and webhooks echo (Step, Seq) back so replays are detectable.
type State struct {
	JobID      string                        `json:"job_id"`
	CallID     string                        `json:"call_id,omitempty"`
	Variant    personalization.ScriptVariant `json:"variant"`
	Step       Step                          `json:"step"`
	Seq        int64                         `json:"seq"`
	RetryCount int                           `json:"retry_count_for_step"`
	Captured   map[Step]string               `json:"captured"`
	Outcome    Outcome                       `json:"outcome,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Captured = make(map[Step]string, len(s.Captured))
	for k, v := range s.Captured {
		out.Captured[k] = v
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}

func (s *State) Token() StepToken { return StepToken{Step: s.Step, Seq: s.Seq} }

func (s *State) Ended() bool { return s.Outcome != OutcomeNone }

// StepToken is echoed to the provider in the gather action URL and returned
// on the next speech webhook.
type StepToken struct {
	Step Step
	Seq  int64
}

func (t StepToken) IsZero() bool { return t.Step == "" && t.Seq == 0 }

func (t StepToken) String() string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s.%d", t.Step, t.Seq)
}

// ParseStepToken parses the "step.seq" form produced by String.
func ParseStepToken(raw string) (StepToken, error) {
	raw = strings.TrimSpace(raw)
	i := strings.LastIndexByte(raw, '.')
	if i <= 0 || i == len(raw)-1 {
		return StepToken{}, fmt.Errorf("conversation: malformed step token %q", raw)
	}
	step := Step(raw[:i])
	if !step.Valid() {
		return StepToken{}, fmt.Errorf("conversation: unknown step %q", step)
	}
	seq, err := strconv.ParseInt(raw[i+1:], 10, 64)
	if err != nil || seq <= 0 {
		return StepToken{}, fmt.Errorf("conversation: malformed step sequence %q", raw[i+1:])
	}
	return StepToken{Step: step, Seq: seq}, nil
}

// Event is an inbound provider signal for one call.
type Event interface{ isEvent() }

// CallStarted is delivered when the subject answers.
type CallStarted struct {
	CallID string
}

// SpeechCaptured carries one recognized utterance. Token is the step token the
// prompt was issued with.
type SpeechCaptured struct {
	CallID     string
	Text       string
	Confidence float64
	Token      StepToken
}

// CallEnded is delivered with the provider's terminal call status
// (completed, busy, no-answer, failed, canceled). CallID names the call that
// ended, which may be an earlier attempt's.
type CallEnded struct {
	CallID   string
	Reason   string
	Duration string
}

func (CallStarted) isEvent()    {}
func (SpeechCaptured) isEvent() {}
func (CallEnded) isEvent()      {}

type ActionKind string

const (
	ActionPrompt ActionKind = "prompt"
	ActionHangup ActionKind = "hangup"
)

// NextAction tells the telephony adapter what to play next.
type NextAction struct {
	Kind  ActionKind `json:"kind"`
	Text  string     `json:"text,omitempty"`
	Token StepToken  `json:"-"`

	// Replayed is set when the event was a duplicate and changed nothing.
	Replayed bool `json:"replayed,omitempty"`
}

func prompt(text string, tok StepToken) NextAction {
	return NextAction{Kind: ActionPrompt, Text: text, Token: tok}
}

func hangup(text string) NextAction {
	return NextAction{Kind: ActionHangup, Text: text}
}

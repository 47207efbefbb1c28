package conversation

import (
	"context"
	"errors"
	"testing"
)

func TestParseStepToken(t *testing.T) {
	cases := []struct {
		raw     string
		want    StepToken
		wantErr bool
	}{
		{raw: "intro.1", want: StepToken{Step: StepIntro, Seq: 1}},
		{raw: "capture_intent.12", want: StepToken{Step: StepCaptureIntent, Seq: 12}},
		{raw: "intro", wantErr: true},
		{raw: "intro.", wantErr: true},
		{raw: "intro.0", wantErr: true},
		{raw: "bogus.3", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseStepToken(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %+v, %v", tc.raw, got, err)
		}
		if got.String() != tc.raw {
			t.Fatalf("%q: String()=%q", tc.raw, got.String())
		}
	}
}

func TestPhrases(t *testing.T) {
	cases := []struct {
		text         string
		end, yes, no bool
	}{
		{text: "Sorry, I'm busy right now", end: true, yes: true},
		{text: "business development", end: false},
		{text: "Bye!", end: true},
		{text: "Yeah, sure.", yes: true},
		{text: "No, not really", no: true},
		{text: "yes no", yes: true},
		{text: "nobody", no: false},
	}
	for _, tc := range cases {
		if got := wantsToEnd(tc.text); got != tc.end {
			t.Fatalf("wantsToEnd(%q)=%v", tc.text, got)
		}
		if got := isYes(tc.text); got != tc.yes {
			t.Fatalf("isYes(%q)=%v", tc.text, got)
		}
		if got := isNo(tc.text); got != tc.no {
			t.Fatalf("isNo(%q)=%v", tc.text, got)
		}
	}
}

func TestMemoryStore_ConditionalSave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	st := &State{JobID: "j", Step: StepIntro, Seq: 1, Captured: map[Step]string{}}
	if err := s.Create(ctx, st); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, st); !errors.Is(err, ErrStateExists) {
		t.Fatalf("expected ErrStateExists, got %v", err)
	}

	next := st.Clone()
	next.Seq = 2
	next.Step = StepCaptureIntent
	if err := s.Save(ctx, next, 1); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, next, 1); !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
	if err := s.Archive(ctx, next); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := s.Get(ctx, "j"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestRedisStore_Keys(t *testing.T) {
	if _, err := NewRedisStore(nil, 0); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if got := liveKey("abc"); got != "outbound:conv:{abc}" {
		t.Fatalf("liveKey=%q", got)
	}
	if got := archiveKey("abc"); got != "outbound:conv:{abc}:archive" {
		t.Fatalf("archiveKey=%q", got)
	}
}

package transcript

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"outbound-orchestrator/pkg/utils"
)

func TestService_RecordValidates(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	if err := svc.Record(ctx, Turn{Seq: 1, Speaker: SpeakerCaller}); !errors.Is(err, ErrInvalidTurn) {
		t.Fatalf("expected job id required, got %v", err)
	}
	if err := svc.Record(ctx, Turn{JobID: "j", Seq: 1, Speaker: "robot"}); !errors.Is(err, ErrInvalidTurn) {
		t.Fatalf("expected speaker validation, got %v", err)
	}
	if err := svc.Record(ctx, Turn{JobID: "j", Speaker: SpeakerCaller}); !errors.Is(err, ErrInvalidTurn) {
		t.Fatalf("expected seq required, got %v", err)
	}
}

func TestService_ReplayedTurnIsNoop(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Unix(1700000000, 0) }
	ctx := context.Background()

	turns := []Turn{
		{JobID: "j", Seq: 1, Step: "intro", Speaker: SpeakerAssistant, Text: "Hi"},
		{JobID: "j", Seq: 1, Step: "intro", Speaker: SpeakerCaller, Text: "yes", Confidence: 0.9},
		{JobID: "j", Seq: 1, Step: "intro", Speaker: SpeakerCaller, Text: "yes", Confidence: 0.9},
		{JobID: "j", Seq: 2, Step: "capture_intent", Speaker: SpeakerAssistant, Text: "What role?"},
	}
	for _, turn := range turns {
		if err := svc.Record(ctx, turn); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := svc.List(ctx, "j")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	if got[0].Speaker != SpeakerAssistant || got[1].Speaker != SpeakerCaller || got[2].Seq != 2 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at filled")
	}
}

func TestSQLRepo_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := utils.OpenSQLite(ctx, filepath.Join(t.TempDir(), "turns.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	repo := NewSQLRepo(db, nil, "DATETIME")
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := NewService(repo)

	if err := svc.Record(ctx, Turn{JobID: "j", CallID: "CA1", Seq: 1, Step: "intro", Speaker: SpeakerAssistant, Text: "Hi"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.Record(ctx, Turn{JobID: "j", CallID: "CA1", Seq: 1, Step: "intro", Speaker: SpeakerAssistant, Text: "Hi"}); err != nil {
		t.Fatalf("replay should be swallowed: %v", err)
	}
	if err := repo.Append(ctx, Turn{ID: "dup", JobID: "j", Seq: 1, Step: "intro", Speaker: SpeakerAssistant, CreatedAt: time.Now()}); !errors.Is(err, ErrDuplicateTurn) {
		t.Fatalf("expected ErrDuplicateTurn from repo, got %v", err)
	}

	got, err := svc.List(ctx, "j")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].CallID != "CA1" || got[0].Text != "Hi" {
		t.Fatalf("unexpected turns: %+v", got)
	}
}

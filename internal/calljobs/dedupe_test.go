package calljobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDedupeKey_StableWithinWindow(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a := DedupeKey("user-1", "onboarding", time.Hour, base.Add(5*time.Minute))
	b := DedupeKey("user-1", "onboarding", time.Hour, base.Add(59*time.Minute))
	if a != b {
		t.Fatalf("expected same key within window: %s vs %s", a, b)
	}
	if a[:len("onboarding-")] != "onboarding-" {
		t.Fatalf("expected purpose prefix, got %s", a)
	}

	if DedupeKey("user-1", "onboarding", time.Hour, base.Add(61*time.Minute)) == a {
		t.Fatalf("expected new key in next window")
	}
	if DedupeKey("user-2", "onboarding", time.Hour, base) == a {
		t.Fatalf("expected different subject to differ")
	}
	if DedupeKey("user-1", "renewal", time.Hour, base) == a {
		t.Fatalf("expected different purpose to differ")
	}
}

func TestGuard_ReserveReportsLiveJob(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	g := NewGuard(store, clock.Now)
	ctx := context.Background()

	key, err := g.Reserve(ctx, "user-1", "onboarding", time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Insert(ctx, &Job{ID: "j1", DedupeKey: key, Status: StatusQueued, MaxAttempts: 3, Version: 1, CreatedAt: clock.Now()}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = g.Reserve(ctx, "user-1", "onboarding", time.Hour)
	var dup *DuplicateError
	if !errors.As(err, &dup) || dup.Existing.ID != "j1" {
		t.Fatalf("expected duplicate of j1, got %v", err)
	}
	if !errors.Is(err, ErrDuplicateActiveJob) {
		t.Fatalf("expected ErrDuplicateActiveJob in chain")
	}
}

func TestGuard_ExhaustedFailedJobDoesNotBlock(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	g := NewGuard(store, clock.Now)
	ctx := context.Background()

	key := DedupeKey("user-1", "onboarding", time.Hour, clock.Now())
	_ = store.Insert(ctx, &Job{ID: "j1", DedupeKey: key, Status: StatusFailed, AttemptCount: 3, MaxAttempts: 3, Version: 1, CreatedAt: clock.Now()})
	if _, err := g.Reserve(ctx, "user-1", "onboarding", time.Hour); err != nil {
		t.Fatalf("expected exhausted job not to block, got %v", err)
	}

	_ = store.Insert(ctx, &Job{ID: "j2", DedupeKey: key, Status: StatusFailed, AttemptCount: 1, MaxAttempts: 3, Version: 1, CreatedAt: clock.Now().Add(time.Second)})
	if _, err := g.Reserve(ctx, "user-1", "onboarding", time.Hour); !errors.Is(err, ErrDuplicateActiveJob) {
		t.Fatalf("expected retryable failed job to block, got %v", err)
	}
}

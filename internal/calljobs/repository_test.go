package calljobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"outbound-orchestrator/pkg/utils"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := utils.OpenSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := NewSQLStore(db, DialectSQLite)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ? WHERE id = ? AND v = ?`
	if got := DialectPostgres.Rebind(q); got != `UPDATE t SET a = $1 WHERE id = $2 AND v = $3` {
		t.Fatalf("unexpected postgres rebind: %s", got)
	}
	if got := DialectSQLite.Rebind(q); got != q {
		t.Fatalf("sqlite query should be unchanged: %s", got)
	}
}

func TestSQLStore_ActiveDedupeKeyIsUnique(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	j := &Job{ID: "j1", Purpose: "onboarding", PhoneNumber: "+1", DedupeKey: "k", Status: StatusQueued,
		MaxAttempts: 3, NextEligibleAt: now, Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := s.Insert(ctx, j); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := j.Clone()
	dup.ID = "j2"
	if err := s.Insert(ctx, dup); !errors.Is(err, ErrDuplicateActiveJob) {
		t.Fatalf("expected ErrDuplicateActiveJob, got %v", err)
	}

	// Terminal rows do not hold the key.
	done := j.Clone()
	done.ID = "j0"
	done.Status = StatusSucceeded
	if err := s.Insert(ctx, done); err != nil {
		t.Fatalf("insert terminal: %v", err)
	}
}

func TestSQLStore_CompareAndSwap(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	j := &Job{ID: "j1", SubjectID: "u1", Purpose: "onboarding", PhoneNumber: "+1", DedupeKey: "k", Status: StatusQueued,
		MaxAttempts: 3, NextEligibleAt: now, Artifacts: Artifacts{"signup_intent": "hirer"}, Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := s.Insert(ctx, j); err != nil {
		t.Fatalf("insert: %v", err)
	}

	next, err := j.advance(StatusRunning, now.Add(time.Second))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	exp := now.Add(2 * time.Minute)
	next.LeaseExpiresAt = &exp
	next.LeaseToken = "tok"
	if err := s.CompareAndSwap(ctx, expectOf(j), next); err != nil {
		t.Fatalf("cas: %v", err)
	}
	if err := s.CompareAndSwap(ctx, expectOf(j), next); !errors.Is(err, ErrLeaseConflict) {
		t.Fatalf("expected stale CAS to conflict, got %v", err)
	}

	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusRunning || got.Version != 2 || got.LeaseToken != "tok" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.LeaseExpiresAt == nil || !got.LeaseExpiresAt.Equal(exp) {
		t.Fatalf("unexpected lease expiry: %v", got.LeaseExpiresAt)
	}
	if got.SubjectID != "u1" || got.Artifacts["signup_intent"] != "hirer" {
		t.Fatalf("unexpected subject/artifacts: %+v", got)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLStore_ListEligibleAndStale(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mk := func(id string, st Status, eligible time.Time) *Job {
		return &Job{ID: id, Purpose: "p", PhoneNumber: "+1", DedupeKey: "k-" + id, Status: st,
			MaxAttempts: 3, NextEligibleAt: eligible, Version: 1, CreatedAt: now, UpdatedAt: now}
	}
	for _, j := range []*Job{
		mk("late", StatusQueued, now.Add(-time.Minute)),
		mk("early", StatusQueued, now.Add(-time.Hour)),
		mk("future", StatusQueued, now.Add(time.Hour)),
		mk("failed", StatusFailed, now.Add(-2*time.Hour)),
	} {
		if err := s.Insert(ctx, j); err != nil {
			t.Fatalf("insert %s: %v", j.ID, err)
		}
	}

	got, err := s.ListEligible(ctx, now, 10)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(got) != 2 || got[0].ID != "early" || got[1].ID != "late" {
		t.Fatalf("expected [early late], got %v", ids(got))
	}
	if got, _ := s.ListEligible(ctx, now, 1); len(got) != 1 {
		t.Fatalf("expected limit to apply")
	}

	expired := now.Add(-time.Second)
	stale := mk("stale", StatusRunning, now)
	stale.LeaseExpiresAt = &expired
	fresh := mk("fresh", StatusRunning, now)
	future := now.Add(time.Minute)
	fresh.LeaseExpiresAt = &future
	acked := mk("acked", StatusRunning, now)
	acked.LeaseExpiresAt = &expired
	acked.ProviderCallID = "CA1"
	acked.CallDeadline = &future
	for _, j := range []*Job{stale, fresh, acked} {
		if err := s.Insert(ctx, j); err != nil {
			t.Fatalf("insert %s: %v", j.ID, err)
		}
	}
	got, err = s.ListStale(ctx, now, 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(got) != 1 || got[0].ID != "stale" {
		t.Fatalf("expected [stale], got %v", ids(got))
	}

	byCall, err := s.FindByProviderCallID(ctx, "CA1")
	if err != nil || byCall.ID != "acked" {
		t.Fatalf("expected acked by call id, got %v %v", byCall, err)
	}
	failed, err := s.ListFailed(ctx, 10)
	if err != nil || len(failed) != 1 || failed[0].ID != "failed" {
		t.Fatalf("expected [failed], got %v %v", ids(failed), err)
	}
}

func TestSQLStore_ServiceScenario(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(newSQLiteStore(t), clock)
	ctx := context.Background()

	first := enqueueOne(t, svc)
	res, err := svc.Enqueue(ctx, EnqueueRequest{SubjectID: "user-1", Purpose: "onboarding", PhoneNumber: "+447700900123"})
	if err != nil || !res.Deduplicated || res.Job.ID != first.ID {
		t.Fatalf("expected dedupe against %s, got %+v %v", first.ID, res, err)
	}

	leased, err := svc.Claim(ctx, first, "d")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	failed, err := svc.Fail(ctx, leased, "provider error")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.AttemptCount != 1 || !failed.NextEligibleAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected failed job: %+v", failed)
	}
	rep, err := svc.Promote(ctx, 10)
	if err != nil || len(rep.Requeued) != 1 {
		t.Fatalf("expected requeue, got %+v %v", rep, err)
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

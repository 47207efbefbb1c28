package calljobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outbound-orchestrator/internal/backoff"
)

func newTestService(store Store, clock *fakeClock) *Service {
	return NewService(store, Config{
		MaxAttempts:  3,
		LeaseTTL:     2 * time.Minute,
		CallCeiling:  30 * time.Minute,
		DedupeWindow: time.Hour,
		Backoff:      backoff.NewExponential(time.Minute, time.Hour),
		Now:          clock.Now,
	})
}

func enqueueOne(t *testing.T, svc *Service) *Job {
	t.Helper()
	res, err := svc.Enqueue(context.Background(), EnqueueRequest{
		SubjectID:   "user-1",
		Purpose:     "onboarding",
		PhoneNumber: "+447700900123",
		Artifacts:   Artifacts{"signup_intent": "talent"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return res.Job
}

func TestEnqueue_DeduplicatesWithinWindow(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	svc := newTestService(store, clock)
	ctx := context.Background()

	first := enqueueOne(t, svc)
	if first.Status != StatusQueued || first.AttemptCount != 0 || first.MaxAttempts != 3 {
		t.Fatalf("unexpected job: %+v", first)
	}

	clock.Advance(time.Minute)
	res, err := svc.Enqueue(ctx, EnqueueRequest{SubjectID: "user-1", Purpose: "onboarding", PhoneNumber: "+447700900123"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !res.Deduplicated || res.Job.ID != first.ID {
		t.Fatalf("expected deduplicated result for %s, got %+v", first.ID, res)
	}
	if n := len(store.Jobs()); n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
}

func TestEnqueue_RequiresPurposeAndPhone(t *testing.T) {
	svc := newTestService(NewMemoryStore(), newFakeClock())
	_, err := svc.Enqueue(context.Background(), EnqueueRequest{SubjectID: "u"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEnqueue_ConcurrentSingleWinner(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	svc := newTestService(store, clock)

	const n = 32
	var wg sync.WaitGroup
	results := make([]EnqueueResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Enqueue(context.Background(), EnqueueRequest{
				SubjectID: "user-7", Purpose: "onboarding", PhoneNumber: "+15550001111",
			})
		}(i)
	}
	wg.Wait()

	created := 0
	var winner string
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("enqueue %d: %v", i, errs[i])
		}
		if !results[i].Deduplicated {
			created++
			winner = results[i].Job.ID
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one created job, got %d", created)
	}
	for i := range results {
		if results[i].Job.ID != winner {
			t.Fatalf("result %d points at %s, expected %s", i, results[i].Job.ID, winner)
		}
	}
	if len(store.Jobs()) != 1 {
		t.Fatalf("expected one stored job")
	}
}

func TestClaim_SecondClaimConflicts(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()
	j := enqueueOne(t, svc)

	leased, err := svc.Claim(ctx, j, "dispatcher-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if leased.Status != StatusRunning || leased.LeaseOwner != "dispatcher-a" || leased.LeaseToken == "" {
		t.Fatalf("unexpected leased job: %+v", leased)
	}
	if want := clock.Now().Add(2 * time.Minute); !leased.LeaseExpiresAt.Equal(want) {
		t.Fatalf("expected lease expiry %v, got %v", want, leased.LeaseExpiresAt)
	}

	// A second dispatcher holding the same stale snapshot must lose.
	if _, err := svc.Claim(ctx, j, "dispatcher-b"); !errors.Is(err, ErrLeaseConflict) {
		t.Fatalf("expected ErrLeaseConflict, got %v", err)
	}
}

func TestFailPromoteAbandon_BackoffMonotonic(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	svc := newTestService(store, clock)
	ctx := context.Background()
	j := enqueueOne(t, svc)

	var lastEligible time.Time
	for attempt := 1; attempt <= 3; attempt++ {
		eligible, err := svc.Eligible(ctx, 10)
		if err != nil || len(eligible) != 1 {
			t.Fatalf("attempt %d: expected one eligible job, got %d (%v)", attempt, len(eligible), err)
		}
		leased, err := svc.Claim(ctx, eligible[0], "d")
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		failed, err := svc.Fail(ctx, leased, "provider down")
		if err != nil {
			t.Fatalf("fail: %v", err)
		}
		if failed.Status != StatusFailed || failed.AttemptCount != attempt {
			t.Fatalf("attempt %d: unexpected job %+v", attempt, failed)
		}
		wantDelay := time.Minute << (attempt - 1)
		if want := clock.Now().Add(wantDelay); !failed.NextEligibleAt.Equal(want) {
			t.Fatalf("attempt %d: expected next eligible %v, got %v", attempt, want, failed.NextEligibleAt)
		}
		if !failed.NextEligibleAt.After(lastEligible) {
			t.Fatalf("attempt %d: next_eligible_at did not increase", attempt)
		}
		lastEligible = failed.NextEligibleAt

		rep, err := svc.Promote(ctx, 10)
		if err != nil {
			t.Fatalf("promote: %v", err)
		}
		if attempt < 3 {
			if len(rep.Requeued) != 1 || len(rep.Abandoned) != 0 {
				t.Fatalf("attempt %d: expected requeue, got %+v", attempt, rep)
			}
			if again, _ := svc.Promote(ctx, 10); len(again.Requeued) != 0 {
				t.Fatalf("expected exactly one requeue per failure")
			}
			// Not eligible until backoff passes.
			if early, _ := svc.Eligible(ctx, 10); len(early) != 0 {
				t.Fatalf("job eligible before backoff elapsed")
			}
			clock.Set(failed.NextEligibleAt)
			continue
		}
		if len(rep.Abandoned) != 1 {
			t.Fatalf("expected abandonment at max attempts, got %+v", rep)
		}
	}

	final, err := svc.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", final.Status)
	}
	clock.Advance(24 * time.Hour)
	if rep, _ := svc.Promote(ctx, 10); len(rep.Requeued)+len(rep.Abandoned) != 0 {
		t.Fatalf("abandoned job must not transition again: %+v", rep)
	}
	if eligible, _ := svc.Eligible(ctx, 10); len(eligible) != 0 {
		t.Fatalf("abandoned job must not be eligible")
	}
}

func TestFinish_IdempotentOnReplay(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()
	j := enqueueOne(t, svc)
	leased, _ := svc.Claim(ctx, j, "d")
	if _, err := svc.RecordDispatch(ctx, leased, "CA123", Artifacts{"script_variant": "talent"}); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}

	got, applied, err := svc.Finish(ctx, j.ID, "CA123", true, "", Artifacts{"outcome": "completed"})
	if err != nil || !applied {
		t.Fatalf("finish: applied=%v err=%v", applied, err)
	}
	if got.Status != StatusSucceeded || got.Artifacts["outcome"] != "completed" || got.Artifacts[ArtifactProviderCallID] != "CA123" {
		t.Fatalf("unexpected finished job: %+v", got)
	}
	if got.LeaseToken != "" || got.CallDeadline != nil {
		t.Fatalf("expected lease cleared")
	}

	again, applied, err := svc.Finish(ctx, j.ID, "CA123", false, "busy", nil)
	if err != nil || applied {
		t.Fatalf("expected replay to be a no-op, applied=%v err=%v", applied, err)
	}
	if again.Status != StatusSucceeded {
		t.Fatalf("replay changed status to %s", again.Status)
	}
}

func TestFinish_IgnoresSupersededCall(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(NewMemoryStore(), clock)
	ctx := context.Background()
	j := enqueueOne(t, svc)
	leased, _ := svc.Claim(ctx, j, "d")
	if _, err := svc.RecordDispatch(ctx, leased, "CA2", nil); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}

	got, applied, err := svc.Finish(ctx, j.ID, "CA1", false, "provider: call completed", nil)
	if err != nil || applied {
		t.Fatalf("expected late webhook to be a no-op, applied=%v err=%v", applied, err)
	}
	if got.Status != StatusRunning || got.ProviderCallID != "CA2" || got.AttemptCount != 0 {
		t.Fatalf("late webhook changed the job: %+v", got)
	}

	if _, applied, _ := svc.Annotate(ctx, j.ID, "CA1", Artifacts{ArtifactCallStatus: "ringing"}); applied {
		t.Fatalf("expected annotate from old call to be dropped")
	}
	got, applied, err = svc.Annotate(ctx, j.ID, "CA2", Artifacts{ArtifactCallStatus: "in-progress"})
	if err != nil || !applied || got.Artifacts[ArtifactCallStatus] != "in-progress" {
		t.Fatalf("annotate current call: applied=%v err=%v job=%+v", applied, err, got)
	}

	got, applied, err = svc.Finish(ctx, j.ID, "CA2", true, "", nil)
	if err != nil || !applied || got.Status != StatusSucceeded {
		t.Fatalf("finish current call: applied=%v err=%v job=%+v", applied, err, got)
	}
}

func TestExpireStale(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	svc := newTestService(store, clock)
	ctx := context.Background()

	// Job A: leased but never acknowledged by the provider.
	a := enqueueOne(t, svc)
	leasedA, _ := svc.Claim(ctx, a, "crashed")

	// Job B: acknowledged, waiting on a terminal webhook.
	resB, _ := svc.Enqueue(ctx, EnqueueRequest{SubjectID: "user-2", Purpose: "onboarding", PhoneNumber: "+15550002222"})
	leasedB, _ := svc.Claim(ctx, resB.Job, "d")
	if _, err := svc.RecordDispatch(ctx, leasedB, "CA-B", nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	clock.Advance(time.Minute)
	if got, _ := svc.ExpireStale(ctx, 10); len(got) != 0 {
		t.Fatalf("nothing should be stale yet")
	}

	clock.Advance(2 * time.Minute)
	got, err := svc.ExpireStale(ctx, 10)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(got) != 1 || got[0].ID != leasedA.ID || got[0].Status != StatusFailed || got[0].AttemptCount != 1 {
		t.Fatalf("expected only lease-expired job A failed, got %+v", got)
	}

	clock.Advance(30 * time.Minute)
	got, err = svc.ExpireStale(ctx, 10)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(got) != 1 || got[0].ID != leasedB.ID {
		t.Fatalf("expected job B swept after call ceiling, got %+v", got)
	}
}

func TestPromote_SupersededJobIsAbandoned(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	svc := newTestService(store, clock)
	ctx := context.Background()

	old := enqueueOne(t, svc)
	leased, _ := svc.Claim(ctx, old, "d")
	if _, err := svc.Fail(ctx, leased, "no-answer"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	// Simulate a concurrent writer that slipped a new active job in for the same key.
	_ = store.Insert(ctx, &Job{ID: "newer", DedupeKey: old.DedupeKey, Status: StatusQueued, MaxAttempts: 3, Version: 1, CreatedAt: clock.Now()})

	rep, err := svc.Promote(ctx, 10)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(rep.Abandoned) != 1 || rep.Abandoned[0] != old.ID {
		t.Fatalf("expected old job abandoned, got %+v", rep)
	}
}

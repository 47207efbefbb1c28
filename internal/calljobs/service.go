package calljobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"outbound-orchestrator/internal/backoff"

	"github.com/google/uuid"
)

// Config controls retry and lease policy for the job lifecycle.
type Config struct {
	MaxAttempts  int
	LeaseTTL     time.Duration
	CallCeiling  time.Duration
	DedupeWindow time.Duration
	Backoff      backoff.Strategy

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.LeaseTTL <= 0 {
		out.LeaseTTL = 2 * time.Minute
	}
	if out.CallCeiling <= 0 {
		out.CallCeiling = 30 * time.Minute
	}
	if out.DedupeWindow <= 0 {
		out.DedupeWindow = time.Hour
	}
	if out.Backoff == nil {
		out.Backoff = backoff.NewExponential(time.Minute, time.Hour)
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Service owns every CallJob transition. The dispatcher and webhook handlers
// mutate jobs only through it, and every write is a conditional update.
type Service struct {
	store Store
	guard *Guard
	cfg   Config
}

func NewService(store Store, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{store: store, guard: NewGuard(store, cfg.Now), cfg: cfg}
}

func (s *Service) now() time.Time { return s.cfg.Now().UTC() }

type EnqueueRequest struct {
	// SubjectID may be empty for manual calls; the phone number then scopes dedupe.
	SubjectID   string    `json:"subject_id,omitempty"`
	Purpose     string    `json:"purpose"`
	PhoneNumber string    `json:"phone_number"`
	Artifacts   Artifacts `json:"artifacts,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
}

type EnqueueResult struct {
	Job          *Job `json:"job"`
	Deduplicated bool `json:"deduplicated"`
}

// Enqueue creates a queued job unless a live job already holds the dedupe key,
// in which case the existing job is returned with Deduplicated set.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	req.Purpose = strings.TrimSpace(req.Purpose)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.Purpose == "" || req.PhoneNumber == "" {
		return EnqueueResult{}, fmt.Errorf("%w: purpose and phone_number are required", ErrInvalidArgument)
	}
	if req.MaxAttempts < 0 {
		return EnqueueResult{}, fmt.Errorf("%w: max_attempts must be >= 0", ErrInvalidArgument)
	}

	subject := strings.TrimSpace(req.SubjectID)
	if subject == "" {
		subject = req.PhoneNumber
	}
	key, err := s.guard.Reserve(ctx, subject, req.Purpose, s.cfg.DedupeWindow)
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return EnqueueResult{Job: dup.Existing, Deduplicated: true}, nil
	}
	if err != nil {
		return EnqueueResult{}, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	now := s.now()
	j := &Job{
		ID:             uuid.NewString(),
		SubjectID:      strings.TrimSpace(req.SubjectID),
		Purpose:        req.Purpose,
		PhoneNumber:    req.PhoneNumber,
		DedupeKey:      key,
		Status:         StatusQueued,
		MaxAttempts:    maxAttempts,
		NextEligibleAt: now,
		Artifacts:      req.Artifacts.Clone(),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Insert(ctx, j); err != nil {
		if !errors.Is(err, ErrDuplicateActiveJob) {
			return EnqueueResult{}, err
		}
		// Lost the insert race; the winner is the live job.
		existing, ferr := s.store.FindLive(ctx, key)
		if ferr != nil {
			return EnqueueResult{}, fmt.Errorf("calljobs: load winning job for %s: %w", key, ferr)
		}
		return EnqueueResult{Job: existing, Deduplicated: true}, nil
	}
	return EnqueueResult{Job: j}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ByProviderCallID(ctx context.Context, callID string) (*Job, error) {
	return s.store.FindByProviderCallID(ctx, callID)
}

// Created lists jobs created in [from, to) for reporting.
func (s *Service) Created(ctx context.Context, from, to time.Time, purpose string, limit int) ([]*Job, error) {
	if !to.After(from) || limit <= 0 {
		return nil, fmt.Errorf("%w: range and limit required", ErrInvalidArgument)
	}
	return s.store.ListCreated(ctx, from, to, purpose, limit)
}

// Eligible lists queued jobs ready to dial, oldest eligible first.
func (s *Service) Eligible(ctx context.Context, limit int) ([]*Job, error) {
	return s.store.ListEligible(ctx, s.now(), limit)
}

// Claim leases a queued job to owner. ErrLeaseConflict means another dispatcher won.
func (s *Service) Claim(ctx context.Context, j *Job, owner string) (*Job, error) {
	now := s.now()
	if j.Status != StatusQueued || j.NextEligibleAt.After(now) {
		return nil, ErrLeaseConflict
	}
	next, err := j.advance(StatusRunning, now)
	if err != nil {
		return nil, err
	}
	next.clearLease()
	next.LeaseOwner = owner
	next.LeaseToken = uuid.NewString()
	exp := now.Add(s.cfg.LeaseTTL)
	next.LeaseExpiresAt = &exp
	next.ProviderCallID = ""
	next.LastError = ""
	if err := s.store.CompareAndSwap(ctx, expectOf(j), next); err != nil {
		return nil, err
	}
	return next, nil
}

// RecordDispatch stores the provider acknowledgment on a leased job and arms
// the call ceiling. The job stays running until a terminal webhook arrives.
func (s *Service) RecordDispatch(ctx context.Context, j *Job, providerCallID string, artifacts Artifacts) (*Job, error) {
	if j.Status != StatusRunning {
		return nil, fmt.Errorf("%w: record dispatch on %s job", ErrInvalidTransition, j.Status)
	}
	now := s.now()
	next := j.touch(now)
	next.ProviderCallID = providerCallID
	deadline := now.Add(s.cfg.CallCeiling)
	next.CallDeadline = &deadline
	next.Artifacts = next.Artifacts.Merge(artifacts).Merge(Artifacts{
		ArtifactProviderCallID:  providerCallID,
		ArtifactCallInitiatedAt: now.Format(time.RFC3339),
	})
	if err := s.store.CompareAndSwap(ctx, expectOf(j), next); err != nil {
		return nil, err
	}
	return next, nil
}

// Fail moves a running job to failed, counts the attempt and schedules backoff.
func (s *Service) Fail(ctx context.Context, j *Job, reason string) (*Job, error) {
	next, err := s.failed(j, s.now(), reason)
	if err != nil {
		return nil, err
	}
	if err := s.store.CompareAndSwap(ctx, expectOf(j), next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Service) failed(j *Job, now time.Time, reason string) (*Job, error) {
	next, err := j.advance(StatusFailed, now)
	if err != nil {
		return nil, err
	}
	next.clearLease()
	next.AttemptCount++
	next.NextEligibleAt = now.Add(s.cfg.Backoff.Delay(next.AttemptCount))
	next.LastError = reason
	return next, nil
}

// Finish resolves a running job from a terminal webhook for callID. It reloads
// and retries on conflicting writes. A job that is no longer running, or whose
// current attempt is a different call, is returned unchanged with
// applied=false, so replayed and late webhooks are no-ops.
func (s *Service) Finish(ctx context.Context, id, callID string, success bool, reason string, artifacts Artifacts) (*Job, bool, error) {
	return s.mutate(ctx, id, func(j *Job, now time.Time) (*Job, error) {
		if j.Status != StatusRunning || !j.OwnsCall(callID) {
			return nil, nil
		}
		var (
			next *Job
			err  error
		)
		if success {
			next, err = j.advance(StatusSucceeded, now)
			if err != nil {
				return nil, err
			}
			next.clearLease()
			next.LastError = ""
		} else {
			next, err = s.failed(j, now, reason)
			if err != nil {
				return nil, err
			}
		}
		next.Artifacts = next.Artifacts.Merge(artifacts)
		return next, nil
	})
}

// Annotate merges artifacts into a running job without changing its status.
// Progress from a call other than the current attempt's is dropped.
func (s *Service) Annotate(ctx context.Context, id, callID string, artifacts Artifacts) (*Job, bool, error) {
	return s.mutate(ctx, id, func(j *Job, now time.Time) (*Job, error) {
		if j.Status != StatusRunning || len(artifacts) == 0 || !j.OwnsCall(callID) {
			return nil, nil
		}
		next := j.touch(now)
		next.Artifacts = next.Artifacts.Merge(artifacts)
		return next, nil
	})
}

const maxMutateAttempts = 5

func (s *Service) mutate(ctx context.Context, id string, fn func(j *Job, now time.Time) (*Job, error)) (*Job, bool, error) {
	for i := 0; i < maxMutateAttempts; i++ {
		j, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		next, err := fn(j, s.now())
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			return j, false, nil
		}
		err = s.store.CompareAndSwap(ctx, expectOf(j), next)
		if errors.Is(err, ErrLeaseConflict) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	}
	return nil, false, ErrLeaseConflict
}

type PromoteReport struct {
	Requeued  []string `json:"requeued"`
	Abandoned []string `json:"abandoned"`
}

// Promote moves failed jobs back to queued while attempts remain, and to
// abandoned once attempt_count reaches max_attempts.
func (s *Service) Promote(ctx context.Context, limit int) (PromoteReport, error) {
	var rep PromoteReport
	failed, err := s.store.ListFailed(ctx, limit)
	if err != nil {
		return rep, err
	}
	for _, j := range failed {
		now := s.now()
		if j.AttemptCount >= j.MaxAttempts {
			if err := s.abandon(ctx, j, now, ErrAttemptsExhausted.Error()); err == nil {
				rep.Abandoned = append(rep.Abandoned, j.ID)
			} else if !errors.Is(err, ErrLeaseConflict) {
				return rep, err
			}
			continue
		}

		next, err := j.advance(StatusQueued, now)
		if err != nil {
			return rep, err
		}
		err = s.store.CompareAndSwap(ctx, expectOf(j), next)
		switch {
		case err == nil:
			rep.Requeued = append(rep.Requeued, j.ID)
		case errors.Is(err, ErrLeaseConflict):
		case errors.Is(err, ErrDuplicateActiveJob):
			// A newer job for the same key went live while this one waited out its backoff.
			if err := s.abandon(ctx, j, now, "superseded by a newer job for the same dedupe key"); err == nil {
				rep.Abandoned = append(rep.Abandoned, j.ID)
			} else if !errors.Is(err, ErrLeaseConflict) {
				return rep, err
			}
		default:
			return rep, err
		}
	}
	return rep, nil
}

func (s *Service) abandon(ctx context.Context, j *Job, now time.Time, reason string) error {
	next, err := j.advance(StatusAbandoned, now)
	if err != nil {
		return err
	}
	if j.LastError != "" && reason != j.LastError {
		reason = reason + ": " + j.LastError
	}
	next.LastError = reason
	return s.store.CompareAndSwap(ctx, expectOf(j), next)
}

// ExpireStale fails running jobs whose lease expired without a provider
// acknowledgment, or whose call passed the ceiling without a terminal webhook.
func (s *Service) ExpireStale(ctx context.Context, limit int) ([]*Job, error) {
	stale, err := s.store.ListStale(ctx, s.now(), limit)
	if err != nil {
		return nil, err
	}
	var out []*Job
	for _, j := range stale {
		reason := "lease expired before provider acknowledged the call"
		if j.ProviderCallID != "" {
			reason = "no terminal status within call ceiling"
		}
		next, err := s.Fail(ctx, j, reason)
		if errors.Is(err, ErrLeaseConflict) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, next)
	}
	return out, nil
}

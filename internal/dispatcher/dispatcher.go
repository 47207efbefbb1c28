package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"outbound-orchestrator/internal/calljobs"
	"outbound-orchestrator/internal/personalization"
	"outbound-orchestrator/internal/telephony"

	"github.com/google/uuid"
)

// Slots caps live outbound calls. Optional.
type Slots interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Conversations drops live conversation state for jobs reconciliation gave
// up on. Optional.
type Conversations interface {
	Discard(ctx context.Context, jobID string) error
}

const ArtifactScriptVariant = "script_variant"

type Config struct {
	// Owner identifies this instance in lease_owner. Defaults to a random id.
	Owner string

	// PublicBaseURL is where the provider reaches our webhooks.
	PublicBaseURL string

	// SlotKey names the concurrency pool shared with the conversation engine.
	SlotKey string

	// ReconcileLimit bounds each reconciliation pass.
	ReconcileLimit int
}

// Dispatcher sweeps eligible CallJobs and places calls.
//
// A sweep never waits for a call to finish. Per-job failures become
// ProcessingOutcome values in the report; only store reads can fail RunOnce.
type Dispatcher struct {
	Conversations Conversations

	jobs     *calljobs.Service
	provider telephony.Caller
	slots    Slots
	cfg      Config
	log      *slog.Logger
}

func New(jobs *calljobs.Service, provider telephony.Caller, slots Slots, cfg Config, log *slog.Logger) (*Dispatcher, error) {
	if jobs == nil || provider == nil {
		return nil, errors.New("dispatcher: jobs and provider are required")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, errors.New("dispatcher: public base url is required")
	}
	if cfg.Owner == "" {
		cfg.Owner = "dispatcher-" + uuid.NewString()[:8]
	}
	if cfg.ReconcileLimit <= 0 {
		cfg.ReconcileLimit = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		jobs:     jobs,
		provider: provider,
		slots:    slots,
		cfg:      cfg,
		log:      log.With("dispatcher", cfg.Owner),
	}, nil
}

// RunOnce promotes retry-ready failed jobs, then claims and dials up to limit
// eligible jobs, oldest eligible first.
func (d *Dispatcher) RunOnce(ctx context.Context, limit int) (Report, error) {
	var rep Report
	if limit <= 0 {
		return rep, fmt.Errorf("dispatcher: limit must be > 0")
	}

	promoted, err := d.jobs.Promote(ctx, d.cfg.ReconcileLimit)
	if err != nil {
		return rep, fmt.Errorf("dispatcher: promote: %w", err)
	}
	rep.Requeued = len(promoted.Requeued)
	rep.Abandoned = len(promoted.Abandoned)
	for _, id := range promoted.Abandoned {
		d.log.Warn("call job abandoned", "job_id", id)
	}

	eligible, err := d.jobs.Eligible(ctx, limit)
	if err != nil {
		return rep, fmt.Errorf("dispatcher: list eligible: %w", err)
	}
	for _, j := range eligible {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.add(d.process(ctx, j))
	}
	return rep, nil
}

func (d *Dispatcher) process(ctx context.Context, j *calljobs.Job) ProcessingOutcome {
	out := ProcessingOutcome{JobID: j.ID}
	log := d.log.With("job_id", j.ID, "purpose", j.Purpose)

	if d.slots != nil {
		ok, err := d.slots.Acquire(ctx, d.cfg.SlotKey)
		if err != nil {
			// Fail open on the cap; Redis trouble should not stop calling.
			log.Warn("call slot acquire failed", "err", err)
		} else if !ok {
			out.Kind = OutcomeThrottled
			return out
		}
	}

	claimed, err := d.jobs.Claim(ctx, j, d.cfg.Owner)
	if err != nil {
		d.release(ctx, log)
		if errors.Is(err, calljobs.ErrLeaseConflict) {
			out.Kind = OutcomeLeaseConflict
			return out
		}
		log.Error("claim failed", "err", err)
		out.Kind, out.Error = OutcomeStoreError, err.Error()
		return out
	}

	variant := personalization.Resolve(claimed.Artifacts)
	out.Variant = variant.Name

	res, err := d.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		JobID:             claimed.ID,
		To:                claimed.PhoneNumber,
		AnswerURL:         telephony.AnswerURL(d.cfg.PublicBaseURL, claimed.ID),
		StatusCallbackURL: telephony.StatusCallbackURL(d.cfg.PublicBaseURL, claimed.ID),
	})
	if err != nil {
		d.release(ctx, log)
		out.Kind, out.Error = OutcomeProviderError, err.Error()
		failed, ferr := d.jobs.Fail(ctx, claimed, err.Error())
		if ferr != nil {
			// The lease expiry sweep will fail the job instead.
			log.Error("recording provider failure failed", "err", ferr, "provider_err", err)
			return out
		}
		log.Warn("place call failed", "err", err, "attempt", failed.AttemptCount, "next_eligible_at", failed.NextEligibleAt)
		return out
	}

	out.ProviderCallID = res.ProviderCallID
	if _, err := d.jobs.RecordDispatch(ctx, claimed, res.ProviderCallID, calljobs.Artifacts{
		ArtifactScriptVariant: variant.Name,
	}); err != nil {
		// The call is live. Webhooks still resolve the job; without a provider id
		// the lease expiry would fail it, so surface this loudly.
		log.Error("recording dispatch failed", "err", err, "call_sid", res.ProviderCallID)
		out.Kind, out.Error = OutcomeStoreError, err.Error()
		return out
	}

	log.Info("call placed", "call_sid", res.ProviderCallID, "variant", variant.Name, "provider", d.provider.Name())
	out.Kind = OutcomeDispatched
	return out
}

// Reconcile fails stale running jobs and promotes failed jobs. It is the sweep
// that keeps a lost webhook from leaving a job running forever.
func (d *Dispatcher) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	expired, err := d.jobs.ExpireStale(ctx, d.cfg.ReconcileLimit)
	for _, j := range expired {
		rep.Expired = append(rep.Expired, j.ID)
		d.log.Warn("stale call job failed", "job_id", j.ID, "reason", j.LastError)
		if j.ProviderCallID == "" {
			continue
		}
		log := d.log.With("job_id", j.ID, "call_sid", j.ProviderCallID)
		d.release(ctx, log)
		if d.Conversations != nil {
			if err := d.Conversations.Discard(ctx, j.ID); err != nil {
				log.Warn("conversation discard failed", "err", err)
			}
		}
	}
	if err != nil {
		return rep, fmt.Errorf("dispatcher: expire stale: %w", err)
	}

	promoted, err := d.jobs.Promote(ctx, d.cfg.ReconcileLimit)
	if err != nil {
		return rep, fmt.Errorf("dispatcher: promote: %w", err)
	}
	rep.Requeued, rep.Abandoned = promoted.Requeued, promoted.Abandoned
	return rep, nil
}

func (d *Dispatcher) release(ctx context.Context, log *slog.Logger) {
	if d.slots == nil {
		return
	}
	if err := d.slots.Release(ctx, d.cfg.SlotKey); err != nil {
		log.Warn("call slot release failed", "err", err)
	}
}

type RunOptions struct {
	Limit    int
	Interval time.Duration

	// Sleep waits between empty sweeps. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run sweeps until ctx is done. Busy sweeps run back to back; an empty sweep
// or a sweep error waits Interval before the next one.
func (d *Dispatcher) Run(ctx context.Context, opts RunOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		rep, err := d.RunOnce(ctx, opts.Limit)
		if err != nil && ctx.Err() == nil {
			d.log.Error("dispatcher sweep failed", "err", err)
		}
		if rep.Attempted > 0 {
			d.log.Info("dispatcher sweep",
				"attempted", rep.Attempted,
				"succeeded_immediately", rep.SucceededImmediately,
				"failed_immediately", rep.FailedImmediately,
			)
		}
		if err == nil && rep.Attempted > 0 {
			continue
		}
		if err := opts.Sleep(ctx, opts.Interval); err != nil {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

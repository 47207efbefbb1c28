package calljobs

import (
	"context"
	"time"
)

// Store is the persistence contract for call jobs.
//
// Rules:
// - At most one row per dedupe_key may hold an active status (queued, running);
//   violations surface as ErrDuplicateActiveJob.
// - CompareAndSwap writes next only if the row still matches expect, otherwise
//   it returns ErrLeaseConflict. There is no unconditional update.
// - Reads return copies; callers own them.
type Store interface {
	Insert(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// FindLive returns the newest queued, running or failed job for a dedupe key.
	FindLive(ctx context.Context, dedupeKey string) (*Job, error)
	FindByProviderCallID(ctx context.Context, callID string) (*Job, error)

	// ListEligible returns queued jobs with next_eligible_at <= now, oldest eligible first.
	ListEligible(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// ListFailed returns failed jobs awaiting requeue or abandonment.
	ListFailed(ctx context.Context, limit int) ([]*Job, error)
	// ListStale returns running jobs whose lease expired before the provider
	// acknowledged the call, or whose call outlived its deadline.
	ListStale(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// ListCreated returns jobs created in [from, to), optionally for one purpose, oldest first.
	ListCreated(ctx context.Context, from, to time.Time, purpose string, limit int) ([]*Job, error)

	CompareAndSwap(ctx context.Context, expect Expectation, next *Job) error
}

package dispatcher

// OutcomeKind tags how one job fared in a sweep.
type OutcomeKind string

const (
	// OutcomeDispatched: the provider accepted the call; the job stays running.
	OutcomeDispatched OutcomeKind = "dispatched"
	// OutcomeProviderError: placing the call failed; the job is failed with backoff.
	OutcomeProviderError OutcomeKind = "provider_error"
	// OutcomeLeaseConflict: another dispatcher claimed the job first.
	OutcomeLeaseConflict OutcomeKind = "lease_conflict"
	// OutcomeThrottled: the concurrency cap is reached; the job stays queued.
	OutcomeThrottled OutcomeKind = "throttled"
	// OutcomeStoreError: a store write failed; the lease expiry will recover the job.
	OutcomeStoreError OutcomeKind = "store_error"
)

type ProcessingOutcome struct {
	JobID          string      `json:"job_id"`
	Kind           OutcomeKind `json:"kind"`
	ProviderCallID string      `json:"provider_call_id,omitempty"`
	Variant        string      `json:"variant,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Report summarizes one RunOnce sweep.
type Report struct {
	Attempted            int                 `json:"attempted"`
	SucceededImmediately int                 `json:"succeeded_immediately"`
	FailedImmediately    int                 `json:"failed_immediately"`
	Requeued             int                 `json:"requeued"`
	Abandoned            int                 `json:"abandoned"`
	Outcomes             []ProcessingOutcome `json:"outcomes"`
}

func (r *Report) add(o ProcessingOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case OutcomeDispatched:
		r.Attempted++
		r.SucceededImmediately++
	case OutcomeProviderError, OutcomeStoreError:
		r.Attempted++
		r.FailedImmediately++
	}
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Expired   []string `json:"expired"`
	Requeued  []string `json:"requeued"`
	Abandoned []string `json:"abandoned"`
}

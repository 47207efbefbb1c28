package calljobs

import "time"

// Status is the lifecycle state of a CallJob.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// IsActive reports whether the status is covered by the one-live-job-per-dedupe-key constraint.
func (s Status) IsActive() bool { return s == StatusQueued || s == StatusRunning }

// IsTerminal reports whether no further automatic transition can happen.
func (s Status) IsTerminal() bool { return s == StatusSucceeded || s == StatusAbandoned }

// Artifacts carries personalization inputs and provider identifiers for a job.
type Artifacts map[string]string

// Well-known artifact keys written by the dispatcher and webhook handlers.
const (
	ArtifactProviderCallID  = "provider_call_id"
	ArtifactCallInitiatedAt = "call_initiated_at"
	ArtifactCallStatus      = "call_status"
	ArtifactCallDuration    = "call_duration"
)

func (a Artifacts) Clone() Artifacts {
	out := make(Artifacts, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge returns a copy of a overlaid with other.
func (a Artifacts) Merge(other Artifacts) Artifacts {
	out := a.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Job is one logical attempt group to reach a subject by phone.
// Retries mutate the same row; rows are never deleted, only terminalized.
type Job struct {
	ID          string `json:"id" db:"id"`
	SubjectID   string `json:"subject_id,omitempty" db:"subject_id"`
	Purpose     string `json:"purpose" db:"purpose"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	DedupeKey   string `json:"dedupe_key" db:"dedupe_key"`

	Status         Status    `json:"status" db:"status"`
	AttemptCount   int       `json:"attempt_count" db:"attempt_count"`
	MaxAttempts    int       `json:"max_attempts" db:"max_attempts"`
	NextEligibleAt time.Time `json:"next_eligible_at" db:"next_eligible_at"`

	// Lease fields are set while a dispatcher owns the job.
	LeaseOwner     string     `json:"lease_owner,omitempty" db:"lease_owner"`
	LeaseToken     string     `json:"-" db:"lease_token"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`

	// ProviderCallID acknowledges that the provider accepted the call.
	ProviderCallID string     `json:"provider_call_id,omitempty" db:"provider_call_id"`
	CallDeadline   *time.Time `json:"call_deadline,omitempty" db:"call_deadline"`

	LastError string    `json:"last_error,omitempty" db:"last_error"`
	Artifacts Artifacts `json:"artifacts" db:"artifacts"`

	// Version increments on every write and guards compare-and-swap updates.
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Artifacts = j.Artifacts.Clone()
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		out.LeaseExpiresAt = &t
	}
	if j.CallDeadline != nil {
		t := *j.CallDeadline
		out.CallDeadline = &t
	}
	return &out
}

// IsLive reports whether the job still blocks a new job for its dedupe key:
// active, or failed with a retry still owed.
func (j *Job) IsLive() bool {
	if j.Status.IsActive() {
		return true
	}
	return j.Status == StatusFailed && j.AttemptCount < j.MaxAttempts
}

// OwnsCall reports whether callID belongs to the job's current attempt. An
// empty callID matches anything.
func (j *Job) OwnsCall(callID string) bool {
	switch {
	case callID == "":
		return true
	case j.ProviderCallID != "":
		return j.ProviderCallID == callID
	default:
		// Claimed but not yet dispatched: the artifact still names the
		// previous attempt's call, if there was one.
		return j.Artifacts[ArtifactProviderCallID] != callID
	}
}

// Expectation is the prior row state a conditional update is keyed on.
type Expectation struct {
	Status  Status
	Version int64
}

func expectOf(j *Job) Expectation {
	return Expectation{Status: j.Status, Version: j.Version}
}

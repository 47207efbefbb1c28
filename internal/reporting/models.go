package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest aggregates jobs created within Range.
type CallsSummaryRequest struct {
	Range   TimeRange `json:"range"`
	Purpose string    `json:"purpose,omitempty"`
}

type CallsSummary struct {
	Purpose string    `json:"purpose,omitempty"`
	Range   TimeRange `json:"range"`

	TotalJobs     int `json:"total_jobs"`
	QueuedJobs    int `json:"queued_jobs"`
	RunningJobs   int `json:"running_jobs"`
	SucceededJobs int `json:"succeeded_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	AbandonedJobs int `json:"abandoned_jobs"`

	// ByOutcome counts the conversation outcome recorded when a call ended.
	ByOutcome map[string]int `json:"by_outcome"`
	// ByVariant counts the script variant each dialed job was given.
	ByVariant map[string]int `json:"by_variant"`

	IntentConfirmed int `json:"intent_confirmed"`

	TotalAttempts   int     `json:"total_attempts"`
	AverageAttempts float64 `json:"average_attempts"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// CompletionRate is succeeded over settled (succeeded + abandoned) jobs.
	CompletionRate float64 `json:"completion_rate"`

	// Truncated is set when more jobs matched than were aggregated.
	Truncated bool `json:"truncated,omitempty"`
}

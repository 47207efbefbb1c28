package calljobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("calljobs: not found")
	ErrInvalidArgument   = errors.New("calljobs: invalid argument")
	ErrInvalidTransition = errors.New("calljobs: invalid status transition")

	// ErrDuplicateActiveJob is an idempotent no-op, not a failure.
	ErrDuplicateActiveJob = errors.New("calljobs: duplicate active job")
	// ErrLeaseConflict means a conditional update lost to another writer; retry on the next sweep.
	ErrLeaseConflict = errors.New("calljobs: lease conflict")
	// ErrAttemptsExhausted is recorded on jobs moved to abandoned.
	ErrAttemptsExhausted = errors.New("calljobs: attempts exhausted")
)

// DuplicateError carries the live job that made a reservation redundant.
type DuplicateError struct {
	Existing *Job
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateActiveJob, e.Existing.ID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateActiveJob }

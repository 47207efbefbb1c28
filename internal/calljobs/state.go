package calljobs

import (
	"fmt"
	"time"
)

var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning},
	StatusRunning: {StatusSucceeded, StatusFailed},
	StatusFailed:  {StatusQueued, StatusAbandoned},
}

// CanTransition reports whether from -> to is a legal job transition.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// advance returns a copy of j moved to status to, with version and timestamp bumped.
func (j *Job) advance(to Status, now time.Time) (*Job, error) {
	if !CanTransition(j.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	next := j.touch(now)
	next.Status = to
	return next, nil
}

// touch returns a copy of j with version and timestamp bumped and status unchanged.
func (j *Job) touch(now time.Time) *Job {
	next := j.Clone()
	next.Version++
	next.UpdatedAt = now
	return next
}

func (j *Job) clearLease() {
	j.LeaseOwner = ""
	j.LeaseToken = ""
	j.LeaseExpiresAt = nil
	j.CallDeadline = nil
}

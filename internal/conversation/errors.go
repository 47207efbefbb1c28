package conversation

import "errors"

var (
	ErrUnknownJob     = errors.New("conversation: unknown job")
	ErrJobNotRunning  = errors.New("conversation: job is not running")
	ErrNoConversation = errors.New("conversation: no conversation state")
	ErrStateExists    = errors.New("conversation: state already exists")
	ErrStaleState     = errors.New("conversation: stale state")
	ErrUnknownEvent   = errors.New("conversation: unknown event")

	// ErrLowConfidenceExhausted is recorded as the job's failure reason. It is a
	// business outcome and never returned from OnEvent.
	ErrLowConfidenceExhausted = errors.New("conversation: low confidence retries exhausted")
)

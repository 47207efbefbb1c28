package telephony

import (
	"context"
	"errors"
)

// Caller places outbound calls through a provider.
//
// Rules:
// - No provider SDK or REST calls outside telephony adapters.
// - Call progress is reported asynchronously to AnswerURL and StatusCallbackURL;
//   PlaceCall returns as soon as the provider accepts the request.
type Caller interface {
	Name() string
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
}

// ErrProviderInvocation wraps every transport or provider-side failure when
// placing a call. The dispatcher treats it as retryable.
var ErrProviderInvocation = errors.New("telephony: provider invocation failed")

type PlaceCallRequest struct {
	JobID string `json:"job_id"`

	// To is E.164.
	To string `json:"to"`

	// AnswerURL serves the first script line once the call is answered.
	AnswerURL string `json:"answer_url"`

	StatusCallbackURL string `json:"status_callback_url"`
}

type PlaceCallResult struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status"`
}

// Provider call statuses as reported by status callbacks.
const (
	CallStatusQueued     = "queued"
	CallStatusInitiated  = "initiated"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusNoAnswer   = "no-answer"
	CallStatusFailed     = "failed"
	CallStatusCanceled   = "canceled"
)

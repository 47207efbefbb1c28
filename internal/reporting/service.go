package reporting

import (
	"context"
	"errors"
	"strconv"
	"time"

	"outbound-orchestrator/internal/calljobs"
	"outbound-orchestrator/internal/conversation"
	"outbound-orchestrator/internal/dispatcher"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxJobs caps a single summary; wider ranges come back Truncated.
const maxJobs = 10000

// Source lists jobs by creation time. *calljobs.Service satisfies it.
type Source interface {
	Created(ctx context.Context, from, to time.Time, purpose string, limit int) ([]*calljobs.Job, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: source not configured")
	}

	rows, err := s.src.Created(ctx, req.Range.From, req.Range.To, req.Purpose, maxJobs+1)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		Purpose:   req.Purpose,
		Range:     req.Range,
		ByOutcome: map[string]int{},
		ByVariant: map[string]int{},
	}
	if len(rows) > maxJobs {
		rows = rows[:maxJobs]
		out.Truncated = true
	}

	durations := 0
	for _, j := range rows {
		out.TotalJobs++
		out.TotalAttempts += j.AttemptCount
		switch j.Status {
		case calljobs.StatusQueued:
			out.QueuedJobs++
		case calljobs.StatusRunning:
			out.RunningJobs++
		case calljobs.StatusSucceeded:
			out.SucceededJobs++
		case calljobs.StatusFailed:
			out.FailedJobs++
		case calljobs.StatusAbandoned:
			out.AbandonedJobs++
		}

		if o := j.Artifacts[conversation.ArtifactOutcome]; o != "" {
			out.ByOutcome[o]++
		}
		if v := j.Artifacts[dispatcher.ArtifactScriptVariant]; v != "" {
			out.ByVariant[v]++
		}
		if j.Artifacts[conversation.ArtifactIntentConfirmed] == "true" {
			out.IntentConfirmed++
		}
		if raw := j.Artifacts[calljobs.ArtifactCallDuration]; raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
				out.TotalDurationSeconds += secs
				durations++
			}
		}
	}

	if out.TotalJobs > 0 {
		out.AverageAttempts = float64(out.TotalAttempts) / float64(out.TotalJobs)
	}
	if durations > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / durations
	}
	if settled := out.SucceededJobs + out.AbandonedJobs; settled > 0 {
		out.CompletionRate = float64(out.SucceededJobs) / float64(settled)
	}
	return out, nil
}

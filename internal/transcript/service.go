package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for turns. It is append-only.
type Repository interface {
	Append(ctx context.Context, t Turn) error
	List(ctx context.Context, jobID string) ([]Turn, error)
}

var (
	ErrInvalidTurn   = errors.New("transcript: invalid turn")
	ErrDuplicateTurn = errors.New("transcript: duplicate turn")
)

// Service records call transcripts. Callers treat recording as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Record appends a turn. Re-recording the same (job, seq, speaker) is a no-op.
func (s *Service) Record(ctx context.Context, t Turn) error {
	if s.repo == nil {
		return errors.New("transcript: repository not configured")
	}
	if t.JobID == "" || t.Seq <= 0 {
		return ErrInvalidTurn
	}
	if t.Speaker != SpeakerAssistant && t.Speaker != SpeakerCaller {
		return ErrInvalidTurn
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock().UTC()
	}
	if err := s.repo.Append(ctx, t); err != nil && !errors.Is(err, ErrDuplicateTurn) {
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, jobID string) ([]Turn, error) {
	if jobID == "" {
		return nil, ErrInvalidTurn
	}
	return s.repo.List(ctx, jobID)
}

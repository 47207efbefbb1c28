package transcript

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory append-only repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	turns []Turn
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, t Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.turns {
		if existing.JobID == t.JobID && existing.Seq == t.Seq && existing.Speaker == t.Speaker {
			return ErrDuplicateTurn
		}
	}
	r.turns = append(r.turns, t)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, jobID string) ([]Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Turn
	for _, t := range r.turns {
		if t.JobID == jobID {
			out = append(out, t)
		}
	}
	sortTurns(out)
	return out, nil
}

func sortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].Seq != turns[j].Seq {
			return turns[i].Seq < turns[j].Seq
		}
		// Within a sequence number the caller answers the prompt that preceded it.
		return turns[i].Speaker == SpeakerCaller && turns[j].Speaker == SpeakerAssistant
	})
}

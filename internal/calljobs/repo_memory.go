package calljobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store that enforces the same constraints as the SQL schema.
// It is intended for tests and single-process local runs.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (m *MemoryStore) Insert(ctx context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return ErrDuplicateActiveJob
	}
	if j.Status.IsActive() && m.activeConflict(j.DedupeKey, j.ID) {
		return ErrDuplicateActiveJob
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (m *MemoryStore) FindLive(ctx context.Context, dedupeKey string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Job
	for _, j := range m.jobs {
		if j.DedupeKey != dedupeKey {
			continue
		}
		if !j.Status.IsActive() && j.Status != StatusFailed {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (m *MemoryStore) FindByProviderCallID(ctx context.Context, callID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if callID != "" && j.ProviderCallID == callID {
			return j.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListEligible(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	out := m.filter(func(j *Job) bool {
		return j.Status == StatusQueued && !j.NextEligibleAt.After(now)
	}, func(a, b *Job) bool {
		if !a.NextEligibleAt.Equal(b.NextEligibleAt) {
			return a.NextEligibleAt.Before(b.NextEligibleAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return truncate(out, limit), nil
}

func (m *MemoryStore) ListFailed(ctx context.Context, limit int) ([]*Job, error) {
	out := m.filter(func(j *Job) bool {
		return j.Status == StatusFailed
	}, func(a, b *Job) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	})
	return truncate(out, limit), nil
}

func (m *MemoryStore) ListStale(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	out := m.filter(func(j *Job) bool {
		if j.Status != StatusRunning {
			return false
		}
		if j.ProviderCallID == "" {
			return j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(now)
		}
		return j.CallDeadline != nil && !j.CallDeadline.After(now)
	}, func(a, b *Job) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	})
	return truncate(out, limit), nil
}

func (m *MemoryStore) ListCreated(ctx context.Context, from, to time.Time, purpose string, limit int) ([]*Job, error) {
	out := m.filter(func(j *Job) bool {
		if j.CreatedAt.Before(from) || !j.CreatedAt.Before(to) {
			return false
		}
		return purpose == "" || j.Purpose == purpose
	}, func(a, b *Job) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return truncate(out, limit), nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, expect Expectation, next *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[next.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect.Status || cur.Version != expect.Version {
		return ErrLeaseConflict
	}
	if next.Status.IsActive() && m.activeConflict(next.DedupeKey, next.ID) {
		return ErrDuplicateActiveJob
	}
	m.jobs[next.ID] = next.Clone()
	return nil
}

// Jobs returns a snapshot of every stored job, oldest first.
func (m *MemoryStore) Jobs() []*Job {
	return m.filter(func(*Job) bool { return true }, func(a, b *Job) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (m *MemoryStore) activeConflict(dedupeKey, exceptID string) bool {
	for id, j := range m.jobs {
		if id != exceptID && j.DedupeKey == dedupeKey && j.Status.IsActive() {
			return true
		}
	}
	return false
}

func (m *MemoryStore) filter(keep func(*Job) bool, less func(a, b *Job) bool) []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Job
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		if less(out[i], out[k]) {
			return true
		}
		if less(out[k], out[i]) {
			return false
		}
		return out[i].ID < out[k].ID
	})
	return out
}

func truncate(jobs []*Job, limit int) []*Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

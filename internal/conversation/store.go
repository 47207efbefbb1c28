package conversation

import (
	"context"
	"sync"
)

// Store persists ConversationState. Save succeeds only when the stored Seq
// equals expectedSeq, so out-of-order writers lose with ErrStaleState.
type Store interface {
	Create(ctx context.Context, st *State) error
	Get(ctx context.Context, jobID string) (*State, error)
	Save(ctx context.Context, st *State, expectedSeq int64) error
	// Archive removes the live state and keeps a final copy.
	Archive(ctx context.Context, st *State) error
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	live     map[string]*State
	archived map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{live: map[string]*State{}, archived: map[string]*State{}}
}

func (m *MemoryStore) Create(ctx context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[st.JobID]; ok {
		return ErrStateExists
	}
	m.live[st.JobID] = st.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, jobID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.live[jobID]
	if !ok {
		return nil, ErrNoConversation
	}
	return st.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, st *State, expectedSeq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.live[st.JobID]
	if !ok {
		return ErrNoConversation
	}
	if cur.Seq != expectedSeq {
		return ErrStaleState
	}
	m.live[st.JobID] = st.Clone()
	return nil
}

func (m *MemoryStore) Archive(ctx context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, st.JobID)
	m.archived[st.JobID] = st.Clone()
	return nil
}

// Archived returns the final copy of an archived conversation.
func (m *MemoryStore) Archived(jobID string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.archived[jobID]
	return st.Clone(), ok
}

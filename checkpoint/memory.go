package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps the checkpoint for the life of the process. Used when no
// resume location is configured, and in tests.
type MemoryStore struct {
	state State
	saves int
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved state.
func (s *MemoryStore) Load(ctx context.Context) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// Save replaces the state.
func (s *MemoryStore) Save(ctx context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*S3Store)(nil)
	_ Store = (*FileStore)(nil)
)

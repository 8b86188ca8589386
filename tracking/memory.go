package tracking

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements Store in memory. It backs offline runs of the local
// server and tests.
type MemoryStore struct {
	items map[string]Item
	mu    sync.RWMutex
}

// NewMemoryStore creates a new MemoryStore instance
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Item)}
}

// Put replaces the record for docID.
func (s *MemoryStore) Put(docID string, item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyItem(item)
	stored[KeyAttribute] = docID
	s.items[docID] = stored
}

// Get returns a copy of the record for docID.
func (s *MemoryStore) Get(ctx context.Context, docID string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	return copyItem(item), nil
}

// Update merges filtered updates into the record for docID under one lock.
func (s *MemoryStore) Update(ctx context.Context, docID string, updates map[string]any) (Item, error) {
	valid, _ := FilterUpdates(updates)
	if len(valid) == 0 {
		return nil, ErrNoUpdates
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[docID]
	if !ok {
		item = Item{KeyAttribute: docID}
		s.items[docID] = item
	}
	for k, v := range valid {
		item[k] = v
	}
	return copyItem(item), nil
}

func copyItem(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*DynamoDBStore)(nil)
)

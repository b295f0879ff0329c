package presence

import (
	"context"
	"sync"

	"github.com/buildersync/chat-core/internal/identity"
)

// MemoryStore is an in-process presence Store for tests and single-node use.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[identity.Identity]Status
}

// NewMemoryStore creates an empty in-memory presence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[identity.Identity]Status)}
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, ident identity.Identity, status Status) error {
	s.mu.Lock()
	s.statuses[ident] = status
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, ident identity.Identity) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[ident], nil
}

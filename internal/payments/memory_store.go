package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/solven/escrow/internal/apperr"
)

type memoryStore struct {
	mu      sync.RWMutex
	intents map[string]Intent
}

// NewMemoryStore constructs an in-memory intent store.
func NewMemoryStore() Store {
	return &memoryStore{intents: make(map[string]Intent)}
}

func (s *memoryStore) Create(_ context.Context, in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.intents[in.Reference]; exists {
		return fmt.Errorf("payment intent %s: %w", in.Reference, apperr.ErrConflict)
	}
	s.intents[in.Reference] = in
	return nil
}

func (s *memoryStore) Get(_ context.Context, reference string) (Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.intents[reference]
	if !ok {
		return Intent{}, fmt.Errorf("payment intent %s: %w", reference, apperr.ErrNotFound)
	}
	return in, nil
}

func (s *memoryStore) Update(_ context.Context, in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[in.Reference]; !ok {
		return fmt.Errorf("payment intent %s: %w", in.Reference, apperr.ErrNotFound)
	}
	s.intents[in.Reference] = in
	return nil
}

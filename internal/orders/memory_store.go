package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

type memoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewMemoryStore constructs an in-memory order store.
func NewMemoryStore() Store {
	return &memoryStore{orders: make(map[string]Order)}
}

func (s *memoryStore) Create(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s: %w", o.ID, apperr.ErrConflict)
	}
	s.orders[o.ID] = o
	txn.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.orders, o.ID)
	})
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return o, nil
}

func (s *memoryStore) ListByParticipant(_ context.Context, userID string, role Role) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		r, ok := o.RoleOf(userID)
		if !ok || (role != RoleAny && r != role) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) Transition(ctx context.Context, id string, from []Status, to Status, at time.Time) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	if !(transition{from: from}).allows(o.Status) {
		return Order{}, fmt.Errorf("order %s is %s, cannot become %s: %w", id, o.Status, to, apperr.ErrInvalidTransition)
	}

	prev := o
	o.Status = to
	o.UpdatedAt = at
	if to == StatusCompleted {
		completed := at
		o.CompletedAt = &completed
	}
	s.orders[id] = o

	txn.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.orders[id] = prev
	})
	return o, nil
}

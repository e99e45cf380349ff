package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

type memoryStore struct {
	mu      sync.RWMutex
	escrows map[string]Escrow
	byOrder map[string]string
	byRef   map[string]string
}

// NewMemoryStore constructs an in-memory escrow store.
func NewMemoryStore() Store {
	return &memoryStore{
		escrows: make(map[string]Escrow),
		byOrder: make(map[string]string),
		byRef:   make(map[string]string),
	}
}

func (s *memoryStore) Create(ctx context.Context, e Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOrder[e.OrderID]; exists {
		return fmt.Errorf("order %s: %w", e.OrderID, apperr.ErrDuplicateEscrow)
	}
	if _, exists := s.byRef[e.PaymentReference]; exists {
		return fmt.Errorf("payment reference %s: %w", e.PaymentReference, apperr.ErrDuplicateEscrow)
	}
	s.escrows[e.ID] = e
	s.byOrder[e.OrderID] = e.ID
	s.byRef[e.PaymentReference] = e.ID

	txn.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.escrows, e.ID)
		delete(s.byOrder, e.OrderID)
		delete(s.byRef, e.PaymentReference)
	})
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[id]
	if !ok {
		return Escrow{}, fmt.Errorf("escrow %s: %w", id, apperr.ErrNotFound)
	}
	return e, nil
}

func (s *memoryStore) GetByOrder(ctx context.Context, orderID string) (Escrow, error) {
	s.mu.RLock()
	id, ok := s.byOrder[orderID]
	s.mu.RUnlock()
	if !ok {
		return Escrow{}, fmt.Errorf("escrow for order %s: %w", orderID, apperr.ErrNotFound)
	}
	return s.Get(ctx, id)
}

func (s *memoryStore) ListByParticipant(_ context.Context, userID string) ([]Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Escrow
	for _, e := range s.escrows {
		if e.BuyerID == userID || e.SellerID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HeldAt.After(out[j].HeldAt) })
	return out, nil
}

func (s *memoryStore) Transition(ctx context.Context, id string, from []Status, to Status, res Resolution) (Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return Escrow{}, fmt.Errorf("escrow %s: %w", id, apperr.ErrNotFound)
	}
	allowed := false
	for _, f := range from {
		if e.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return Escrow{}, fmt.Errorf("escrow %s is %s, cannot become %s: %w", id, e.Status, to, apperr.ErrInvalidState)
	}

	prev := e
	at := res.At
	e.Status = to
	switch to {
	case StatusReleased:
		e.ReleasedAt = &at
	case StatusRefunded:
		e.RefundedAt = &at
		e.RefundReason = res.Reason
	case StatusDisputed:
		e.DisputedAt = &at
		e.DisputeReason = res.Reason
		e.DisputedBy = res.By
	}
	s.escrows[id] = e

	txn.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.escrows[id] = prev
	})
	return e, nil
}

package txn

import (
	"context"
	"sync"
)

// MemoryManager serializes units of work over the in-memory stores. Stores
// record compensations with OnRollback; they run newest first when the unit
// fails.
type MemoryManager struct {
	mu sync.Mutex
}

// NewMemory builds a transaction manager for the in-memory stores.
func NewMemory() *MemoryManager {
	return &MemoryManager{}
}

// Do runs fn while holding the manager lock.
func (m *MemoryManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if Active(ctx) {
		return fn(ctx)
	}

	u := &unit{}
	err := m.run(ctx, u, fn)
	if err != nil {
		u.runAfterRollback(ctx)
	}
	return err
}

func (m *MemoryManager) run(ctx context.Context, u *unit, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			u.rollback()
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		u.rollback()
		return err
	}
	return nil
}

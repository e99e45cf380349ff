package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

type memoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*Wallet
	byUser map[string]string
}

// NewMemoryRepository constructs an in-memory repository for tests and
// development.
func NewMemoryRepository() Repository {
	return &memoryRepository{byID: make(map[string]*Wallet), byUser: make(map[string]string)}
}

func (r *memoryRepository) Create(ctx context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byUser[wallet.UserID]; exists {
		return fmt.Errorf("wallet for user %s: %w", wallet.UserID, apperr.ErrConflict)
	}
	w := wallet
	r.byID[w.ID] = &w
	r.byUser[w.UserID] = w.ID

	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, wallet.ID)
		delete(r.byUser, wallet.UserID)
	})
	return nil
}

func (r *memoryRepository) GetByUser(_ context.Context, userID string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[userID]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet for user %s: %w", userID, apperr.ErrNotFound)
	}
	return *r.byID[id], nil
}

// GetForUpdate needs no row lock: the in-memory transaction manager already
// serializes units of work.
func (r *memoryRepository) GetForUpdate(ctx context.Context, userID string) (Wallet, error) {
	return r.GetByUser(ctx, userID)
}

func (r *memoryRepository) UpdateBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.byID[walletID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletID, apperr.ErrNotFound)
	}
	prevBalance, prevAt := w.Balance, w.UpdatedAt
	w.Balance, w.UpdatedAt = balance, at

	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		w.Balance, w.UpdatedAt = prevBalance, prevAt
	})
	return nil
}

func (r *memoryRepository) SetStatus(ctx context.Context, walletID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.byID[walletID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletID, apperr.ErrNotFound)
	}
	prev := w.Status
	w.Status = status
	w.UpdatedAt = time.Now().UTC()

	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		w.Status = prev
	})
	return nil
}

package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solven/escrow/internal/apperr"
)

type memoryRepository struct {
	mu      sync.RWMutex
	users   map[string]User
	byPhone map[string]string
}

// NewMemoryRepository builds an in-memory user store.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		users:   make(map[string]User),
		byPhone: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, u User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[u.Phone]; exists {
		return fmt.Errorf("phone %s already registered: %w", u.Phone, apperr.ErrConflict)
	}
	r.users[u.ID] = u
	r.byPhone[u.Phone] = u.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return u, nil
}

func (r *memoryRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	r.mu.RLock()
	id, ok := r.byPhone[phone]
	r.mu.RUnlock()
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", phone, apperr.ErrNotFound)
	}
	return r.FindByID(ctx, id)
}

func (r *memoryRepository) MarkPhoneVerified(_ context.Context, id string, at time.Time) error {
	return r.modify(id, func(u *User) {
		u.PhoneVerified = true
		u.UpdatedAt = at
	})
}

func (r *memoryRepository) UpdateBankDetails(_ context.Context, id string, bank BankDetails, at time.Time) error {
	return r.modify(id, func(u *User) {
		u.Bank = bank
		u.UpdatedAt = at
	})
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	return r.modify(id, func(u *User) { u.TokenVersion = version })
}

func (r *memoryRepository) modify(id string, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	fn(&u)
	r.users[id] = u
	return nil
}

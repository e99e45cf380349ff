package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

type inMemoryStore struct {
	mu          sync.RWMutex
	entries     map[string]Entry    // by reference
	byWallet    map[string][]string // references in append order
	correlation map[string][]string
}

// NewInMemory creates a concurrency-safe in-memory ledger store useful for
// unit tests and development.
func NewInMemory() Store {
	return &inMemoryStore{
		entries:     make(map[string]Entry),
		byWallet:    make(map[string][]string),
		correlation: make(map[string][]string),
	}
}

func (s *inMemoryStore) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Reference]; exists {
		return fmt.Errorf("reference %s: %w", entry.Reference, apperr.ErrDuplicateReference)
	}
	s.entries[entry.Reference] = entry
	s.byWallet[entry.WalletID] = append(s.byWallet[entry.WalletID], entry.Reference)
	if entry.CorrelationID != "" {
		s.correlation[entry.CorrelationID] = append(s.correlation[entry.CorrelationID], entry.Reference)
	}

	txn.OnRollback(ctx, func() { s.remove(entry) })
	return nil
}

func (s *inMemoryStore) remove(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, entry.Reference)
	s.byWallet[entry.WalletID] = without(s.byWallet[entry.WalletID], entry.Reference)
	if entry.CorrelationID != "" {
		s.correlation[entry.CorrelationID] = without(s.correlation[entry.CorrelationID], entry.Reference)
	}
}

func without(refs []string, ref string) []string {
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i] == ref {
			return append(refs[:i:i], refs[i+1:]...)
		}
	}
	return refs
}

func (s *inMemoryStore) ByReference(_ context.Context, reference string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[reference]
	if !ok {
		return Entry{}, fmt.Errorf("ledger entry %s: %w", reference, apperr.ErrNotFound)
	}
	return entry, nil
}

func (s *inMemoryStore) ByCorrelation(_ context.Context, correlationID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.correlation[correlationID]
	out := make([]Entry, 0, len(refs))
	for _, ref := range refs {
		out = append(out, s.entries[ref])
	}
	return out, nil
}

func (s *inMemoryStore) Last(_ context.Context, walletID string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.byWallet[walletID]
	for i := len(refs) - 1; i >= 0; i-- {
		if e := s.entries[refs[i]]; e.Status != StatusFailed {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func (s *inMemoryStore) List(_ context.Context, walletID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.byWallet[walletID]
	out := make([]Entry, 0, min(limit, len(refs)))
	for i := len(refs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[refs[i]])
	}
	return out, nil
}

func (s *inMemoryStore) Sum(_ context.Context, walletID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, ref := range s.byWallet[walletID] {
		total = total.Add(s.entries[ref].Signed())
	}
	return total, nil
}

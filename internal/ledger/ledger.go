// Package ledger is the append-only record of balance-affecting events per
// wallet. Entries are never edited or deleted; the wallet balance is derived
// from them.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
)

// Kind classifies an entry.
type Kind string

const (
	KindCredit     Kind = "CREDIT"
	KindDebit      Kind = "DEBIT"
	KindWithdrawal Kind = "WITHDRAWAL"
)

// Status of an entry. Withdrawals stay PENDING until an external payout
// process settles them.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Entry is one immutable balance change.
type Entry struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	Kind          Kind            `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Status        Status          `json:"status"`
	Reference     string          `json:"reference"`
	CorrelationID string          `json:"correlation_id"`
	Description   string          `json:"description,omitempty"`
	Metadata      Metadata        `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Signed returns the entry's effect on the balance. Failed entries have none.
func (e Entry) Signed() decimal.Decimal {
	if e.Status == StatusFailed {
		return decimal.Zero
	}
	if e.Kind == KindCredit {
		return e.Amount
	}
	return e.Amount.Neg()
}

// Validate checks the entry before it is appended.
func (e Entry) Validate() error {
	switch e.Kind {
	case KindCredit, KindDebit, KindWithdrawal:
	default:
		return fmt.Errorf("entry kind %q: %w", e.Kind, apperr.ErrInvalidInput)
	}
	switch e.Status {
	case StatusPending, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("entry status %q: %w", e.Status, apperr.ErrInvalidInput)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("entry amount %s: %w", e.Amount, apperr.ErrInvalidAmount)
	}
	if strings.TrimSpace(e.Reference) == "" || e.WalletID == "" {
		return fmt.Errorf("entry needs wallet and reference: %w", apperr.ErrInvalidInput)
	}
	if !e.BalanceBefore.Add(e.Signed()).Equal(e.BalanceAfter) {
		return fmt.Errorf("entry %s: %s %s %s != %s: %w", e.Reference, e.BalanceBefore, e.Kind, e.Amount, e.BalanceAfter, apperr.ErrLedgerCorrupted)
	}
	if e.BalanceAfter.IsNegative() {
		return fmt.Errorf("entry %s leaves balance %s: %w", e.Reference, e.BalanceAfter, apperr.ErrInsufficientBalance)
	}
	if e.Metadata != nil {
		if err := e.Metadata.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Store persists ledger entries.
type Store interface {
	// Append writes a new entry. A reference already present fails with
	// apperr.ErrDuplicateReference.
	Append(ctx context.Context, entry Entry) error
	ByReference(ctx context.Context, reference string) (Entry, error)
	// ByCorrelation returns the entries of one operation in append order.
	ByCorrelation(ctx context.Context, correlationID string) ([]Entry, error)
	// Last returns the newest non-failed entry of a wallet.
	Last(ctx context.Context, walletID string) (Entry, bool, error)
	// List returns up to limit entries, newest first.
	List(ctx context.Context, walletID string, limit int) ([]Entry, error)
	// Sum adds up the signed amounts of all non-failed entries.
	Sum(ctx context.Context, walletID string) (decimal.Decimal, error)
}

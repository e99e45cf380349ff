package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

func credit(walletID, ref string, before, amount int64) Entry {
	return Entry{
		ID:            "id-" + ref,
		WalletID:      walletID,
		Kind:          KindCredit,
		Amount:        decimal.NewFromInt(amount),
		BalanceBefore: decimal.NewFromInt(before),
		BalanceAfter:  decimal.NewFromInt(before + amount),
		Status:        StatusCompleted,
		Reference:     ref,
		CorrelationID: ref,
		Metadata:      AdjustmentMetadata{Reason: "test"},
		CreatedAt:     time.Now().UTC(),
	}
}

func TestInMemoryStore_AppendAndSum(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if err := s.Append(ctx, credit("w1", "r1", 0, 1_000)); err != nil {
		t.Fatalf("append r1: %v", err)
	}
	debit := Entry{
		ID: "id-r2", WalletID: "w1", Kind: KindDebit, Amount: decimal.NewFromInt(400),
		BalanceBefore: decimal.NewFromInt(1_000), BalanceAfter: decimal.NewFromInt(600),
		Status: StatusCompleted, Reference: "r2", CorrelationID: "r2",
	}
	if err := s.Append(ctx, debit); err != nil {
		t.Fatalf("append r2: %v", err)
	}

	sum, err := s.Sum(ctx, "w1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if !sum.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected sum 600, got %s", sum)
	}

	last, ok, err := s.Last(ctx, "w1")
	if err != nil || !ok {
		t.Fatalf("last: %v %v", ok, err)
	}
	if last.Reference != "r2" {
		t.Fatalf("expected last r2, got %s", last.Reference)
	}
}

func TestInMemoryStore_DuplicateReference(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if err := s.Append(ctx, credit("w1", "dup", 0, 500)); err != nil {
		t.Fatalf("initial append failed: %v", err)
	}
	if err := s.Append(ctx, credit("w2", "dup", 0, 500)); !errors.Is(err, apperr.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference, got %v", err)
	}
}

func TestInMemoryStore_ListNewestFirst(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, credit("w1", fmt.Sprintf("r%d", i), int64(i*10), 10)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.List(ctx, "w1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 || entries[0].Reference != "r4" || entries[2].Reference != "r2" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

func TestInMemoryStore_RollbackRemovesEntry(t *testing.T) {
	s := NewInMemory()
	m := txn.NewMemory()
	ctx := context.Background()

	err := m.Do(ctx, func(ctx context.Context) error {
		if err := s.Append(ctx, credit("w1", "r1", 0, 100)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected abort")
	}

	if _, err := s.ByReference(ctx, "r1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected entry gone, got %v", err)
	}
	if _, ok, _ := s.Last(ctx, "w1"); ok {
		t.Fatal("expected no entries after rollback")
	}
	if entries, _ := s.ByCorrelation(ctx, "r1"); len(entries) != 0 {
		t.Fatalf("expected no correlated entries, got %d", len(entries))
	}
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Append(ctx, credit(fmt.Sprintf("w%d", i), fmt.Sprintf("tx-%d", i), 0, 500)); err != nil {
				t.Errorf("append %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if _, err := s.ByReference(ctx, fmt.Sprintf("tx-%d", i)); err != nil {
			t.Fatalf("missing tx-%d: %v", i, err)
		}
	}
}

func TestEntryValidate(t *testing.T) {
	good := credit("w1", "r1", 0, 100)
	if err := good.Validate(); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}

	bad := good
	bad.BalanceAfter = decimal.NewFromInt(99)
	if err := bad.Validate(); !errors.Is(err, apperr.ErrLedgerCorrupted) {
		t.Fatalf("expected corruption error, got %v", err)
	}

	zero := good
	zero.Amount = decimal.Zero
	if err := zero.Validate(); !errors.Is(err, apperr.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	overdrawn := Entry{
		ID: "x", WalletID: "w1", Kind: KindDebit, Amount: decimal.NewFromInt(10),
		BalanceBefore: decimal.NewFromInt(5), BalanceAfter: decimal.NewFromInt(-5),
		Status: StatusCompleted, Reference: "r9",
	}
	if err := overdrawn.Validate(); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	badMeta := good
	badMeta.Metadata = WithdrawalMetadata{BankName: "GTB"}
	if err := badMeta.Validate(); !errors.Is(err, apperr.ErrMissingPayoutDestination) {
		t.Fatalf("expected missing destination, got %v", err)
	}
}

func TestMetadataRoundTripKeepsVariant(t *testing.T) {
	in := EscrowReleaseMetadata{
		EscrowID: "e1", OrderID: "o1",
		Gross: decimal.NewFromInt(10_000), Commission: decimal.NewFromInt(500), Rate: decimal.RequireFromString("0.05"),
	}
	raw, err := EncodeMetadata(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeMetadata(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out.(EscrowReleaseMetadata)
	if !ok {
		t.Fatalf("expected EscrowReleaseMetadata, got %T", out)
	}
	if got.EscrowID != "e1" || !got.Commission.Equal(in.Commission) {
		t.Fatalf("unexpected metadata %+v", got)
	}

	if _, err := DecodeMetadata([]byte(`{"type":"mystery","data":{}}`)); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected unknown type rejected, got %v", err)
	}
}

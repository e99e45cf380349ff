package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/ledger"
	"github.com/solven/escrow/internal/logging"
	"github.com/solven/escrow/internal/notification"
	"github.com/solven/escrow/internal/txn"
)

type stubPayouts map[string]PayoutAccount

func (p stubPayouts) PayoutAccount(_ context.Context, userID string) (PayoutAccount, error) {
	acct, ok := p[userID]
	if !ok {
		return PayoutAccount{}, fmt.Errorf("user %s: %w", userID, apperr.ErrMissingPayoutDestination)
	}
	return acct, nil
}

type fixture struct {
	svc      *Service
	repo     Repository
	store    ledger.Store
	notifier *notification.Recorder
}

func newFixture(t *testing.T, users ...string) fixture {
	t.Helper()
	repo := NewMemoryRepository()
	store := ledger.NewInMemory()
	rec := &notification.Recorder{}
	svc := NewService(repo, store, txn.NewMemory(), rec, logging.Discard(), Options{
		Currency:      "NGN",
		WithdrawalFee: decimal.NewFromInt(50),
	})
	svc.UsePayoutDirectory(stubPayouts{
		"alice": {BankName: "GTBank", AccountNumber: "0123456789", AccountName: "Alice A"},
		"carol": {BankName: "Zenith", AccountNumber: "9876543210", AccountName: "Carol C"},
	})
	for _, u := range users {
		if _, err := svc.Open(context.Background(), u); err != nil {
			t.Fatalf("open wallet %s: %v", u, err)
		}
	}
	return fixture{svc: svc, repo: repo, store: store, notifier: rec}
}

func (f fixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.svc.Credit(context.Background(), PostingInput{
		UserID:    userID,
		Amount:    decimal.NewFromInt(amount),
		Reference: "seed-" + uuid.NewString(),
		Metadata:  ledger.AdjustmentMetadata{Reason: "test funding"},
	})
	if err != nil {
		t.Fatalf("fund %s: %v", userID, err)
	}
}

func (f fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance %s: %v", userID, err)
	}
	return b.Amount
}

// assertInvariant checks that the stored balance equals the ledger sum.
func (f fixture) assertInvariant(t *testing.T, userID string) {
	t.Helper()
	w, err := f.repo.GetByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("get %s: %v", userID, err)
	}
	sum, err := f.store.Sum(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("sum %s: %v", userID, err)
	}
	if !sum.Equal(w.Balance) {
		t.Fatalf("wallet %s balance %s != ledger sum %s", userID, w.Balance, sum)
	}
	if w.Balance.IsNegative() {
		t.Fatalf("wallet %s negative balance %s", userID, w.Balance)
	}
}

func TestServiceOpenAndBalance(t *testing.T) {
	f := newFixture(t, "alice")

	if got := f.balance(t, "alice"); !got.IsZero() {
		t.Fatalf("expected zero balance, got %s", got)
	}
	if _, err := f.svc.Open(context.Background(), "alice"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on second wallet, got %v", err)
	}
	if _, err := f.svc.GetBalance(context.Background(), "nobody"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceCreditAndDebit(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	entry, err := f.svc.Credit(ctx, PostingInput{UserID: "alice", Amount: decimal.NewFromInt(1_000), Reference: "c1"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if entry.Status != ledger.StatusCompleted || !entry.BalanceAfter.Equal(decimal.NewFromInt(1_000)) {
		t.Fatalf("unexpected entry %+v", entry)
	}

	if _, err := f.svc.Debit(ctx, PostingInput{UserID: "alice", Amount: decimal.NewFromInt(400), Reference: "d1"}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := f.balance(t, "alice"); !got.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected 600, got %s", got)
	}

	if _, err := f.svc.Debit(ctx, PostingInput{UserID: "alice", Amount: decimal.NewFromInt(601), Reference: "d2"}); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	for _, amt := range []string{"0", "-5", "0.001"} {
		_, err := f.svc.Credit(ctx, PostingInput{UserID: "alice", Amount: decimal.RequireFromString(amt), Reference: "bad-" + amt})
		if !errors.Is(err, apperr.ErrInvalidAmount) {
			t.Fatalf("amount %s: expected invalid amount, got %v", amt, err)
		}
	}
	if len(f.notifier.Messages(notification.KindWalletCredited)) != 1 {
		t.Fatalf("expected one credit notification")
	}
	f.assertInvariant(t, "alice")
}

func TestServiceCreditRoundsHalfToEven(t *testing.T) {
	f := newFixture(t, "alice")

	entry, err := f.svc.Credit(context.Background(), PostingInput{UserID: "alice", Amount: decimal.RequireFromString("10.005"), Reference: "r"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if entry.Amount.StringFixed(2) != "10.00" {
		t.Fatalf("expected 10.00, got %s", entry.Amount)
	}
}

func TestServiceCreditIsIdempotentByReference(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	in := PostingInput{UserID: "alice", Amount: decimal.NewFromInt(250), Reference: "ESC_REL_1"}

	first, err := f.svc.Credit(ctx, in)
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	replay, err := f.svc.Credit(ctx, in)
	if !errors.Is(err, apperr.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference, got %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("replay should return the stored entry")
	}
	if got := f.balance(t, "alice"); !got.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected single credit of 250, got %s", got)
	}

	if _, err := f.svc.Debit(ctx, PostingInput{UserID: "alice", Amount: decimal.NewFromInt(1), Reference: "ESC_REL_1"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict when reusing a reference for another posting, got %v", err)
	}
}

func TestServiceTransferConservesFunds(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	f.fund(t, "alice", 1_000)

	before := f.balance(t, "alice").Add(f.balance(t, "bob"))
	res, err := f.svc.Transfer(ctx, TransferInput{SenderID: "alice", RecipientID: "bob", Amount: decimal.NewFromInt(300), Reference: "t1"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	after := f.balance(t, "alice").Add(f.balance(t, "bob"))
	if !before.Equal(after) {
		t.Fatalf("transfer changed total: %s -> %s", before, after)
	}
	if res.Debit.CorrelationID != "t1" || res.Credit.CorrelationID != "t1" {
		t.Fatalf("legs must share correlation id: %+v", res)
	}
	if res.Debit.Reference == res.Credit.Reference {
		t.Fatalf("legs must have distinct references")
	}

	replay, err := f.svc.Transfer(ctx, TransferInput{SenderID: "alice", RecipientID: "bob", Amount: decimal.NewFromInt(300), Reference: "t1"})
	if !errors.Is(err, apperr.ErrDuplicateReference) {
		t.Fatalf("expected duplicate on replay, got %v", err)
	}
	if replay.Debit.ID != res.Debit.ID || replay.Credit.ID != res.Credit.ID {
		t.Fatalf("replay should return stored legs")
	}
	if got := f.balance(t, "bob"); !got.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected bob 300, got %s", got)
	}
	f.assertInvariant(t, "alice")
	f.assertInvariant(t, "bob")
}

func TestServiceTransferReferenceOfAnotherSenderConflicts(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()
	f.fund(t, "alice", 500)
	f.fund(t, "carol", 500)

	if _, err := f.svc.Transfer(ctx, TransferInput{SenderID: "alice", RecipientID: "bob", Amount: decimal.NewFromInt(100), Reference: "pay-1"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	res, err := f.svc.Transfer(ctx, TransferInput{SenderID: "carol", RecipientID: "dave", Amount: decimal.NewFromInt(200), Reference: "pay-1"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for a reference used by another sender, got %v", err)
	}
	if res.Debit.ID != "" || res.Credit.ID != "" {
		t.Fatalf("conflict must not expose the other transfer: %+v", res)
	}

	// same sender, different recipient or amount
	if _, err := f.svc.Transfer(ctx, TransferInput{SenderID: "alice", RecipientID: "dave", Amount: decimal.NewFromInt(100), Reference: "pay-1"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for another recipient, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, TransferInput{SenderID: "alice", RecipientID: "bob", Amount: decimal.NewFromInt(150), Reference: "pay-1"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for another amount, got %v", err)
	}

	if got := f.balance(t, "carol"); !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("carol should be untouched, got %s", got)
	}
	if got := f.balance(t, "dave"); !got.IsZero() {
		t.Fatalf("dave should be untouched, got %s", got)
	}
	if got := f.balance(t, "bob"); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected bob 100, got %s", got)
	}
}

func TestServiceTransferRejections(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	f.fund(t, "alice", 100)

	if _, err := f.svc.Transfer(ctx, TransferInput{SenderID: "alice", RecipientID: "alice", Amount: decimal.NewFromInt(1)}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected self transfer rejected, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, TransferInput{SenderID: "alice", RecipientID: "carol", Amount: decimal.NewFromInt(1)}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected missing recipient, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, TransferInput{SenderID: "alice", RecipientID: "bob", Amount: decimal.NewFromInt(101)}); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	// nothing partial is observable
	if got := f.balance(t, "bob"); !got.IsZero() {
		t.Fatalf("bob should be untouched, got %s", got)
	}
	bob, _ := f.repo.GetByUser(ctx, "bob")
	if entries, _ := f.store.List(ctx, bob.ID, 10); len(entries) != 0 {
		t.Fatalf("bob should have no entries, got %d", len(entries))
	}
}

func TestServiceConcurrentTransfersDrainOnce(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	f.fund(t, "alice", 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, to := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(i int, to string) {
			defer wg.Done()
			_, errs[i] = f.svc.Transfer(context.Background(), TransferInput{SenderID: "alice", RecipientID: to, Amount: decimal.NewFromInt(100)})
		}(i, to)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("expected one success and one insufficient, got %d/%d", ok, insufficient)
	}
	if got := f.balance(t, "alice"); !got.IsZero() {
		t.Fatalf("expected alice drained to 0, got %s", got)
	}
	for _, u := range []string{"alice", "bob", "carol"} {
		f.assertInvariant(t, u)
	}
}

func TestServiceConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t, "alice")
	f.fund(t, "alice", 1_000)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.svc.Debit(context.Background(), PostingInput{UserID: "alice", Amount: decimal.NewFromInt(70), Reference: fmt.Sprintf("d-%d", i)})
		}(i)
	}
	wg.Wait()

	// 14 * 70 = 980, the 15th would overdraw
	if got := f.balance(t, "alice"); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected 20 left, got %s", got)
	}
	f.assertInvariant(t, "alice")
}

func TestServiceWithdrawNeedsBalanceForFee(t *testing.T) {
	f := newFixture(t, "alice")
	f.fund(t, "alice", 1_000)

	_, err := f.svc.Withdraw(context.Background(), WithdrawInput{UserID: "alice", Amount: decimal.NewFromInt(1_000)})
	if !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance for 1000 + 50 fee, got %v", err)
	}
	if got := f.balance(t, "alice"); !got.Equal(decimal.NewFromInt(1_000)) {
		t.Fatalf("balance must be untouched, got %s", got)
	}
}

func TestServiceWithdrawRecordsPrincipalAndFee(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.fund(t, "alice", 2_000)

	res, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: "alice", Amount: decimal.NewFromInt(1_000), Reference: "wd-1"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Principal.Status != ledger.StatusPending || res.Principal.Kind != ledger.KindWithdrawal {
		t.Fatalf("unexpected principal %+v", res.Principal)
	}
	if res.Fee == nil || res.Fee.Status != ledger.StatusCompleted || !res.Fee.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected fee %+v", res.Fee)
	}
	if res.Fee.CorrelationID != res.Principal.CorrelationID {
		t.Fatalf("principal and fee must share a correlation id")
	}
	if got := f.balance(t, "alice"); !got.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("expected 950, got %s", got)
	}

	if _, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: "alice", Amount: decimal.NewFromInt(1_000), Reference: "wd-1"}); !errors.Is(err, apperr.ErrDuplicateReference) {
		t.Fatalf("expected replay to be a no-op, got %v", err)
	}
	if got := f.balance(t, "alice"); !got.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("replay changed balance to %s", got)
	}
	f.assertInvariant(t, "alice")
}

func TestServiceWithdrawReferenceOfAnotherUserConflicts(t *testing.T) {
	f := newFixture(t, "alice", "carol")
	ctx := context.Background()
	f.fund(t, "alice", 2_000)
	f.fund(t, "carol", 500)

	if _, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: "alice", Amount: decimal.NewFromInt(1_000), Reference: "wd-1"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	res, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: "carol", Amount: decimal.NewFromInt(300), Reference: "wd-1"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for a reference used by another user, got %v", err)
	}
	if res.Principal.ID != "" || res.Fee != nil {
		t.Fatalf("conflict must not expose the other withdrawal: %+v", res)
	}
	if res.Destination.AccountNumber != "9876543210" {
		t.Fatalf("destination should be the caller's own account, got %+v", res.Destination)
	}

	if _, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: "alice", Amount: decimal.NewFromInt(400), Reference: "wd-1"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for another amount, got %v", err)
	}

	if got := f.balance(t, "carol"); !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("carol should be untouched, got %s", got)
	}
	if got := f.balance(t, "alice"); !got.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("expected alice 950, got %s", got)
	}
	f.assertInvariant(t, "alice")
	f.assertInvariant(t, "carol")
}

func TestServiceWithdrawWithoutBankDetails(t *testing.T) {
	f := newFixture(t, "bob")
	f.fund(t, "bob", 5_000)

	_, err := f.svc.Withdraw(context.Background(), WithdrawInput{UserID: "bob", Amount: decimal.NewFromInt(100)})
	if !errors.Is(err, apperr.ErrMissingPayoutDestination) {
		t.Fatalf("expected missing payout destination, got %v", err)
	}
}

func TestServiceFreezesOnLedgerMismatch(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.fund(t, "alice", 500)

	w, _ := f.repo.GetByUser(ctx, "alice")
	if err := f.repo.UpdateBalance(ctx, w.ID, decimal.NewFromInt(900), time.Now()); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := f.svc.Debit(ctx, PostingInput{UserID: "alice", Amount: decimal.NewFromInt(10), Reference: "d"}); !errors.Is(err, apperr.ErrLedgerCorrupted) {
		t.Fatalf("expected corruption detected, got %v", err)
	}
	frozen, _ := f.repo.GetByUser(ctx, "alice")
	if frozen.Status != StatusFrozen {
		t.Fatalf("expected wallet frozen, got %s", frozen.Status)
	}
	if _, err := f.svc.Credit(ctx, PostingInput{UserID: "alice", Amount: decimal.NewFromInt(10), Reference: "c"}); !errors.Is(err, apperr.ErrLedgerCorrupted) {
		t.Fatalf("frozen wallet must refuse mutations, got %v", err)
	}

	report, err := f.svc.Reconcile(ctx, "alice")
	if !errors.Is(err, apperr.ErrLedgerCorrupted) || !report.LedgerSum.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected reconcile %+v %v", report, err)
	}
	if err := f.svc.Unfreeze(ctx, "alice", "ops"); !errors.Is(err, apperr.ErrLedgerCorrupted) {
		t.Fatalf("unfreeze must refuse while off, got %v", err)
	}

	if err := f.repo.UpdateBalance(ctx, w.ID, decimal.NewFromInt(500), time.Now()); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if err := f.svc.Unfreeze(ctx, "alice", "ops"); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if _, err := f.svc.Credit(ctx, PostingInput{UserID: "alice", Amount: decimal.NewFromInt(10), Reference: "c2"}); err != nil {
		t.Fatalf("credit after unfreeze: %v", err)
	}
	f.assertInvariant(t, "alice")
}

func TestServiceListTransactions(t *testing.T) {
	f := newFixture(t, "alice")
	for i := 0; i < 3; i++ {
		f.fund(t, "alice", 10)
	}

	entries, err := f.svc.ListTransactions(context.Background(), "alice", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || !entries[0].BalanceAfter.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected newest two entries, got %+v", entries)
	}
}

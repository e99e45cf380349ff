package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/ledger"
	"github.com/solven/escrow/internal/metrics"
	"github.com/solven/escrow/internal/notification"
	"github.com/solven/escrow/internal/txn"
)

const (
	// Places is the precision of the smallest currency unit.
	Places = 2

	defaultListLimit = 20
	maxListLimit     = 100
)

// PayoutDirectory resolves where a user's withdrawals are paid. Missing bank
// details fail with apperr.ErrMissingPayoutDestination.
type PayoutDirectory interface {
	PayoutAccount(ctx context.Context, userID string) (PayoutAccount, error)
}

// Options tunes the wallet service.
type Options struct {
	Currency      string
	WithdrawalFee decimal.Decimal
}

// Service is the only writer of wallet balances. Every mutation appends to the
// ledger and moves the balance inside one unit of work.
type Service struct {
	repo     Repository
	ledger   ledger.Store
	tx       txn.Manager
	payouts  PayoutDirectory
	notifier notification.Notifier
	logger   *slog.Logger
	currency string
	fee      decimal.Decimal
	now      func() time.Time
}

// NewService builds a wallet service instance.
func NewService(repo Repository, store ledger.Store, tx txn.Manager, notifier notification.Notifier, logger *slog.Logger, opts Options) *Service {
	currency := opts.Currency
	if currency == "" {
		currency = "NGN"
	}
	return &Service{
		repo:     repo,
		ledger:   store,
		tx:       tx,
		notifier: notifier,
		logger:   logger,
		currency: currency,
		fee:      opts.WithdrawalFee.RoundBank(Places),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UsePayoutDirectory wires the source of withdrawal bank details.
func (s *Service) UsePayoutDirectory(d PayoutDirectory) {
	s.payouts = d
}

// WithdrawalFee returns the flat fee charged per withdrawal.
func (s *Service) WithdrawalFee() decimal.Decimal {
	return s.fee
}

// Open creates the user's wallet with a zero balance.
func (s *Service) Open(ctx context.Context, userID string) (Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return Wallet{}, fmt.Errorf("user id required: %w", apperr.ErrInvalidInput)
	}
	now := s.now()
	w := Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Balance:   decimal.Zero,
		Currency:  s.currency,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}
	s.logger.Info("wallet.opened", "wallet_id", w.ID, "user_id", userID)
	return w, nil
}

// Get retrieves the user's wallet.
func (s *Service) Get(ctx context.Context, userID string) (Wallet, error) {
	return s.repo.GetByUser(ctx, userID)
}

// GetBalance returns the current balance of the user's wallet.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	w, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, Amount: w.Balance, Currency: w.Currency, AsOf: s.now()}, nil
}

// PostingInput describes a single credit or debit.
type PostingInput struct {
	UserID      string
	Amount      decimal.Decimal
	Reference   string
	Description string
	Metadata    ledger.Metadata
}

// Credit appends a COMPLETED CREDIT entry and raises the balance. A reference
// seen before returns the stored entry with apperr.ErrDuplicateReference.
func (s *Service) Credit(ctx context.Context, in PostingInput) (ledger.Entry, error) {
	return s.single(ctx, ledger.KindCredit, in)
}

// Debit appends a COMPLETED DEBIT entry and lowers the balance, failing with
// apperr.ErrInsufficientBalance rather than going negative.
func (s *Service) Debit(ctx context.Context, in PostingInput) (ledger.Entry, error) {
	return s.single(ctx, ledger.KindDebit, in)
}

func (s *Service) single(ctx context.Context, kind ledger.Kind, in PostingInput) (ledger.Entry, error) {
	amount, err := normalizeAmount(in.Amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	if strings.TrimSpace(in.Reference) == "" {
		return ledger.Entry{}, fmt.Errorf("reference required: %w", apperr.ErrInvalidInput)
	}

	var entry ledger.Entry
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		w, err := s.lock(ctx, in.UserID)
		if err != nil {
			return err
		}

		existing, err := s.ledger.ByReference(ctx, in.Reference)
		switch {
		case err == nil:
			if existing.WalletID != w.ID || existing.Kind != kind {
				return fmt.Errorf("reference %s belongs to another posting: %w", in.Reference, apperr.ErrConflict)
			}
			entry = existing
			return fmt.Errorf("reference %s: %w", in.Reference, apperr.ErrDuplicateReference)
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}

		entry, err = s.post(ctx, &w, posting{
			kind:        kind,
			amount:      amount,
			status:      ledger.StatusCompleted,
			reference:   in.Reference,
			correlation: in.Reference,
			description: in.Description,
			metadata:    in.Metadata,
		})
		return err
	})
	if err != nil {
		return entry, err
	}

	recordPostings(entry)
	s.logger.Info("wallet.posted", "kind", kind, "user_id", in.UserID, "amount", amount.String(), "reference", in.Reference,
		"balance_after", entry.BalanceAfter.String())
	if kind == ledger.KindCredit {
		s.notify(ctx, notification.KindWalletCredited, in.UserID,
			fmt.Sprintf("Your wallet was credited with %s %s", amount.StringFixed(Places), s.currency))
	}
	return entry, nil
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	SenderID    string
	RecipientID string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// Transfer debits the sender and credits the recipient in one unit of work.
// Both entries share the correlation id Reference and derive their own
// references from it.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	amount, err := normalizeAmount(in.Amount)
	if err != nil {
		return TransferResult{}, err
	}
	if in.SenderID == "" || in.RecipientID == "" {
		return TransferResult{}, fmt.Errorf("sender and recipient required: %w", apperr.ErrInvalidInput)
	}
	if in.SenderID == in.RecipientID {
		return TransferResult{}, fmt.Errorf("cannot transfer to self: %w", apperr.ErrInvalidInput)
	}
	ref := in.Reference
	if ref == "" {
		ref = "TRF_" + uuid.NewString()
	}
	description := in.Description
	if description == "" {
		description = "Wallet transfer"
	}

	res := TransferResult{Reference: ref}
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		wallets, err := s.lockAll(ctx, in.SenderID, in.RecipientID)
		if err != nil {
			return err
		}
		sender, recipient := wallets[in.SenderID], wallets[in.RecipientID]

		prior, err := s.ledger.ByCorrelation(ctx, ref)
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			var debit, credit ledger.Entry
			for _, e := range prior {
				switch e.Reference {
				case ref + ":debit":
					debit = e
				case ref + ":credit":
					credit = e
				}
			}
			if debit.WalletID != sender.ID || credit.WalletID != recipient.ID || !debit.Amount.Equal(amount) {
				return fmt.Errorf("reference %s belongs to another operation: %w", ref, apperr.ErrConflict)
			}
			res.Debit, res.Credit = debit, credit
			return fmt.Errorf("transfer %s: %w", ref, apperr.ErrDuplicateReference)
		}

		res.Debit, err = s.post(ctx, &sender, posting{
			kind:        ledger.KindDebit,
			amount:      amount,
			status:      ledger.StatusCompleted,
			reference:   ref + ":debit",
			correlation: ref,
			description: description,
			metadata:    ledger.TransferMetadata{Direction: "out", Counterparty: in.RecipientID},
		})
		if err != nil {
			return err
		}
		res.Credit, err = s.post(ctx, &recipient, posting{
			kind:        ledger.KindCredit,
			amount:      amount,
			status:      ledger.StatusCompleted,
			reference:   ref + ":credit",
			correlation: ref,
			description: description,
			metadata:    ledger.TransferMetadata{Direction: "in", Counterparty: in.SenderID},
		})
		return err
	})
	if err != nil {
		return res, err
	}

	recordPostings(res.Debit, res.Credit)
	s.logger.Info("wallet.transferred", "reference", ref, "sender_id", in.SenderID, "recipient_id", in.RecipientID,
		"amount", amount.String())
	s.notify(ctx, notification.KindTransferReceived, in.RecipientID,
		fmt.Sprintf("You received %s %s", amount.StringFixed(Places), s.currency))
	return res, nil
}

// WithdrawInput captures a withdrawal request.
type WithdrawInput struct {
	UserID    string
	Amount    decimal.Decimal
	Reference string
}

// Withdraw reserves amount plus the withdrawal fee. The principal is recorded
// PENDING for the external payout process; the fee is COMPLETED immediately.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (WithdrawalResult, error) {
	amount, err := normalizeAmount(in.Amount)
	if err != nil {
		return WithdrawalResult{}, err
	}
	dest, err := s.payoutAccount(ctx, in.UserID)
	if err != nil {
		return WithdrawalResult{}, err
	}
	ref := in.Reference
	if ref == "" {
		ref = "WD_" + uuid.NewString()
	}

	res := WithdrawalResult{Reference: ref, Destination: dest}
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		w, err := s.lock(ctx, in.UserID)
		if err != nil {
			return err
		}

		prior, err := s.ledger.ByCorrelation(ctx, ref)
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			var principal ledger.Entry
			var fee *ledger.Entry
			for i := range prior {
				switch prior[i].Reference {
				case ref:
					principal = prior[i]
				case ref + ":fee":
					e := prior[i]
					fee = &e
				}
			}
			if principal.WalletID != w.ID || principal.Kind != ledger.KindWithdrawal || !principal.Amount.Equal(amount) {
				return fmt.Errorf("reference %s belongs to another operation: %w", ref, apperr.ErrConflict)
			}
			res.Principal, res.Fee = principal, fee
			return fmt.Errorf("withdrawal %s: %w", ref, apperr.ErrDuplicateReference)
		}

		total := amount.Add(s.fee)
		if w.Balance.LessThan(total) {
			return fmt.Errorf("withdraw %s plus fee %s from balance %s: %w", amount, s.fee, w.Balance, apperr.ErrInsufficientBalance)
		}

		res.Principal, err = s.post(ctx, &w, posting{
			kind:        ledger.KindWithdrawal,
			amount:      amount,
			status:      ledger.StatusPending,
			reference:   ref,
			correlation: ref,
			description: "Withdrawal to " + dest.BankName + " " + dest.AccountNumber,
			metadata: ledger.WithdrawalMetadata{
				BankName:      dest.BankName,
				AccountNumber: dest.AccountNumber,
				AccountName:   dest.AccountName,
				Fee:           s.fee,
			},
		})
		if err != nil {
			return err
		}
		if !s.fee.IsPositive() {
			return nil
		}
		feeEntry, err := s.post(ctx, &w, posting{
			kind:        ledger.KindWithdrawal,
			amount:      s.fee,
			status:      ledger.StatusCompleted,
			reference:   ref + ":fee",
			correlation: ref,
			description: "Withdrawal fee",
			metadata:    ledger.FeeMetadata{Purpose: "withdrawal", Principal: ref},
		})
		if err != nil {
			return err
		}
		res.Fee = &feeEntry
		return nil
	})
	if err != nil {
		return res, err
	}

	recordPostings(res.Principal)
	if res.Fee != nil {
		recordPostings(*res.Fee)
	}
	s.logger.Info("wallet.withdrawal_requested", "reference", ref, "user_id", in.UserID, "amount", amount.String(),
		"fee", s.fee.String())
	s.notify(ctx, notification.KindWithdrawalRequested, in.UserID,
		fmt.Sprintf("Withdrawal of %s %s to %s is being processed", amount.StringFixed(Places), s.currency, dest.AccountNumber))
	return res, nil
}

// ListTransactions returns the user's newest ledger entries first.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	w, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.ledger.List(ctx, w.ID, limit)
}

// Reconcile recomputes the ledger sum and compares it with the stored
// balance. A mismatch freezes the wallet.
func (s *Service) Reconcile(ctx context.Context, userID string) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		w, err := s.repo.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := s.ledger.Sum(ctx, w.ID)
		if err != nil {
			return err
		}
		report = ReconcileReport{WalletID: w.ID, Balance: w.Balance, LedgerSum: sum, Frozen: w.Status == StatusFrozen}
		if !w.Balance.Equal(sum) {
			s.flagCorrupted(ctx, w, sum)
			return fmt.Errorf("wallet %s balance %s, ledger %s: %w", w.ID, w.Balance, sum, apperr.ErrLedgerCorrupted)
		}
		return nil
	})
	if errors.Is(err, apperr.ErrLedgerCorrupted) {
		report.Frozen = true
	}
	return report, err
}

// Unfreeze reactivates a wallet after manual reconciliation. It refuses while
// the balance and the ledger still disagree.
func (s *Service) Unfreeze(ctx context.Context, userID, actor string) error {
	return s.tx.Do(ctx, func(ctx context.Context) error {
		w, err := s.repo.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := s.ledger.Sum(ctx, w.ID)
		if err != nil {
			return err
		}
		if !w.Balance.Equal(sum) {
			return fmt.Errorf("wallet %s still off by %s: %w", w.ID, w.Balance.Sub(sum), apperr.ErrLedgerCorrupted)
		}
		if err := s.repo.SetStatus(ctx, w.ID, StatusActive); err != nil {
			return err
		}
		s.logger.Warn("wallet.unfrozen", "wallet_id", w.ID, "user_id", userID, "actor", actor)
		return nil
	})
}

type posting struct {
	kind        ledger.Kind
	amount      decimal.Decimal
	status      ledger.Status
	reference   string
	correlation string
	description string
	metadata    ledger.Metadata
}

// post appends one entry against a wallet locked by the current unit of work
// and moves its balance.
func (s *Service) post(ctx context.Context, w *Wallet, p posting) (ledger.Entry, error) {
	now := s.now()
	entry := ledger.Entry{
		ID:            uuid.NewString(),
		WalletID:      w.ID,
		Kind:          p.kind,
		Amount:        p.amount,
		BalanceBefore: w.Balance,
		Status:        p.status,
		Reference:     p.reference,
		CorrelationID: p.correlation,
		Description:   p.description,
		Metadata:      p.metadata,
		CreatedAt:     now,
	}
	entry.BalanceAfter = w.Balance.Add(entry.Signed())
	if entry.BalanceAfter.IsNegative() {
		return ledger.Entry{}, fmt.Errorf("wallet %s balance %s below %s: %w", w.ID, w.Balance, p.amount, apperr.ErrInsufficientBalance)
	}
	if err := entry.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return ledger.Entry{}, err
	}
	if err := s.repo.UpdateBalance(ctx, w.ID, entry.BalanceAfter, now); err != nil {
		return ledger.Entry{}, err
	}
	w.Balance = entry.BalanceAfter
	w.UpdatedAt = now
	return entry, nil
}

// lock reads the wallet for update and checks that it is usable: not frozen,
// and its balance agrees with the newest ledger entry.
func (s *Service) lock(ctx context.Context, userID string) (Wallet, error) {
	w, err := s.repo.GetForUpdate(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	if w.Status == StatusFrozen {
		return Wallet{}, fmt.Errorf("wallet %s is frozen: %w", w.ID, apperr.ErrLedgerCorrupted)
	}

	expected := decimal.Zero
	last, ok, err := s.ledger.Last(ctx, w.ID)
	if err != nil {
		return Wallet{}, err
	}
	if ok {
		expected = last.BalanceAfter
	}
	if !w.Balance.Equal(expected) {
		s.flagCorrupted(ctx, w, expected)
		return Wallet{}, fmt.Errorf("wallet %s balance %s, ledger says %s: %w", w.ID, w.Balance, expected, apperr.ErrLedgerCorrupted)
	}
	return w, nil
}

// lockAll locks several wallets in a stable order so concurrent transfers
// between the same pair cannot deadlock.
func (s *Service) lockAll(ctx context.Context, userIDs ...string) (map[string]Wallet, error) {
	ordered := append([]string(nil), userIDs...)
	sort.Strings(ordered)

	out := make(map[string]Wallet, len(ordered))
	for _, id := range ordered {
		w, err := s.lock(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}

// flagCorrupted freezes the wallet once the current unit of work has rolled
// back, so the freeze itself survives the failure.
func (s *Service) flagCorrupted(ctx context.Context, w Wallet, expected decimal.Decimal) {
	s.logger.Error("wallet.ledger_mismatch", "wallet_id", w.ID, "user_id", w.UserID,
		"balance", w.Balance.String(), "expected", expected.String())
	txn.AfterRollback(ctx, func(ctx context.Context) {
		if err := s.repo.SetStatus(ctx, w.ID, StatusFrozen); err != nil {
			s.logger.Error("wallet.freeze_failed", "wallet_id", w.ID, "error", err)
			return
		}
		metrics.WalletsFrozenTotal.Inc()
	})
}

func (s *Service) payoutAccount(ctx context.Context, userID string) (PayoutAccount, error) {
	if s.payouts == nil {
		return PayoutAccount{}, fmt.Errorf("no payout directory: %w", apperr.ErrMissingPayoutDestination)
	}
	dest, err := s.payouts.PayoutAccount(ctx, userID)
	if err != nil {
		return PayoutAccount{}, err
	}
	if !dest.Complete() {
		return PayoutAccount{}, fmt.Errorf("user %s has no bank details: %w", userID, apperr.ErrMissingPayoutDestination)
	}
	return dest, nil
}

func (s *Service) notify(ctx context.Context, kind, userID, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: userID, Body: body}); err != nil {
		s.logger.Warn("notification failed", "kind", kind, "user_id", userID, "error", err)
	}
}

func recordPostings(entries ...ledger.Entry) {
	for _, e := range entries {
		metrics.LedgerPostingsTotal.WithLabelValues(string(e.Kind), string(e.Status)).Inc()
	}
}

// normalizeAmount rounds half-to-even to the currency unit and rejects
// anything that is not strictly positive afterwards.
func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := amount.RoundBank(Places)
	if !rounded.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount %s must be positive: %w", amount, apperr.ErrInvalidAmount)
	}
	return rounded, nil
}

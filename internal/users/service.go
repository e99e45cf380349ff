// Package users registers marketplace participants and verifies their phone
// numbers with one-time codes.
package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/notification"
	"github.com/solven/escrow/internal/wallet"
)

const (
	codeDigits     = 6
	maxCodeAttempt = 3
)

// WalletOpener opens the wallet of a newly verified user.
type WalletOpener interface {
	Open(ctx context.Context, userID string) (wallet.Wallet, error)
}

// Options tunes the service.
type Options struct {
	CodeTTL time.Duration
}

// Service manages the user lifecycle.
type Service struct {
	repo     Repository
	codes    CodeStore
	wallets  WalletOpener
	notifier notification.Notifier
	logger   *slog.Logger
	codeTTL  time.Duration
	now      func() time.Time
}

// NewService creates a user service.
func NewService(repo Repository, codes CodeStore, wallets WalletOpener, notifier notification.Notifier,
	logger *slog.Logger, opts Options) *Service {
	ttl := opts.CodeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		repo:     repo,
		codes:    codes,
		wallets:  wallets,
		notifier: notifier,
		logger:   logger,
		codeTTL:  ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterInput captures a sign-up.
type RegisterInput struct {
	Phone     string
	Role      Role
	FirstName string
	LastName  string
	Email     string
}

// Register creates an unverified user and sends a verification code.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		return User{}, err
	}
	role := in.Role
	if role == "" {
		role = RoleBuyer
	}
	if role != RoleBuyer && role != RoleSeller {
		return User{}, fmt.Errorf("role %q: %w", in.Role, apperr.ErrInvalidInput)
	}

	now := s.now()
	u := User{
		ID:        uuid.NewString(),
		Phone:     phone,
		Role:      role,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.TrimSpace(in.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return User{}, err
	}
	s.logger.Info("user.registered", "user_id", u.ID, "role", string(u.Role))

	if err := s.issueCode(ctx, u.Phone); err != nil {
		return User{}, err
	}
	return u, nil
}

// RequestCode sends a fresh code to a registered phone number, replacing any
// pending one. It serves both first verification and login.
func (s *Service) RequestCode(ctx context.Context, rawPhone string) error {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}
	if _, err := s.repo.FindByPhone(ctx, phone); err != nil {
		return err
	}
	return s.issueCode(ctx, phone)
}

// VerifyCode checks a code. The first successful check marks the phone
// verified and opens the user's wallet. A code allows three wrong guesses.
func (s *Service) VerifyCode(ctx context.Context, rawPhone, code string) (User, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return User{}, err
	}
	stored, err := s.codes.Get(ctx, phone)
	if errors.Is(err, apperr.ErrNotFound) {
		return User{}, fmt.Errorf("no pending code, request a new one: %w", apperr.ErrInvalidInput)
	}
	if err != nil {
		return User{}, err
	}
	if stored.Attempts >= maxCodeAttempt {
		_ = s.codes.Delete(ctx, phone)
		return User{}, fmt.Errorf("too many failed attempts, request a new code: %w", apperr.ErrInvalidInput)
	}
	if bcrypt.CompareHashAndPassword(stored.Hash, []byte(strings.TrimSpace(code))) != nil {
		if _, err := s.codes.Fail(ctx, phone); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("user.code_attempt_not_recorded", "error", err)
		}
		return User{}, fmt.Errorf("invalid code: %w", apperr.ErrUnauthorized)
	}
	if err := s.codes.Delete(ctx, phone); err != nil {
		return User{}, err
	}

	u, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		return User{}, err
	}
	if !u.PhoneVerified {
		if err := s.repo.MarkPhoneVerified(ctx, u.ID, s.now()); err != nil {
			return User{}, err
		}
		u.PhoneVerified = true
		s.logger.Info("user.phone_verified", "user_id", u.ID)
	}
	if _, err := s.wallets.Open(ctx, u.ID); err != nil && !errors.Is(err, apperr.ErrConflict) {
		return User{}, err
	}
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// UpdateBankDetails sets the account withdrawals are paid to.
func (s *Service) UpdateBankDetails(ctx context.Context, userID string, bank BankDetails) (User, error) {
	bank = BankDetails{
		BankName:      strings.TrimSpace(bank.BankName),
		AccountNumber: strings.TrimSpace(bank.AccountNumber),
		AccountName:   strings.TrimSpace(bank.AccountName),
	}
	if !bank.Complete() {
		return User{}, fmt.Errorf("bank name, account number and account name required: %w", apperr.ErrInvalidInput)
	}
	if err := s.repo.UpdateBankDetails(ctx, userID, bank, s.now()); err != nil {
		return User{}, err
	}
	s.logger.Info("user.bank_details_updated", "user_id", userID)
	return s.repo.FindByID(ctx, userID)
}

// PayoutAccount implements wallet.PayoutDirectory.
func (s *Service) PayoutAccount(ctx context.Context, userID string) (wallet.PayoutAccount, error) {
	u, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return wallet.PayoutAccount{}, err
	}
	if !u.Bank.Complete() {
		return wallet.PayoutAccount{}, fmt.Errorf("user %s has no bank details: %w", userID, apperr.ErrMissingPayoutDestination)
	}
	return wallet.PayoutAccount{
		BankName:      u.Bank.BankName,
		AccountNumber: u.Bank.AccountNumber,
		AccountName:   u.Bank.AccountName,
	}, nil
}

// TokenVersion returns the version a token must carry to be accepted.
func (s *Service) TokenVersion(ctx context.Context, userID string) (int, error) {
	u, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.TokenVersion, nil
}

// RevokeTokens invalidates every token issued to the user so far.
func (s *Service) RevokeTokens(ctx context.Context, userID string) error {
	u, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokenVersion(ctx, u.ID, u.TokenVersion+1)
}

func (s *Service) issueCode(ctx context.Context, phone string) error {
	code, err := newCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.codes.Put(ctx, phone, hash, s.codeTTL); err != nil {
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindVerificationCode,
			Destination: phone,
			Body:        fmt.Sprintf("Your Solven verification code is %s. It expires in %d minutes.", code, int(s.codeTTL.Minutes())),
		}); err != nil {
			s.logger.Warn("user.code_not_sent", "error", err)
		}
	}
	return nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

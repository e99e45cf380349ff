package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	MarkPhoneVerified(ctx context.Context, id string, at time.Time) error
	UpdateBankDetails(ctx context.Context, id string, bank BankDetails, at time.Time) error
	UpdateTokenVersion(ctx context.Context, id string, version int) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed user repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, phone, role, first_name, last_name, email, phone_verified,
        bank_name, account_number, account_name, token_version, created_at, updated_at`

// Create inserts a new user. A taken phone number fails with apperr.ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, u User) error {
	_, err := txn.Querier(ctx, r.db).Exec(ctx, `INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.Phone, string(u.Role), u.FirstName, u.LastName, u.Email, u.PhoneVerified,
		u.Bank.BankName, u.Bank.AccountNumber, u.Bank.AccountName, u.TokenVersion,
		u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("phone %s already registered: %w", u.Phone, apperr.ErrConflict)
	}
	return err
}

// FindByID fetches a user by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByPhone fetches a user by normalized phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (r *PostgresRepository) one(ctx context.Context, query, key string) (User, error) {
	var (
		u    User
		role string
	)
	err := txn.Querier(ctx, r.db).QueryRow(ctx, query, key).Scan(
		&u.ID, &u.Phone, &role, &u.FirstName, &u.LastName, &u.Email, &u.PhoneVerified,
		&u.Bank.BankName, &u.Bank.AccountNumber, &u.Bank.AccountName, &u.TokenVersion,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// MarkPhoneVerified flags the phone number as confirmed.
func (r *PostgresRepository) MarkPhoneVerified(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, `UPDATE users SET phone_verified = TRUE, updated_at = $2 WHERE id = $1`, at.UTC())
}

// UpdateBankDetails replaces the payout bank account.
func (r *PostgresRepository) UpdateBankDetails(ctx context.Context, id string, bank BankDetails, at time.Time) error {
	return r.update(ctx, id, `UPDATE users SET bank_name = $2, account_number = $3, account_name = $4, updated_at = $5
        WHERE id = $1`, bank.BankName, bank.AccountNumber, bank.AccountName, at.UTC())
}

// UpdateTokenVersion stores the token version; tokens carrying an older one
// are rejected.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return r.update(ctx, id, `UPDATE users SET token_version = $2 WHERE id = $1`, version)
}

func (r *PostgresRepository) update(ctx context.Context, id, query string, args ...any) error {
	tag, err := txn.Querier(ctx, r.db).Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

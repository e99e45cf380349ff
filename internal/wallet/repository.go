package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

// Repository persists wallets.
type Repository interface {
	// Create inserts a wallet; a second wallet for the same user fails with
	// apperr.ErrConflict.
	Create(ctx context.Context, wallet Wallet) error
	GetByUser(ctx context.Context, userID string) (Wallet, error)
	// GetForUpdate reads the wallet and holds it until the surrounding unit of
	// work ends.
	GetForUpdate(ctx context.Context, userID string) (Wallet, error)
	UpdateBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error
	SetStatus(ctx context.Context, walletID string, status Status) error
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	_, err := txn.Querier(ctx, r.db).Exec(ctx, `INSERT INTO wallets (id, user_id, balance, currency, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wallet.ID, wallet.UserID, wallet.Balance, wallet.Currency, string(wallet.Status), wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("wallet for user %s: %w", wallet.UserID, apperr.ErrConflict)
	}
	return err
}

// GetByUser fetches the wallet owned by userID.
func (r *PostgresRepository) GetByUser(ctx context.Context, userID string) (Wallet, error) {
	return r.get(ctx, `SELECT id, user_id, balance, currency, status, created_at, updated_at
        FROM wallets WHERE user_id = $1`, userID)
}

// GetForUpdate locks the wallet row for the rest of the transaction.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, userID string) (Wallet, error) {
	return r.get(ctx, `SELECT id, user_id, balance, currency, status, created_at, updated_at
        FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *PostgresRepository) get(ctx context.Context, query, userID string) (Wallet, error) {
	var (
		w      Wallet
		status string
	)
	err := txn.Querier(ctx, r.db).QueryRow(ctx, query, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &status, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, fmt.Errorf("wallet for user %s: %w", userID, apperr.ErrNotFound)
	}
	if err != nil {
		return Wallet{}, err
	}
	w.Status = Status(status)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

// UpdateBalance stores the new balance.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	tag, err := txn.Querier(ctx, r.db).Exec(ctx, `UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`,
		walletID, balance, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, apperr.ErrNotFound)
	}
	return nil
}

// SetStatus freezes or unfreezes a wallet.
func (r *PostgresRepository) SetStatus(ctx context.Context, walletID string, status Status) error {
	tag, err := txn.Querier(ctx, r.db).Exec(ctx, `UPDATE wallets SET status = $2, updated_at = now() WHERE id = $1`,
		walletID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, apperr.ErrNotFound)
	}
	return nil
}

package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

// Store persists payment intents keyed by reference.
type Store interface {
	Create(ctx context.Context, in Intent) error
	Get(ctx context.Context, reference string) (Intent, error)
	Update(ctx context.Context, in Intent) error
}

// PostgresStore stores payment intents in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds an intent store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new intent.
func (s *PostgresStore) Create(ctx context.Context, in Intent) error {
	_, err := txn.Querier(ctx, s.db).Exec(ctx, `INSERT INTO payment_intents
        (reference, order_id, buyer_id, gateway, amount, status, authorization_url, account_number, escrow_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		in.Reference, in.OrderID, in.BuyerID, in.Gateway, in.Amount, string(in.Status),
		in.AuthorizationURL, in.AccountNumber, in.EscrowID, in.CreatedAt.UTC(), in.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("payment intent %s: %w", in.Reference, apperr.ErrConflict)
	}
	return err
}

// Get fetches an intent by reference.
func (s *PostgresStore) Get(ctx context.Context, reference string) (Intent, error) {
	var (
		in     Intent
		status string
	)
	err := txn.Querier(ctx, s.db).QueryRow(ctx, `SELECT reference, order_id, buyer_id, gateway, amount, status,
        authorization_url, account_number, escrow_id, created_at, updated_at
        FROM payment_intents WHERE reference = $1`, reference).Scan(
		&in.Reference, &in.OrderID, &in.BuyerID, &in.Gateway, &in.Amount, &status,
		&in.AuthorizationURL, &in.AccountNumber, &in.EscrowID, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Intent{}, fmt.Errorf("payment intent %s: %w", reference, apperr.ErrNotFound)
	}
	in.Status = IntentStatus(status)
	return in, err
}

// Update saves the mutable fields of an intent.
func (s *PostgresStore) Update(ctx context.Context, in Intent) error {
	tag, err := txn.Querier(ctx, s.db).Exec(ctx, `UPDATE payment_intents
        SET status = $2, authorization_url = $3, account_number = $4, escrow_id = $5, updated_at = $6
        WHERE reference = $1`,
		in.Reference, string(in.Status), in.AuthorizationURL, in.AccountNumber, in.EscrowID, in.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment intent %s: %w", in.Reference, apperr.ErrNotFound)
	}
	return nil
}

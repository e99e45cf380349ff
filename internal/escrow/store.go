package escrow

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

// Store persists escrows.
type Store interface {
	// Create inserts a HELD escrow. A second escrow for the same order or
	// payment reference fails with apperr.ErrDuplicateEscrow.
	Create(ctx context.Context, e Escrow) error
	Get(ctx context.Context, id string) (Escrow, error)
	GetByOrder(ctx context.Context, orderID string) (Escrow, error)
	ListByParticipant(ctx context.Context, userID string) ([]Escrow, error)
	// Transition sets the status to `to` only while it is one of from;
	// otherwise it fails with apperr.ErrInvalidState.
	Transition(ctx context.Context, id string, from []Status, to Status, res Resolution) (Escrow, error)
}

// PostgresStore stores escrows in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds an escrow store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, order_id, buyer_id, seller_id, amount, status, gateway, payment_reference,
        virtual_account_number, held_at, released_at, refunded_at, disputed_at,
        dispute_reason, disputed_by, refund_reason`

// Create inserts the escrow row.
func (s *PostgresStore) Create(ctx context.Context, e Escrow) error {
	_, err := txn.Querier(ctx, s.db).Exec(ctx, `INSERT INTO escrows (`+escrowColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, NULL, '', '', '')`,
		e.ID, e.OrderID, e.BuyerID, e.SellerID, e.Amount, string(e.Status), e.Gateway, e.PaymentReference,
		e.VirtualAccountNumber, e.HeldAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("order %s: %w", e.OrderID, apperr.ErrDuplicateEscrow)
	}
	return err
}

// Get fetches an escrow by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Escrow, error) {
	return s.one(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
}

// GetByOrder fetches the escrow of an order.
func (s *PostgresStore) GetByOrder(ctx context.Context, orderID string) (Escrow, error) {
	return s.one(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE order_id = $1`, orderID)
}

func (s *PostgresStore) one(ctx context.Context, query, key string) (Escrow, error) {
	e, err := scanEscrow(txn.Querier(ctx, s.db).QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Escrow{}, fmt.Errorf("escrow %s: %w", key, apperr.ErrNotFound)
	}
	return e, err
}

// ListByParticipant returns escrows where the user is buyer or seller.
func (s *PostgresStore) ListByParticipant(ctx context.Context, userID string) ([]Escrow, error) {
	rows, err := txn.Querier(ctx, s.db).Query(ctx, `SELECT `+escrowColumns+` FROM escrows
        WHERE buyer_id = $1 OR seller_id = $1 ORDER BY held_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Transition performs the compare-and-set on status.
func (s *PostgresStore) Transition(ctx context.Context, id string, from []Status, to Status, res Resolution) (Escrow, error) {
	allowed := make([]string, len(from))
	for i, f := range from {
		allowed[i] = string(f)
	}
	row := txn.Querier(ctx, s.db).QueryRow(ctx, `UPDATE escrows SET
            status = $2,
            released_at = CASE WHEN $2 = 'RELEASED' THEN $3 ELSE released_at END,
            refunded_at = CASE WHEN $2 = 'REFUNDED' THEN $3 ELSE refunded_at END,
            disputed_at = CASE WHEN $2 = 'DISPUTED' THEN $3 ELSE disputed_at END,
            refund_reason = CASE WHEN $2 = 'REFUNDED' THEN $4 ELSE refund_reason END,
            dispute_reason = CASE WHEN $2 = 'DISPUTED' THEN $4 ELSE dispute_reason END,
            disputed_by = CASE WHEN $2 = 'DISPUTED' THEN $5 ELSE disputed_by END
        WHERE id = $1 AND status = ANY($6)
        RETURNING `+escrowColumns, id, string(to), res.At.UTC(), res.Reason, res.By, allowed)
	e, err := scanEscrow(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Escrow{}, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Escrow{}, err
	}
	return Escrow{}, fmt.Errorf("escrow %s is %s, cannot become %s: %w", id, current.Status, to, apperr.ErrInvalidState)
}

func scanEscrow(row pgx.Row) (Escrow, error) {
	var (
		e      Escrow
		status string
	)
	if err := row.Scan(&e.ID, &e.OrderID, &e.BuyerID, &e.SellerID, &e.Amount, &status, &e.Gateway, &e.PaymentReference,
		&e.VirtualAccountNumber, &e.HeldAt, &e.ReleasedAt, &e.RefundedAt, &e.DisputedAt,
		&e.DisputeReason, &e.DisputedBy, &e.RefundReason); err != nil {
		return Escrow{}, err
	}
	e.Status = Status(status)
	e.HeldAt = e.HeldAt.UTC()
	return e, nil
}

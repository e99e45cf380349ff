package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

// Store persists orders. Transition is a compare-and-set on the status: it
// only succeeds while the order is in one of the expected source states.
type Store interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	ListByParticipant(ctx context.Context, userID string, role Role) ([]Order, error)
	Transition(ctx context.Context, id string, from []Status, to Status, at time.Time) (Order, error)
}

// PostgresStore stores orders in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds an order store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, buyer_id, seller_id, product_id, quantity, unit_price, total_amount,
        commission_amount, status, delivery_address, delivery_phone, created_at, updated_at, completed_at`

// Create inserts an order.
func (s *PostgresStore) Create(ctx context.Context, o Order) error {
	_, err := txn.Querier(ctx, s.db).Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.BuyerID, o.SellerID, o.ProductID, o.Quantity, o.UnitPrice, o.TotalAmount, o.CommissionAmount,
		string(o.Status), o.DeliveryAddress, o.DeliveryPhone, o.CreatedAt.UTC(), o.UpdatedAt.UTC(), o.CompletedAt)
	return err
}

// Get fetches one order.
func (s *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	row := txn.Querier(ctx, s.db).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return o, err
}

// ListByParticipant returns the user's orders, newest first.
func (s *PostgresStore) ListByParticipant(ctx context.Context, userID string, role Role) ([]Order, error) {
	var filter string
	switch role {
	case RoleBuyer:
		filter = `buyer_id = $1`
	case RoleSeller:
		filter = `seller_id = $1`
	default:
		filter = `(buyer_id = $1 OR seller_id = $1)`
	}
	rows, err := txn.Querier(ctx, s.db).Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+filter+`
        ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Transition moves the order to `to` if its current status is one of from.
func (s *PostgresStore) Transition(ctx context.Context, id string, from []Status, to Status, at time.Time) (Order, error) {
	allowed := make([]string, len(from))
	for i, f := range from {
		allowed[i] = string(f)
	}
	q := txn.Querier(ctx, s.db)
	row := q.QueryRow(ctx, `UPDATE orders
        SET status = $2, updated_at = $3,
            completed_at = CASE WHEN $2 = 'COMPLETED' THEN $3 ELSE completed_at END
        WHERE id = $1 AND status = ANY($4)
        RETURNING `+orderColumns, id, string(to), at.UTC(), allowed)
	o, err := scanOrder(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	return Order{}, fmt.Errorf("order %s is %s, cannot become %s: %w", id, current.Status, to, apperr.ErrInvalidTransition)
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o           Order
		status      string
		completedAt *time.Time
	)
	if err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.ProductID, &o.Quantity, &o.UnitPrice, &o.TotalAmount,
		&o.CommissionAmount, &status, &o.DeliveryAddress, &o.DeliveryPhone, &o.CreatedAt, &o.UpdatedAt, &completedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		o.CompletedAt = &t
	}
	return o, nil
}

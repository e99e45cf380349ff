package txn

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresManager opens one pgx transaction per unit of work and carries it in
// the context for the stores.
type PostgresManager struct {
	db *pgxpool.Pool
}

// NewPostgres builds a transaction manager over the pool.
func NewPostgres(db *pgxpool.Pool) *PostgresManager {
	return &PostgresManager{db: db}
}

// Do commits when fn returns nil and rolls back otherwise, including on panic.
func (m *PostgresManager) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if Active(ctx) {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	u := &unit{tx: tx}

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback(context.WithoutCancel(ctx))
		u.runAfterRollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

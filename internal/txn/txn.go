// Package txn provides units of work spanning several stores. Multi-entity
// changes (escrow release, wallet transfer, withdrawal) run inside Manager.Do
// so they commit together or not at all.
package txn

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Manager runs fn inside a unit of work. A Do nested in another Do joins the
// outer unit instead of opening a new one.
type Manager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Conn is the query surface shared by *pgxpool.Pool and pgx.Tx.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type unitKey struct{}

type unit struct {
	tx            pgx.Tx
	undo          []func()
	afterRollback []func(context.Context)
}

func current(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{}).(*unit)
	return u
}

func (u *unit) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

func (u *unit) runAfterRollback(ctx context.Context) {
	detached := Detach(ctx)
	for _, fn := range u.afterRollback {
		fn(detached)
	}
}

// Querier returns the transaction bound to ctx, or fallback when ctx carries
// none.
func Querier(ctx context.Context, fallback Conn) Conn {
	if u := current(ctx); u != nil && u.tx != nil {
		return u.tx
	}
	return fallback
}

// Active reports whether ctx is inside a unit of work.
func Active(ctx context.Context) bool {
	return current(ctx) != nil
}

// Detach returns a context that keeps ctx's values and deadline but is not
// bound to any unit of work.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, unitKey{}, nil)
}

// OnRollback registers undo to run if the unit of work bound to ctx fails.
// Only the in-memory stores need it. Outside a unit of work it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	if u := current(ctx); u != nil {
		u.undo = append(u.undo, undo)
	}
}

// AfterRollback schedules fn to run once the outermost unit of work has rolled
// back, with a context detached from it. Outside a unit of work fn runs
// immediately.
func AfterRollback(ctx context.Context, fn func(ctx context.Context)) {
	if u := current(ctx); u != nil {
		u.afterRollback = append(u.afterRollback, fn)
		return
	}
	fn(ctx)
}

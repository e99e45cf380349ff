package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/txn"
)

// PostgresStore persists ledger entries in PostgreSQL. Writes join the unit
// of work carried by the context.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, wallet_id, kind, amount, balance_before, balance_after, status,
        reference, correlation_id, description, metadata, created_at`

// Append inserts the entry. The unique reference index is the deduplication
// boundary; a conflict leaves the surrounding transaction usable.
func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	meta, err := EncodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	tag, err := txn.Querier(ctx, s.db).Exec(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (reference) DO NOTHING`,
		entry.ID, entry.WalletID, string(entry.Kind), entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
		string(entry.Status), entry.Reference, entry.CorrelationID, entry.Description, meta, entry.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reference %s: %w", entry.Reference, apperr.ErrDuplicateReference)
	}
	return nil
}

// ByReference fetches one entry.
func (s *PostgresStore) ByReference(ctx context.Context, reference string) (Entry, error) {
	row := txn.Querier(ctx, s.db).QueryRow(ctx, `SELECT `+entryColumns+`
        FROM ledger_entries WHERE reference = $1`, reference)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("ledger entry %s: %w", reference, apperr.ErrNotFound)
	}
	return entry, err
}

// ByCorrelation returns the entries written by one operation.
func (s *PostgresStore) ByCorrelation(ctx context.Context, correlationID string) ([]Entry, error) {
	rows, err := txn.Querier(ctx, s.db).Query(ctx, `SELECT `+entryColumns+`
        FROM ledger_entries WHERE correlation_id = $1 ORDER BY seq`, correlationID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Last returns the newest non-failed entry of the wallet.
func (s *PostgresStore) Last(ctx context.Context, walletID string) (Entry, bool, error) {
	row := txn.Querier(ctx, s.db).QueryRow(ctx, `SELECT `+entryColumns+`
        FROM ledger_entries WHERE wallet_id = $1 AND status <> 'FAILED'
        ORDER BY seq DESC LIMIT 1`, walletID)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// List returns the newest entries first.
func (s *PostgresStore) List(ctx context.Context, walletID string, limit int) ([]Entry, error) {
	rows, err := txn.Querier(ctx, s.db).Query(ctx, `SELECT `+entryColumns+`
        FROM ledger_entries WHERE wallet_id = $1 ORDER BY seq DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Sum recomputes the balance implied by the wallet's entries.
func (s *PostgresStore) Sum(ctx context.Context, walletID string) (decimal.Decimal, error) {
	const query = `
        SELECT COALESCE(SUM(CASE WHEN kind = 'CREDIT' THEN amount ELSE -amount END), 0)
        FROM ledger_entries
        WHERE wallet_id = $1 AND status <> 'FAILED'`
	var total decimal.Decimal
	if err := txn.Querier(ctx, s.db).QueryRow(ctx, query, walletID).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func collect(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		kind      string
		status    string
		meta      []byte
		createdAt time.Time
	)
	if err := row.Scan(&e.ID, &e.WalletID, &kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &status,
		&e.Reference, &e.CorrelationID, &e.Description, &meta, &createdAt); err != nil {
		return Entry{}, err
	}
	m, err := DecodeMetadata(meta)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.Status = Status(status)
	e.Metadata = m
	e.CreatedAt = createdAt.UTC()
	return e, nil
}

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry is one row of the schema_migrations table: a migration that is
// currently applied. Rows are inserted when an apply commits and deleted
// when a revert commits; they are never updated in place, so the table
// always mirrors the live schema history.
type Entry struct {
	Version         int64     `json:"version"`
	Name            string    `json:"name"`
	Checksum        string    `json:"checksum"`
	AppliedAt       time.Time `json:"applied_at"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
}

// Querier is the subset of pgx operations the ledger needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so the migrator can run reads on
// the pool and mutations on the transaction that carries the schema
// change itself.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger reads and mutates the schema_migrations table.
type Ledger struct {
	db Querier
}

// New creates a Ledger bound to the given querier.
func New(q Querier) *Ledger {
	return &Ledger{db: q}
}

// EnsureSchema creates the schema_migrations table and its applied_at
// index if they do not exist. Safe to call on every startup.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaCreation, err)
	}

	return nil
}

// ListApplied returns all applied migrations ordered by version ascending.
func (l *Ledger) ListApplied(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.Query(ctx,
		`SELECT version, name, checksum, applied_at, execution_time_ms
		 FROM schema_migrations
		 ORDER BY version`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		if scanErr := row.Scan(&e.Version, &e.Name, &e.Checksum, &e.AppliedAt, &e.ExecutionTimeMs); scanErr != nil {
			return Entry{}, fmt.Errorf("scanning ledger row: %w", scanErr)
		}

		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning applied migrations: %w", err)
	}

	return applied, nil
}

// RecordApplied inserts one row. It must run on the same transaction as
// the migration's apply SQL so the row and the schema change commit
// atomically. A plain INSERT, not an upsert: re-applying an existing
// version is a bug and should fail on the primary key.
func (l *Ledger) RecordApplied(ctx context.Context, e Entry) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO schema_migrations (version, name, checksum, execution_time_ms)
		 VALUES ($1, $2, $3, $4)`,
		e.Version, e.Name, e.Checksum, e.ExecutionTimeMs,
	)
	if err != nil {
		return fmt.Errorf("recording migration %d as applied: %w", e.Version, err)
	}

	return nil
}

// RemoveApplied deletes the row for the given version. It must run on the
// same transaction as the migration's revert SQL.
func (l *Ledger) RemoveApplied(ctx context.Context, version int64) error {
	tag, err := l.db.Exec(ctx,
		`DELETE FROM schema_migrations WHERE version = $1`,
		version,
	)
	if err != nil {
		return fmt.Errorf("removing migration %d from ledger: %w", version, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("migration %d: %w", version, ErrNotRecorded)
	}

	return nil
}

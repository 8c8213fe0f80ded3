package migrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aspenas/candlefish-website-sub012/internal/ledger"
)

// runInPoolTx runs fn inside a database transaction with the configured
// lock_timeout and statement_timeout applied. On success the transaction
// is committed; on any error it is rolled back, so partially-run SQL is
// never visible to other connections.
func (m *Migrator) runInPoolTx(ctx context.Context, fn func(q ledger.Querier) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return mapTimeout(ctx, fmt.Errorf("beginning transaction: %w", err))
	}

	defer tx.Rollback(ctx) //nolint:errcheck // rollback on committed tx returns ErrTxClosed

	if err := m.setTimeouts(ctx, tx); err != nil {
		return mapTimeout(ctx, err)
	}

	if err := fn(tx); err != nil {
		return mapTimeout(ctx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapTimeout(ctx, fmt.Errorf("committing transaction: %w", err))
	}

	return nil
}

// setTimeouts applies the configured lock_timeout and statement_timeout
// to the transaction so a stuck migration fails fast instead of holding
// locks indefinitely.
func (m *Migrator) setTimeouts(ctx context.Context, tx pgx.Tx) error {
	if m.lockTimeout > 0 {
		sql := fmt.Sprintf("SET lock_timeout = '%dms'", m.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("setting lock_timeout: %w", err)
		}
	}

	if m.statementTimeout > 0 {
		sql := fmt.Sprintf("SET statement_timeout = '%dms'", m.statementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("setting statement_timeout: %w", err)
		}
	}

	return nil
}

// mapTimeout distinguishes deadline expiry from ordinary execution
// failures: when the caller's context has expired, the operation is
// reported as a timeout regardless of the driver error it surfaced as.
func mapTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return err
}

// elapsed returns the duration since start using the migrator's clock.
func (m *Migrator) elapsed(start time.Time) time.Duration {
	return m.now().Sub(start)
}

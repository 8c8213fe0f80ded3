package database

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// lockKeyName seeds the advisory lock identifier. Deriving the key from a
// stable name rather than a magic number keeps it out of the way of other
// applications' advisory locks on the same database.
const lockKeyName = "schema_migrations.migrator"

// MigrationLockKey is the session advisory lock identifier that
// serializes migration runs against a database.
var MigrationLockKey = lockKey(lockKeyName) //nolint:gochecknoglobals // derived constant

func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name)) //nolint:errcheck // fnv Write never fails

	return int64(h.Sum64()) //nolint:gosec // wraparound is fine for a lock key
}

// LockHandle wraps a dedicated pooled connection holding a session-level
// advisory lock. Call Release to unlock and return the connection.
type LockHandle struct {
	conn *pgxpool.Conn
}

// TryAcquireLock attempts to take the migration advisory lock without
// blocking. It returns ErrLockNotAcquired when another migration run
// already holds the lock; callers should retry later rather than force
// through.
func TryAcquireLock(ctx context.Context, pool *pgxpool.Pool) (*LockHandle, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}

	var acquired bool

	err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", MigrationLockKey).Scan(&acquired)
	if err != nil {
		conn.Release()

		return nil, fmt.Errorf("executing pg_try_advisory_lock: %w", err)
	}

	if !acquired {
		conn.Release()

		return nil, ErrLockNotAcquired
	}

	return &LockHandle{conn: conn}, nil
}

// Release unlocks the advisory lock and returns the connection to the
// pool. Safe to call multiple times; subsequent calls are no-ops.
func (h *LockHandle) Release(ctx context.Context) error {
	if h == nil || h.conn == nil {
		return nil
	}

	_, err := h.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", MigrationLockKey)
	h.conn.Release()
	h.conn = nil

	if err != nil {
		return fmt.Errorf("releasing advisory lock: %w", err)
	}

	return nil
}

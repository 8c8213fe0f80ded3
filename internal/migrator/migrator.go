// Package migrator is the orchestration core of the migration engine: it
// diffs source migrations against the ledger, applies or reverts them
// inside transactions, and refuses to mutate state when validation fails.
package migrator

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/aspenas/candlefish-website-sub012/internal/backup"
	"github.com/aspenas/candlefish-website-sub012/internal/database"
	"github.com/aspenas/candlefish-website-sub012/internal/ledger"
	"github.com/aspenas/candlefish-website-sub012/internal/migration"
)

// Progress status constants reported via ProgressEvent.
const (
	StatusStarting = "starting"
	StatusApplied  = "applied"
	StatusReverted = "reverted"
	StatusFailed   = "failed"
	StatusPlanned  = "planned" // dry-run only
)

// ProgressEvent is emitted for each migration the migrator processes.
// In stepped mode an "applied" event means that migration's transaction
// has committed; in batch mode it means the statement ran inside the
// still-open batch transaction.
type ProgressEvent struct {
	Migration *migration.Migration
	Status    string
	Duration  time.Duration
	Error     error
}

// Source loads migration definitions, normally from a directory.
type Source interface {
	Load() ([]migration.Migration, error)
}

// DirSource reads migrations from a directory of versioned .sql files.
type DirSource struct {
	Dir string
}

// Load implements Source.
func (s DirSource) Load() ([]migration.Migration, error) {
	return migration.LoadFromDir(s.Dir)
}

// Store abstracts ledger operations for testability. *ledger.Ledger is
// the production implementation.
type Store interface {
	EnsureSchema(ctx context.Context) error
	ListApplied(ctx context.Context) ([]ledger.Entry, error)
	RecordApplied(ctx context.Context, e ledger.Entry) error
	RemoveApplied(ctx context.Context, version int64) error
}

// lockReleaser is returned by lockFn and must be released when done.
type lockReleaser interface {
	Release(ctx context.Context) error
}

// lockFunc acquires the migration advisory lock.
type lockFunc func(ctx context.Context) (lockReleaser, error)

// txFunc runs fn inside a transaction; the querier it passes to fn is
// the open transaction.
type txFunc func(ctx context.Context, fn func(q ledger.Querier) error) error

// storeFunc builds a Store bound to the given querier, so ledger writes
// land on the same transaction as the migration SQL.
type storeFunc func(q ledger.Querier) Store

// execFunc executes migration SQL on the given querier.
type execFunc func(ctx context.Context, q ledger.Querier, sql string) error

// directFunc executes SQL outside any transaction, for statements such
// as CREATE INDEX CONCURRENTLY that refuse to run in one.
type directFunc func(ctx context.Context, sql string) error

// Migrator coordinates source reading, validation, backup, locking, and
// transactional execution. It is designed for single-writer use; the
// advisory lock turns concurrent runs into fast failures.
type Migrator struct {
	pool             *pgxpool.Pool
	source           Source
	hook             backup.Hook
	backupEnabled    bool
	lockTimeout      time.Duration
	statementTimeout time.Duration
	onProgress       func(ProgressEvent)
	logger           logrus.FieldLogger

	// seams, replaceable in tests
	acquireLock lockFunc
	runInTx     txFunc
	storeFor    storeFunc
	execSQL     execFunc
	execDirect  directFunc
	now         func() time.Time
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithBackupHook enables the pre-migration backup. A failing hook aborts
// the run.
func WithBackupHook(h backup.Hook) Option {
	return func(m *Migrator) {
		m.hook = h
		m.backupEnabled = true
	}
}

// WithLockTimeout sets the per-transaction lock_timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Migrator) { m.lockTimeout = d }
}

// WithStatementTimeout sets the per-transaction statement_timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(m *Migrator) { m.statementTimeout = d }
}

// WithProgress sets a callback fired for each migration processed.
func WithProgress(fn func(ProgressEvent)) Option {
	return func(m *Migrator) { m.onProgress = fn }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Migrator) { m.logger = l }
}

// New creates a Migrator reading from source and executing against pool.
func New(pool *pgxpool.Pool, source Source, opts ...Option) *Migrator {
	m := &Migrator{
		pool:   pool,
		source: source,
		hook:   backup.NoopHook{},
		logger: logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	// Defaults for injectable seams are set after options so tests can
	// replace them via struct fields without racing the constructor.
	if m.acquireLock == nil {
		m.acquireLock = func(ctx context.Context) (lockReleaser, error) {
			return database.TryAcquireLock(ctx, m.pool)
		}
	}

	if m.runInTx == nil {
		m.runInTx = m.runInPoolTx
	}

	if m.storeFor == nil {
		m.storeFor = func(q ledger.Querier) Store { return ledger.New(q) }
	}

	if m.execSQL == nil {
		m.execSQL = func(ctx context.Context, q ledger.Querier, sql string) error {
			_, err := q.Exec(ctx, sql)
			return err
		}
	}

	if m.execDirect == nil {
		m.execDirect = func(ctx context.Context, sql string) error {
			_, err := m.pool.Exec(ctx, sql)
			return err
		}
	}

	if m.now == nil {
		m.now = time.Now
	}

	return m
}

func (m *Migrator) fireProgress(event ProgressEvent) {
	if m.onProgress != nil {
		m.onProgress(event)
	}
}

// plan loads the source set and the applied set and returns both plus
// the pending migrations in ascending version order.
func (m *Migrator) plan(ctx context.Context) (src []migration.Migration, applied []ledger.Entry, pending []migration.Migration, err error) {
	src, err = m.source.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	store := m.storeFor(m.pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, err
	}

	applied, err = store.ListApplied(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	appliedSet := make(map[int64]bool, len(applied))
	for _, e := range applied {
		appliedSet[e.Version] = true
	}

	for _, mig := range src {
		if !appliedSet[mig.Version] {
			pending = append(pending, mig)
		}
	}

	return src, applied, pending, nil
}

// runBackup invokes the hook if one is configured. Failure is a
// precondition failure of the whole operation, never logged-and-ignored.
func (m *Migrator) runBackup(ctx context.Context) error {
	if !m.backupEnabled {
		return nil
	}

	m.logger.Info("running pre-migration backup")

	if err := m.hook.Run(ctx); err != nil {
		return mapTimeout(ctx, err)
	}

	return nil
}

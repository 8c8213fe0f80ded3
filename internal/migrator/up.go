package migrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aspenas/candlefish-website-sub012/internal/ledger"
	"github.com/aspenas/candlefish-website-sub012/internal/migration"
	"github.com/aspenas/candlefish-website-sub012/internal/safety"
)

// UpOptions controls a forward migration run.
type UpOptions struct {
	// Steps limits the run to the first N pending migrations. Zero means
	// the whole pending set, executed in a single all-or-nothing
	// transaction; a positive value switches to one transaction per
	// migration so large batches retain partial progress.
	Steps int
	// DryRun plans without executing any SQL or touching the ledger.
	DryRun bool
	// Force skips the drift check and the destructive-statement gate.
	Force bool
}

// UpResult describes what an Up call planned and did. It is populated
// even when an error is returned, so callers can always report the last
// successfully applied version alongside the failure.
type UpResult struct {
	Planned     []migration.Migration // pending migrations the call set out to apply
	Applied     []migration.Migration // migrations whose transactions committed
	LastApplied int64                 // highest applied version after the call, 0 if none
	DryRun      bool
}

// Up applies pending migrations in ascending version order. Validation
// runs first: drift between the ledger and the source blocks the run
// unless forced. The backup hook (when configured) and the advisory lock
// precede any mutation.
func (m *Migrator) Up(ctx context.Context, opts UpOptions) (*UpResult, error) {
	src, applied, pending, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}

	res := &UpResult{LastApplied: lastVersion(applied), DryRun: opts.DryRun}

	if !opts.Force {
		if _, err := validateAgainst(src, applied); err != nil {
			return res, err
		}
	}

	pending = limitSteps(pending, opts.Steps)
	res.Planned = pending

	if len(pending) == 0 {
		return res, nil
	}

	if opts.DryRun {
		for i := range pending {
			m.fireProgress(ProgressEvent{Migration: &pending[i], Status: StatusPlanned})
		}

		return res, nil
	}

	if err := m.runBackup(ctx); err != nil {
		return res, err
	}

	lock, err := m.acquireLock(ctx)
	if err != nil {
		return res, mapTimeout(ctx, err)
	}
	defer lock.Release(ctx) //nolint:errcheck // best-effort release on return

	// Recompute under the lock: another process may have applied
	// migrations between planning and lock acquisition.
	_, applied, pending, err = m.plan(ctx)
	if err != nil {
		return res, err
	}

	res.LastApplied = lastVersion(applied)
	pending = limitSteps(pending, opts.Steps)
	res.Planned = pending

	if len(pending) == 0 {
		return res, nil
	}

	inspections, err := m.inspectPending(pending, opts)
	if err != nil {
		return res, err
	}

	m.logger.WithField("pending", len(pending)).Debug("applying migrations")

	if opts.Steps == 0 {
		err = m.applyBatch(ctx, pending, res)
	} else {
		err = m.applyStepped(ctx, pending, inspections, res)
	}

	if err == nil {
		m.logger.WithFields(logrus.Fields{
			"applied": len(res.Applied),
			"version": res.LastApplied,
		}).Info("migrations applied")
	}

	return res, err
}

// inspectPending runs the safety inspection over the pending set and
// enforces the gates: destructive statements need a backup or force, and
// non-transactional statements are incompatible with the batch
// transaction.
func (m *Migrator) inspectPending(pending []migration.Migration, opts UpOptions) ([]*safety.Report, error) {
	reports := make([]*safety.Report, len(pending))

	for i := range pending {
		rep, err := safety.Inspect(pending[i].UpSQL)
		if err != nil {
			return nil, &ExecError{Version: pending[i].Version, Name: pending[i].Name, Err: err}
		}

		reports[i] = rep

		if rep.HasDestructive() && !opts.Force && !m.backupEnabled {
			f := rep.Destructive[0]

			return nil, fmt.Errorf("%w: %s contains %s on %s",
				ErrDestructiveBlocked, pending[i].Ref(), f.Operation, f.Table)
		}

		if rep.NonTransactional && opts.Steps == 0 {
			return nil, fmt.Errorf("%s: %w", pending[i].Ref(), ErrNonTransactional)
		}
	}

	return reports, nil
}

// applyBatch executes the whole pending set inside one transaction. If
// any migration fails, the transaction rolls back and the ledger is left
// exactly as it was before the call.
func (m *Migrator) applyBatch(ctx context.Context, pending []migration.Migration, res *UpResult) error {
	var applied []migration.Migration

	err := m.runInTx(ctx, func(q ledger.Querier) error {
		store := m.storeFor(q)

		for i := range pending {
			if err := m.applyOne(ctx, q, store, &pending[i]); err != nil {
				return err
			}

			applied = append(applied, pending[i])
		}

		return nil
	})
	if err != nil {
		return err
	}

	res.Applied = applied
	res.LastApplied = applied[len(applied)-1].Version

	return nil
}

// applyStepped executes pending migrations one transaction at a time,
// committing and reporting progress after each. Non-transactional
// migrations run directly on the pool, with the ledger row recorded
// immediately after since the index build itself cannot be transactional.
func (m *Migrator) applyStepped(ctx context.Context, pending []migration.Migration, inspections []*safety.Report, res *UpResult) error {
	for i := range pending {
		mig := &pending[i]

		var err error
		if inspections[i].NonTransactional {
			err = m.applyOutsideTx(ctx, mig)
		} else {
			err = m.runInTx(ctx, func(q ledger.Querier) error {
				return m.applyOne(ctx, q, m.storeFor(q), mig)
			})
		}

		if err != nil {
			return err
		}

		res.Applied = append(res.Applied, *mig)
		res.LastApplied = mig.Version
	}

	return nil
}

// applyOne executes a single migration's SQL on q, measures it, and
// records the ledger entry through store. Errors carry the migration's
// identity.
func (m *Migrator) applyOne(ctx context.Context, q ledger.Querier, store Store, mig *migration.Migration) error {
	m.fireProgress(ProgressEvent{Migration: mig, Status: StatusStarting})

	start := m.now()

	if err := m.execSQL(ctx, q, mig.UpSQL); err != nil {
		duration := m.elapsed(start)
		m.fireProgress(ProgressEvent{Migration: mig, Status: StatusFailed, Duration: duration, Error: err})

		return &ExecError{Version: mig.Version, Name: mig.Name, Err: err}
	}

	duration := m.elapsed(start)

	err := store.RecordApplied(ctx, ledger.Entry{
		Version:         mig.Version,
		Name:            mig.Name,
		Checksum:        mig.Checksum,
		ExecutionTimeMs: duration.Milliseconds(),
	})
	if err != nil {
		return &ExecError{Version: mig.Version, Name: mig.Name, Err: err}
	}

	m.fireProgress(ProgressEvent{Migration: mig, Status: StatusApplied, Duration: duration})

	return nil
}

// applyOutsideTx handles migrations that refuse to run in a transaction
// block. The ledger row is written right after the SQL succeeds; the two
// cannot be atomic here.
func (m *Migrator) applyOutsideTx(ctx context.Context, mig *migration.Migration) error {
	m.fireProgress(ProgressEvent{Migration: mig, Status: StatusStarting})

	start := m.now()

	if err := m.execDirect(ctx, mig.UpSQL); err != nil {
		duration := m.elapsed(start)
		m.fireProgress(ProgressEvent{Migration: mig, Status: StatusFailed, Duration: duration, Error: err})

		return mapTimeout(ctx, &ExecError{Version: mig.Version, Name: mig.Name, Err: err})
	}

	duration := m.elapsed(start)

	err := m.storeFor(m.pool).RecordApplied(ctx, ledger.Entry{
		Version:         mig.Version,
		Name:            mig.Name,
		Checksum:        mig.Checksum,
		ExecutionTimeMs: duration.Milliseconds(),
	})
	if err != nil {
		return &ExecError{Version: mig.Version, Name: mig.Name, Err: err}
	}

	m.fireProgress(ProgressEvent{Migration: mig, Status: StatusApplied, Duration: duration})

	return nil
}

func limitSteps(pending []migration.Migration, steps int) []migration.Migration {
	if steps > 0 && steps < len(pending) {
		return pending[:steps]
	}

	return pending
}

func lastVersion(applied []ledger.Entry) int64 {
	if len(applied) == 0 {
		return 0
	}

	return applied[len(applied)-1].Version
}

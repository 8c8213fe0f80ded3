package migrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aspenas/candlefish-website-sub012/internal/ledger"
	"github.com/aspenas/candlefish-website-sub012/internal/migration"
)

// DownOptions controls a rollback run.
type DownOptions struct {
	// Steps is the number of versions to revert; zero means one.
	Steps int
	// DryRun plans without executing any SQL or touching the ledger.
	DryRun bool
}

// DownResult describes what a Down call planned and did, populated even
// on error.
type DownResult struct {
	Planned     []migration.Migration // migrations to revert, highest version first
	Reverted    []migration.Migration // migrations whose revert transactions committed
	LastApplied int64                 // highest applied version after the call, 0 if none
	DryRun      bool
}

// Down reverts applied migrations one version at a time, highest first.
// Each revert runs in its own transaction (revert SQL plus ledger
// deletion), so a failure's blast radius is a single version: everything
// reverted before it stays reverted.
func (m *Migrator) Down(ctx context.Context, opts DownOptions) (*DownResult, error) {
	src, applied, _, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}

	steps := opts.Steps
	if steps <= 0 {
		steps = 1
	}

	res := &DownResult{LastApplied: lastVersion(applied), DryRun: opts.DryRun}

	planned, err := revertPlan(src, applied, steps)
	if err != nil {
		return res, err
	}

	res.Planned = planned

	if len(planned) == 0 {
		return res, nil
	}

	if opts.DryRun {
		for i := range planned {
			m.fireProgress(ProgressEvent{Migration: &planned[i], Status: StatusPlanned})
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

	// Rebuild the plan under the lock; the applied set may have moved.
	_, applied, _, err = m.plan(ctx)
	if err != nil {
		return res, err
	}

	res.LastApplied = lastVersion(applied)

	planned, err = revertPlan(src, applied, steps)
	if err != nil {
		return res, err
	}

	res.Planned = planned

	for i := range planned {
		if err := m.revertOne(ctx, &planned[i]); err != nil {
			return res, err
		}

		res.Reverted = append(res.Reverted, planned[i])

		if i+1 < len(planned) {
			res.LastApplied = planned[i+1].Version
		} else {
			res.LastApplied = highestRemaining(applied, len(planned))
		}
	}

	m.logger.WithFields(logrus.Fields{
		"reverted": len(res.Reverted),
		"version":  res.LastApplied,
	}).Info("migrations reverted")

	return res, nil
}

// revertPlan selects the top `steps` applied versions (highest first) and
// resolves each to its source migration, verifying a revert is possible
// before any SQL runs.
func revertPlan(src []migration.Migration, applied []ledger.Entry, steps int) ([]migration.Migration, error) {
	if len(applied) == 0 {
		return nil, nil
	}

	if steps > len(applied) {
		steps = len(applied)
	}

	byVersion := make(map[int64]*migration.Migration, len(src))
	for i := range src {
		byVersion[src[i].Version] = &src[i]
	}

	planned := make([]migration.Migration, 0, steps)

	for i := 0; i < steps; i++ {
		entry := applied[len(applied)-1-i]

		mig, ok := byVersion[entry.Version]
		if !ok {
			return nil, fmt.Errorf("migration %03d_%s: %w", entry.Version, entry.Name, ErrMissingSource)
		}

		if !mig.Revertible() {
			return nil, fmt.Errorf("%s: %w", mig.Ref(), ErrNoRevert)
		}

		planned = append(planned, *mig)
	}

	return planned, nil
}

// revertOne runs one migration's down section and deletes its ledger row
// in the same transaction.
func (m *Migrator) revertOne(ctx context.Context, mig *migration.Migration) error {
	m.fireProgress(ProgressEvent{Migration: mig, Status: StatusStarting})

	start := m.now()

	err := m.runInTx(ctx, func(q ledger.Querier) error {
		if err := m.execSQL(ctx, q, mig.DownSQL); err != nil {
			return &ExecError{Version: mig.Version, Name: mig.Name, Err: err}
		}

		if err := m.storeFor(q).RemoveApplied(ctx, mig.Version); err != nil {
			return &ExecError{Version: mig.Version, Name: mig.Name, Err: err}
		}

		return nil
	})

	duration := m.elapsed(start)

	if err != nil {
		m.fireProgress(ProgressEvent{Migration: mig, Status: StatusFailed, Duration: duration, Error: err})

		return err
	}

	m.fireProgress(ProgressEvent{Migration: mig, Status: StatusReverted, Duration: duration})

	return nil
}

// highestRemaining returns the highest applied version once the top
// `reverted` entries are gone, or 0 when none remain.
func highestRemaining(applied []ledger.Entry, reverted int) int64 {
	remaining := len(applied) - reverted
	if remaining <= 0 {
		return 0
	}

	return applied[remaining-1].Version
}

package migrator

import (
	"context"
	"fmt"

	"github.com/aspenas/candlefish-website-sub012/internal/ledger"
	"github.com/aspenas/candlefish-website-sub012/internal/migration"
	"github.com/aspenas/candlefish-website-sub012/internal/report"
)

// Status returns the applied-versus-pending view. Read-only: nothing is
// executed and the ledger is not mutated (beyond the idempotent schema
// creation, so Status works against a fresh database).
func (m *Migrator) Status(ctx context.Context) (*report.Status, error) {
	src, applied, pending, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}

	st := &report.Status{
		Applied: applied,
		Pending: make([]report.Pending, 0, len(pending)),
		Gaps:    migration.FindGaps(knownVersions(src, applied)),
	}

	for _, p := range pending {
		st.Pending = append(st.Pending, report.Pending{Version: p.Version, Name: p.Name})
	}

	return st, nil
}

// Validate recomputes every applied migration's checksum from the current
// source and compares it with the ledger. Drift or a missing source file
// is an error (and blocks Up unless forced); version gaps are warnings.
// The report is returned alongside the error so callers can render the
// full picture.
func (m *Migrator) Validate(ctx context.Context) (*report.Validation, error) {
	src, applied, _, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}

	return validateAgainst(src, applied)
}

// validateAgainst builds the validation report for a loaded source set
// and applied ledger entries.
func validateAgainst(src []migration.Migration, applied []ledger.Entry) (*report.Validation, error) {
	byVersion := make(map[int64]*migration.Migration, len(src))
	for i := range src {
		byVersion[src[i].Version] = &src[i]
	}

	v := &report.Validation{
		Gaps: migration.FindGaps(knownVersions(src, applied)),
	}

	for _, entry := range applied {
		mig, ok := byVersion[entry.Version]
		if !ok {
			v.MissingSource = append(v.MissingSource, entry.Version)
			continue
		}

		if mig.Checksum != entry.Checksum {
			v.Drift = append(v.Drift, report.Drift{
				Version:  entry.Version,
				Name:     entry.Name,
				Recorded: entry.Checksum,
				Current:  mig.Checksum,
			})
		}
	}

	switch {
	case len(v.Drift) > 0:
		return v, fmt.Errorf("migration %03d_%s: %w", v.Drift[0].Version, v.Drift[0].Name, ErrModifiedMigration)
	case len(v.MissingSource) > 0:
		return v, fmt.Errorf("migration %03d: %w", v.MissingSource[0], ErrMissingSource)
	default:
		return v, nil
	}
}

// knownVersions is the union of source and applied versions, the
// sequence gap detection scans.
func knownVersions(src []migration.Migration, applied []ledger.Entry) []int64 {
	seen := make(map[int64]bool, len(src)+len(applied))
	versions := make([]int64, 0, len(src)+len(applied))

	for _, mig := range src {
		if !seen[mig.Version] {
			seen[mig.Version] = true
			versions = append(versions, mig.Version)
		}
	}

	for _, e := range applied {
		if !seen[e.Version] {
			seen[e.Version] = true
			versions = append(versions, e.Version)
		}
	}

	return versions
}

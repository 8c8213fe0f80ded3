package migrator

import (
	"errors"
	"fmt"
)

// ErrModifiedMigration indicates an applied migration's source no longer
// matches the checksum recorded at apply time. Schema history and source
// code have diverged; Up refuses to run until the caller forces it.
var ErrModifiedMigration = errors.New("applied migration modified since apply")

// ErrMissingSource indicates a ledger entry whose migration file is gone
// from the source directory.
var ErrMissingSource = errors.New("applied migration missing from source")

// ErrNoRevert indicates Down was requested for a migration without a
// down section.
var ErrNoRevert = errors.New("migration has no down section")

// ErrTimeout indicates the operation exceeded the caller's deadline; the
// enclosing transaction was rolled back.
var ErrTimeout = errors.New("migration run exceeded deadline")

// ErrDestructiveBlocked indicates a migration containing destructive
// statements was blocked because neither a backup hook nor force was set.
var ErrDestructiveBlocked = errors.New("destructive migration blocked (enable backups or force)")

// ErrNonTransactional indicates a batch Up encountered a statement that
// cannot run inside a transaction block (e.g. CREATE INDEX CONCURRENTLY),
// which would void the all-or-nothing guarantee. Use stepped mode.
var ErrNonTransactional = errors.New("migration cannot run inside the batch transaction; use stepped mode")

// ExecError reports a failed apply or revert, identifying the offending
// migration. The enclosing transaction was rolled back in full.
type ExecError struct {
	Version int64
	Name    string
	Err     error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("migration %03d_%s: %v", e.Version, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error { return e.Err }

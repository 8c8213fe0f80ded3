package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Migration represents a single database migration loaded from disk.
// The apply and revert sections come from one .sql file split on the
// "-- +up" and "-- +down" sentinel lines.
type Migration struct {
	Version  int64  // parsed from the filename prefix, e.g. 1 for "001_create_users.sql"
	Name     string // filename stem minus the version prefix, e.g. "create_users"
	UpSQL    string // SQL executed when applying the migration
	DownSQL  string // SQL executed when reverting; empty means revert is unsupported
	Checksum string // SHA-256 hex digest of UpSQL
	FilePath string // path to the source file
}

// Ref returns the canonical "<version>_<name>" identifier used in logs
// and CLI output.
func (m *Migration) Ref() string {
	return fmt.Sprintf("%03d_%s", m.Version, m.Name)
}

// Revertible reports whether the migration has a down section.
func (m *Migration) Revertible() bool {
	return m.DownSQL != ""
}

// ComputeChecksum returns the SHA-256 hex digest of the given SQL string.
func ComputeChecksum(sql string) string {
	h := sha256.Sum256([]byte(sql))

	return hex.EncodeToString(h[:])
}

// Sort returns a new slice of migrations sorted by version ascending.
func Sort(migrations []Migration) []Migration {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	return sorted
}

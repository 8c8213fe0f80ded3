package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// namePattern restricts scaffold names to the characters the loader accepts.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`) //nolint:gochecknoglobals // compiled once

// fileTemplate is the body written into a newly scaffolded migration file.
const fileTemplate = `-- +up
-- SQL applied when migrating forward.


-- +down
-- SQL applied when rolling back. Remove this section if the
-- migration cannot be reverted.

`

// CreateFile scaffolds a new migration file in dir named
// "<version>_<name>.sql", where version is one past the highest version
// already present. It returns the path of the created file.
func CreateFile(dir, name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q (use letters, digits, underscores, hyphens)", ErrInvalidName, name)
	}

	existing, err := LoadFromDir(dir)
	if err != nil {
		return "", err
	}

	var next int64 = 1
	if n := len(existing); n > 0 {
		next = existing[n-1].Version + 1
	}

	path := filepath.Join(dir, fmt.Sprintf("%03d_%s.sql", next, name))

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrMigrationExists, path)
	}

	if err := os.WriteFile(path, []byte(fileTemplate), 0o644); err != nil { //nolint:mnd,gosec // migration files are world-readable source
		return "", fmt.Errorf("writing migration file %s: %w", path, err)
	}

	return path, nil
}

package migration

import "errors"

// ErrMalformedMigration indicates a migration file whose filename or
// sentinel markers could not be parsed.
var ErrMalformedMigration = errors.New("malformed migration file")

// ErrDuplicateVersion indicates two migration files claim the same version.
var ErrDuplicateVersion = errors.New("duplicate migration version")

// ErrMigrationExists indicates a scaffolded file would overwrite an
// existing migration.
var ErrMigrationExists = errors.New("migration file already exists")

// ErrInvalidName indicates a scaffold name that does not fit the
// filename convention.
var ErrInvalidName = errors.New("invalid migration name")

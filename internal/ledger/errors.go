package ledger

import "errors"

// ErrSchemaCreation indicates the schema_migrations table could not be created.
var ErrSchemaCreation = errors.New("creating schema_migrations table")

// ErrNotRecorded indicates no ledger row exists for the given version.
var ErrNotRecorded = errors.New("migration not recorded in ledger")

package ledger

// createSchemaSQL is the DDL for the schema_migrations tracking table.
// The applied_at index supports the reporter's chronological views.
const createSchemaSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version            BIGINT PRIMARY KEY,
    name               TEXT NOT NULL,
    checksum           TEXT NOT NULL,
    applied_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    execution_time_ms  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schema_migrations_applied_at
    ON schema_migrations (applied_at)`

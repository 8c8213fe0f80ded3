//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspenas/candlefish-website-sub012/internal/database"
	"github.com/aspenas/candlefish-website-sub012/internal/migrator"
)

const (
	usersMigration = `-- +up
CREATE TABLE users (id SERIAL PRIMARY KEY, name TEXT NOT NULL, email TEXT);

-- +down
DROP TABLE users;
`
	emailIndexMigration = `-- +up
CREATE INDEX idx_users_email ON users (email);

-- +down
DROP INDEX idx_users_email;
`
	sessionsMigration = `-- +up
CREATE TABLE sessions (
    id SERIAL PRIMARY KEY,
    user_id INTEGER REFERENCES users(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- +down
DROP TABLE sessions;
`
)

// writeMigrationDir writes files into a fresh directory and returns it.
func writeMigrationDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	return dir
}

func defaultMigrationDir(t *testing.T) string {
	t.Helper()

	return writeMigrationDir(t, map[string]string{
		"001_create_users.sql":          usersMigration,
		"002_add_users_email_index.sql": emailIndexMigration,
		"003_add_sessions.sql":          sessionsMigration,
	})
}

func newMigrator(pool *pgxpool.Pool, dir string, opts ...migrator.Option) *migrator.Migrator {
	return migrator.New(pool, migrator.DirSource{Dir: dir}, opts...)
}

func tableExists(t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()

	var exists bool
	err := pool.QueryRow(context.Background(),
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)", name,
	).Scan(&exists)
	require.NoError(t, err)

	return exists
}

func indexExists(t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()

	var exists bool
	err := pool.QueryRow(context.Background(),
		"SELECT EXISTS(SELECT 1 FROM pg_indexes WHERE indexname = $1)", name,
	).Scan(&exists)
	require.NoError(t, err)

	return exists
}

func TestUp_appliesAllAndRecordsLedger(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	dir := defaultMigrationDir(t)

	var events []migrator.ProgressEvent
	m := newMigrator(pool, dir, migrator.WithProgress(func(e migrator.ProgressEvent) {
		events = append(events, e)
	}))

	res, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)

	require.Len(t, res.Applied, 3)
	assert.Equal(t, int64(3), res.LastApplied)

	assert.True(t, tableExists(t, pool, "users"))
	assert.True(t, tableExists(t, pool, "sessions"))
	assert.True(t, indexExists(t, pool, "idx_users_email"))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Applied, 3)
	assert.Empty(t, st.Pending)

	for _, e := range st.Applied {
		assert.False(t, e.AppliedAt.IsZero())
		assert.GreaterOrEqual(t, e.ExecutionTimeMs, int64(0))
	}

	// 3 starting + 3 applied events in version order.
	require.Len(t, events, 6)
	assert.Equal(t, migrator.StatusStarting, events[0].Status)
	assert.Equal(t, int64(1), events[0].Migration.Version)
	assert.Equal(t, migrator.StatusApplied, events[5].Status)
	assert.Equal(t, int64(3), events[5].Migration.Version)
}

func TestUp_secondRun_isNoop(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	dir := defaultMigrationDir(t)
	m := newMigrator(pool, dir)

	_, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)

	res, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Planned)
	assert.Empty(t, res.Applied)
}

func TestUp_batchFailure_leavesDatabaseUntouched(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	dir := writeMigrationDir(t, map[string]string{
		"001_create_users.sql":     usersMigration,
		"002_add_sessions.sql":     sessionsMigration,
		"003_broken_reference.sql": "-- +up\nCREATE TABLE bad (fk INTEGER REFERENCES nonexistent(id));\n\n-- +down\nDROP TABLE bad;\n",
	})

	m := newMigrator(pool, dir)

	_, err := m.Up(ctx, migrator.UpOptions{})
	require.Error(t, err)

	var execErr *migrator.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, int64(3), execErr.Version)

	// The whole batch rolled back: no tables, no ledger rows.
	assert.False(t, tableExists(t, pool, "users"))
	assert.False(t, tableExists(t, pool, "sessions"))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Applied)
}

func TestUp_steppedFailure_keepsCommittedVersions(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	dir := writeMigrationDir(t, map[string]string{
		"001_create_users.sql":     usersMigration,
		"002_add_sessions.sql":     sessionsMigration,
		"003_broken_reference.sql": "-- +up\nCREATE TABLE bad (fk INTEGER REFERENCES nonexistent(id));\n\n-- +down\nDROP TABLE bad;\n",
	})

	m := newMigrator(pool, dir)

	res, err := m.Up(ctx, migrator.UpOptions{Steps: 3})
	require.Error(t, err)
	require.Len(t, res.Applied, 2)

	assert.True(t, tableExists(t, pool, "users"))
	assert.True(t, tableExists(t, pool, "sessions"))
	assert.False(t, tableExists(t, pool, "bad"))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Applied, 2)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, int64(3), st.Pending[0].Version)
}

func TestUpDown_roundTrip_restoresSchema(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	dir := defaultMigrationDir(t)
	m := newMigrator(pool, dir)

	_, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)

	res, err := m.Down(ctx, migrator.DownOptions{Steps: 3})
	require.NoError(t, err)
	require.Len(t, res.Reverted, 3)
	assert.Zero(t, res.LastApplied)

	assert.False(t, tableExists(t, pool, "users"))
	assert.False(t, tableExists(t, pool, "sessions"))
	assert.False(t, indexExists(t, pool, "idx_users_email"))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Applied)
	require.Len(t, st.Pending, 3)
}

func TestDown_oneStep_revertsHighestOnly(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	dir := defaultMigrationDir(t)
	m := newMigrator(pool, dir)

	_, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)

	res, err := m.Down(ctx, migrator.DownOptions{})
	require.NoError(t, err)
	require.Len(t, res.Reverted, 1)
	assert.Equal(t, int64(3), res.Reverted[0].Version)
	assert.Equal(t, int64(2), res.LastApplied)

	assert.True(t, tableExists(t, pool, "users"))
	assert.False(t, tableExists(t, pool, "sessions"))
}

func TestValidate_detectsEditedFile(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	dir := defaultMigrationDir(t)
	m := newMigrator(pool, dir)

	_, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)

	// Edit an applied migration's up section.
	edited := `-- +up
CREATE TABLE users (id SERIAL PRIMARY KEY);

-- +down
DROP TABLE users;
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_create_users.sql"), []byte(edited), 0o644))

	v, err := m.Validate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, migrator.ErrModifiedMigration)
	require.Len(t, v.Drift, 1)
	assert.Equal(t, int64(1), v.Drift[0].Version)

	// Drift also blocks further Up runs.
	_, err = m.Up(ctx, migrator.UpOptions{})
	require.ErrorIs(t, err, migrator.ErrModifiedMigration)
}

func TestValidate_detectsDeletedFile(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	dir := defaultMigrationDir(t)
	m := newMigrator(pool, dir)

	_, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "002_add_users_email_index.sql")))

	v, err := m.Validate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, migrator.ErrMissingSource)
	assert.Equal(t, []int64{2}, v.MissingSource)
}

func TestUp_concurrentIndex_steppedMode(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	dir := writeMigrationDir(t, map[string]string{
		"001_create_users.sql": usersMigration,
		"002_add_email_index_concurrently.sql": `-- +up
CREATE INDEX CONCURRENTLY idx_users_email_cc ON users (email);

-- +down
DROP INDEX idx_users_email_cc;
`,
	})

	m := newMigrator(pool, dir)

	// Batch mode refuses the non-transactional statement.
	_, err := m.Up(ctx, migrator.UpOptions{})
	require.ErrorIs(t, err, migrator.ErrNonTransactional)
	assert.False(t, tableExists(t, pool, "users"))

	// Stepped mode runs it outside a transaction.
	res, err := m.Up(ctx, migrator.UpOptions{Steps: 2})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	assert.True(t, indexExists(t, pool, "idx_users_email_cc"))
}

func TestUp_destructiveStatement_gatedOnForce(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	dir := writeMigrationDir(t, map[string]string{
		"001_create_users.sql": usersMigration,
	})

	m := newMigrator(pool, dir)
	_, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)

	dropDir := writeMigrationDir(t, map[string]string{
		"001_create_users.sql": usersMigration,
		"002_drop_users.sql":   "-- +up\nDROP TABLE users;\n\n-- +down\n",
	})

	m2 := newMigrator(pool, dropDir)

	_, err = m2.Up(ctx, migrator.UpOptions{})
	require.ErrorIs(t, err, migrator.ErrDestructiveBlocked)
	assert.True(t, tableExists(t, pool, "users"))

	_, err = m2.Up(ctx, migrator.UpOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, tableExists(t, pool, "users"))
}

func TestUp_advisoryLockHeld_failsFast(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	lock, err := database.TryAcquireLock(ctx, pool)
	require.NoError(t, err)
	defer lock.Release(ctx) //nolint:errcheck // test cleanup

	m := newMigrator(pool, defaultMigrationDir(t))

	_, err = m.Up(ctx, migrator.UpOptions{})
	require.ErrorIs(t, err, database.ErrLockNotAcquired)
}

func TestUp_concurrentRuns_oneSucceeds(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	dir := defaultMigrationDir(t)

	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i := range 2 {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			_, errs[idx] = newMigrator(pool, dir).Up(ctx, migrator.UpOptions{})
		}(i)
	}

	wg.Wait()

	successes := 0

	for _, err := range errs {
		if err == nil {
			successes++
		}
	}

	// The loser either fails on the lock or finds nothing pending after
	// re-planning, in which case it also reports success.
	assert.GreaterOrEqual(t, successes, 1)

	m := newMigrator(pool, dir)
	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Applied, 3)
}

func TestUp_shippedFixtures_applyAndRevert(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	m := newMigrator(pool, filepath.Join("..", "testdata", "migrations"))

	res, err := m.Up(ctx, migrator.UpOptions{})
	require.NoError(t, err)
	require.Len(t, res.Applied, 3)
	assert.True(t, tableExists(t, pool, "users"))
	assert.True(t, tableExists(t, pool, "sessions"))

	down, err := m.Down(ctx, migrator.DownOptions{Steps: 3})
	require.NoError(t, err)
	require.Len(t, down.Reverted, 3)
	assert.False(t, tableExists(t, pool, "users"))
}

func TestStatus_freshDatabase_allPending(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	m := newMigrator(pool, defaultMigrationDir(t))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Applied)
	require.Len(t, st.Pending, 3)
	assert.Equal(t, int64(1), st.Pending[0].Version)
}

func TestUp_dryRun_touchesNothing(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	m := newMigrator(pool, defaultMigrationDir(t))

	res, err := m.Up(ctx, migrator.UpOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, res.Planned, 3)

	assert.False(t, tableExists(t, pool, "users"))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Applied)
}

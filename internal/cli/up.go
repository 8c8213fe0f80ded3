package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/aspenas/candlefish-website-sub012/internal/backup"
	"github.com/aspenas/candlefish-website-sub012/internal/config"
	"github.com/aspenas/candlefish-website-sub012/internal/database"
	"github.com/aspenas/candlefish-website-sub012/internal/migrator"
)

// errDatabaseURLRequired is returned when no database URL is configured.
var errDatabaseURLRequired = errors.New(
	"database URL is required (set --database-url, MIGRATE_DATABASE_URL, or database_url in config)",
)

var upCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "up",
	Short: "Apply pending migrations",
	Long: `Apply pending migrations in ascending version order. Without --steps
the whole pending set runs in one transaction: either every migration
applies or none do. With --steps N, the first N pending migrations are
applied one transaction at a time.`,
	RunE: runUp,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	upCmd.Flags().Int("steps", 0, "apply at most N migrations, one transaction each (0 = all in one transaction)")
	upCmd.Flags().Bool("dry-run", false, "show what would be applied without executing")
	upCmd.Flags().Bool("force", false, "proceed despite checksum drift or destructive statements")
	upCmd.Flags().Duration("lock-timeout", 0, "override lock timeout (e.g., 10s, 1m)")
	upCmd.Flags().Duration("statement-timeout", 0, "override statement timeout (e.g., 30s, 5m)")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	out := cmd.OutOrStdout()

	if cfg.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	steps, _ := cmd.Flags().GetInt("steps")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")

	ctx := cmdContext(cmd)

	pool, err := connectDB(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := newMigrator(cmd, pool, cfg)

	if dryRun {
		fmt.Fprintln(out, "\n--- DRY RUN (no changes will be made) ---")
	}

	res, err := m.Up(ctx, migrator.UpOptions{Steps: steps, DryRun: dryRun, Force: force})
	if err != nil {
		return err
	}

	switch {
	case len(res.Planned) == 0:
		fmt.Fprintln(out, "Nothing to apply: database is up to date.")
	case dryRun:
		fmt.Fprintf(out, "\nDry run complete: %d migration(s) would be applied.\n", len(res.Planned))
	default:
		fmt.Fprintf(out, "\nApply complete: %d migration(s) applied, now at version %d.\n",
			len(res.Applied), res.LastApplied)
	}

	return nil
}

// cmdContext returns the command's context, falling back to Background.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}

func connectDB(ctx context.Context, cfg *config.Config, out io.Writer) (*pgxpool.Pool, error) {
	fmt.Fprintf(out, "Connecting to %s\n", config.RedactURL(cfg.DatabaseURL))

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return pool, nil
}

// newMigrator builds a Migrator from the loaded config, with per-command
// timeout flag overrides and progress printed to the command's writer.
func newMigrator(cmd *cobra.Command, pool *pgxpool.Pool, cfg *config.Config) *migrator.Migrator {
	out := cmd.OutOrStdout()

	lockTimeout := cfg.LockTimeout
	if cmd.Flags().Changed("lock-timeout") {
		lockTimeout, _ = cmd.Flags().GetDuration("lock-timeout")
	}

	stmtTimeout := cfg.StatementTimeout
	if cmd.Flags().Changed("statement-timeout") {
		stmtTimeout, _ = cmd.Flags().GetDuration("statement-timeout")
	}

	verb := "Applying"
	if cmd.Name() == "down" {
		verb = "Reverting"
	}

	opts := []migrator.Option{
		migrator.WithLockTimeout(lockTimeout),
		migrator.WithStatementTimeout(stmtTimeout),
		migrator.WithProgress(progressPrinter(out, verb)),
	}

	if cfg.BackupBeforeMigrate {
		opts = append(opts, migrator.WithBackupHook(backup.NewCommandHook(cfg.BackupCommand)))
	}

	return migrator.New(pool, migrator.DirSource{Dir: cfg.MigrationsDir}, opts...)
}

func progressPrinter(out io.Writer, verb string) func(migrator.ProgressEvent) {
	return func(event migrator.ProgressEvent) {
		ref := event.Migration.Ref()

		switch event.Status {
		case migrator.StatusStarting:
			fmt.Fprintf(out, "  %s %s ... ", verb, ref)
		case migrator.StatusApplied, migrator.StatusReverted:
			fmt.Fprintf(out, "done (%s)\n", event.Duration.Truncate(time.Millisecond))
		case migrator.StatusPlanned:
			fmt.Fprintf(out, "  Would process %s\n", ref)
		case migrator.StatusFailed:
			fmt.Fprintf(out, "FAILED\n")
			fmt.Fprintf(out, "    Error: %v\n", event.Error)
		}
	}
}

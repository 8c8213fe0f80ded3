package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aspenas/candlefish-website-sub012/internal/migrator"
)

var downCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "down",
	Short: "Revert applied migrations",
	Long: `Revert applied migrations one version at a time, highest first, using
each file's down section. Each revert runs in its own transaction, so a
failure leaves every earlier revert committed.`,
	RunE: runDown,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	downCmd.Flags().Int("steps", 1, "number of versions to revert")
	downCmd.Flags().Bool("dry-run", false, "show what would be reverted without executing")
	downCmd.Flags().Duration("lock-timeout", 0, "override lock timeout (e.g., 10s, 1m)")
	downCmd.Flags().Duration("statement-timeout", 0, "override statement timeout (e.g., 30s, 5m)")
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	out := cmd.OutOrStdout()

	if cfg.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	steps, _ := cmd.Flags().GetInt("steps")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

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

	res, err := m.Down(ctx, migrator.DownOptions{Steps: steps, DryRun: dryRun})
	if err != nil {
		return err
	}

	switch {
	case len(res.Planned) == 0:
		fmt.Fprintln(out, "Nothing to revert: no applied migrations.")
	case dryRun:
		fmt.Fprintf(out, "\nDry run complete: %d migration(s) would be reverted.\n", len(res.Planned))
	case res.LastApplied == 0:
		fmt.Fprintf(out, "\nRollback complete: %d migration(s) reverted, database is empty.\n", len(res.Reverted))
	default:
		fmt.Fprintf(out, "\nRollback complete: %d migration(s) reverted, now at version %d.\n",
			len(res.Reverted), res.LastApplied)
	}

	return nil
}

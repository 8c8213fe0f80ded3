package cli

import (
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "validate",
	Short: "Check ledger integrity against migration files",
	Long: `Recompute every applied migration's checksum from its source file and
compare it with the ledger. Drift and missing source files are errors;
gaps in the version sequence are warnings.`,
	RunE: runValidate,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	validateCmd.Flags().String("format", "", "output format (text, json)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	out := cmd.OutOrStdout()

	if cfg.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	ctx := cmdContext(cmd)

	pool, err := connectDB(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer pool.Close()

	v, validateErr := newMigrator(cmd, pool, cfg).Validate(ctx)
	if v == nil {
		return validateErr
	}

	// Render the full report even when validation failed.
	if format == "json" {
		if err := v.RenderJSON(out); err != nil {
			return err
		}
	} else {
		v.RenderText(out)
	}

	return validateErr
}

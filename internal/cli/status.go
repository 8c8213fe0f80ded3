package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errUnknownFormat is returned for --format values other than text or json.
var errUnknownFormat = errors.New("unknown format (expected text or json)")

var statusCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "status",
	Short: "Show migration status",
	Long: `Display the current migration status showing applied and pending
migrations, with a warning for gaps in the version sequence.`,
	RunE: runStatus,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	statusCmd.Flags().String("format", "", "output format (text, json)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
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

	st, err := newMigrator(cmd, pool, cfg).Status(ctx)
	if err != nil {
		return err
	}

	if format == "json" {
		return st.RenderJSON(out)
	}

	st.RenderText(out)

	return nil
}

// outputFormat resolves the output format with precedence flag > config.
func outputFormat(cmd *cobra.Command) (string, error) {
	format := AppConfig.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}

	switch format {
	case "text", "json":
		return format, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownFormat, format)
	}
}

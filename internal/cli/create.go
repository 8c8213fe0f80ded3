package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aspenas/candlefish-website-sub012/internal/migration"
)

var createCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "create <name>",
	Short: "Create a new migration file",
	Long: `Create a migration file in the migrations directory, numbered one
above the highest existing version, with empty up and down sections.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	path, err := migration.CreateFile(AppConfig.MigrationsDir, args[0])
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)

	return nil
}

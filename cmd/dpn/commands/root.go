package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dpn",
		Short: "dpn - Data Platform Naming and provisioning",
		Long: `dpn provisions data platform resources from a declarative blueprint.

Resource names are generated from consistent naming patterns, and every
run executes as a single transaction: either all resources are created,
or everything already created is rolled back. A write-ahead log makes
interrupted runs recoverable.

Supported resources:
  - AWS: S3 buckets, Glue databases, Glue tables
  - Databricks: clusters, jobs, Unity Catalog catalogs/schemas/tables`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newArchiveCommand())
	rootCmd.AddCommand(newRecoverCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/dpnlabs/dpn/pkg/engine"
)

func newRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Roll back transactions interrupted by a crash",
		Long: `Recover scans the write-ahead log for transactions that never reached a
terminal state, rolls back every operation they had committed, and marks
them rolled back. Unreadable WAL files are reported and left in place
for inspection. Recovery is idempotent: running it again when nothing is
pending is a no-op.`,
		Example: `  dpn recover`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			// Register every executor that can be built; a missing
			// provider surfaces as a per-operation rollback failure
			// rather than blocking recovery of the rest.
			reg, err := app.registry(ctx, false)
			if err != nil {
				return err
			}
			eng, err := app.newEngine(reg)
			if err != nil {
				return err
			}

			report, err := eng.Recover(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd, report); err != nil {
					return err
				}
			} else {
				cmd.Printf("Recovered %d transaction(s)\n", len(report.RolledBack))
				for _, txID := range report.RolledBack {
					cmd.Printf("  rolled back %s\n", txID)
				}
				for _, c := range report.Corrupt {
					cmd.Printf("  skipped corrupt WAL %s: %v\n", c.Path, c.Err)
				}
				for _, f := range report.Failures {
					cmd.Printf("  FAILED to undo %s %s: %s\n", f.ResourceType, f.ResourceName, f.Message)
				}
			}

			if len(report.Failures) > 0 {
				return &engine.RollbackError{Failures: report.Failures}
			}
			return nil
		},
	}

	return cmd
}

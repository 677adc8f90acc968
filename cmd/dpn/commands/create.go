package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dpnlabs/dpn/pkg/engine"
)

func newCreateCommand() *cobra.Command {
	var (
		blueprintPath string
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the resources declared in a blueprint",
		Long: `Create provisions every resource in the blueprint as one transaction.

Resource names are generated from the configured naming patterns, the
dependency graph is ordered so that referenced resources are created
first, and every step is written to the write-ahead log. If any
operation fails, everything already created is rolled back in reverse
order.

With --dry-run the resolved names and execution order are printed and
nothing is created.`,
		Example: `  # Provision a blueprint
  dpn create --blueprint platform.json

  # Show the plan without touching any provider
  dpn create --blueprint platform.json --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			specs, err := app.parseBlueprint(blueprintPath)
			if err != nil {
				return err
			}

			if dryRun {
				ops, err := engine.BuildOperations(specs)
				if err != nil {
					return err
				}
				return printPlan(cmd, ops)
			}

			reg, err := app.registry(ctx, needsDatabricks(specs))
			if err != nil {
				return err
			}
			eng, err := app.newEngine(reg)
			if err != nil {
				return err
			}

			res, err := eng.Run(ctx, specs)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd, res)
			}
			cmd.Printf("Transaction %s committed: %d resource(s) created\n", res.TxID, res.Executed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&blueprintPath, "blueprint", "b", "", "blueprint file to provision")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the execution plan without creating anything")
	cmd.MarkFlagRequired("blueprint")

	return cmd
}

func printPlan(cmd *cobra.Command, ops []*engine.Operation) error {
	if jsonOutput {
		return printJSON(cmd, ops)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTYPE\tNAME\tDEPENDS ON")
	for _, op := range ops {
		deps := make([]string, 0, len(op.DependsOn))
		for _, d := range op.DependsOn {
			deps = append(deps, strconv.Itoa(d))
		}
		dep := "-"
		if len(deps) > 0 {
			dep = strings.Join(deps, ",")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", op.ID, op.ResourceType, op.ResourceName, dep)
	}
	return w.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/dpnlabs/dpn/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	var blueprintPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a blueprint without provisioning anything",
		Long: `Validate checks a blueprint end to end: schema and field validation,
naming pattern resolution, and the dependency graph (unknown references,
cycles, duplicate names). No provider credentials are needed and nothing
is created.`,
		Example: `  dpn validate --blueprint platform.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			specs, err := app.parseBlueprint(blueprintPath)
			if err != nil {
				return err
			}
			ops, err := engine.BuildOperations(specs)
			if err != nil {
				return err
			}

			cmd.Printf("Blueprint is valid: %d operation(s)\n", len(ops))
			return nil
		},
	}

	cmd.Flags().StringVarP(&blueprintPath, "blueprint", "b", "", "blueprint file to validate")
	cmd.MarkFlagRequired("blueprint")

	return cmd
}

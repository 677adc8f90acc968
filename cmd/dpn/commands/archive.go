package commands

import (
	"github.com/spf13/cobra"
)

func newArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <resource-id>",
		Short: "Archive a resource in the state store",
		Long: `Archive soft-deletes a resource record. The resource itself is left
untouched in the provider; the record is hidden from default listings
and the name can be audited later. Resource ids have the form
"<resource_type>/<resource_name>", as printed by status.`,
		Example: `  dpn archive aws_s3_bucket/dataplatform-sales-raw-prd-use1`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			reg, err := app.registry(ctx, false)
			if err != nil {
				return err
			}
			eng, err := app.newEngine(reg)
			if err != nil {
				return err
			}

			res, err := eng.Archive(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd, res)
			}
			cmd.Printf("Archived %s (transaction %s)\n", args[0], res.TxID)
			return nil
		},
	}

	return cmd
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	var tenantFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List the matching templates registered for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantFlag == "" {
				return fmt.Errorf("--tenant is required")
			}
			service, err := ctx.service()
			if err != nil {
				return err
			}
			templates, err := service.Templates(cmd.Context(), tenantFlag)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), templates)
			}

			rows := make([][]string, 0, len(templates))
			for _, tpl := range templates {
				rows = append(rows, []string{
					strconv.FormatInt(tpl.ID, 10),
					tpl.Name,
					strconv.Itoa(tpl.Priority),
					tpl.CreatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Priority", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "Tenant whose templates to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}

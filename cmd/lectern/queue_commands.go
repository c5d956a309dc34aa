package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/queue"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var tenantFlag string
	var statusFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := ctx.service()
			if err != nil {
				return err
			}

			var items []api.Item
			switch {
			case tenantFlag != "":
				items, err = service.ListForTenant(cmd.Context(), tenantFlag)
			case statusFlag != "":
				status, ok := queue.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				items, err = service.List(cmd.Context(), status)
			default:
				items, err = service.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), api.ItemListResponse{Items: items})
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					item.TenantID,
					item.SourceID,
					truncate(item.Title, 40),
					item.Status,
					truncate(item.ErrorMessage, 40),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Tenant", "Source", "Title", "Status", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "Limit to one tenant")
	cmd.Flags().StringVar(&statusFlag, "status", "", "Limit to one lifecycle state")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one item with its publish targets and stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			service, err := ctx.service()
			if err != nil {
				return err
			}
			detail, err := service.Describe(cmd.Context(), id)
			if err != nil {
				return err
			}
			if detail == nil {
				return fmt.Errorf("item %d not found", id)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), detail)
			}

			out := cmd.OutOrStdout()
			item := detail.Item
			fmt.Fprintf(out, "Item %d  %s/%s\n", item.ID, item.TenantID, item.SourceID)
			fmt.Fprintf(out, "Title:   %s\n", item.Title)
			fmt.Fprintf(out, "Status:  %s\n", item.Status)
			if item.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:   %s\n", item.ErrorMessage)
			}
			if item.ExpireAt != "" {
				fmt.Fprintf(out, "Expires: %s\n", item.ExpireAt)
			}
			if len(item.Targets) > 0 {
				rows := make([][]string, 0, len(item.Targets))
				for _, target := range item.Targets {
					rows = append(rows, []string{
						target.Platform,
						fmt.Sprintf("%v", target.Required),
						target.Status,
						strconv.Itoa(target.AttemptCount),
						truncate(target.LastError, 40),
					})
				}
				fmt.Fprintln(out, "\nPublish targets:")
				fmt.Fprintln(out, renderTable(
					[]string{"Platform", "Required", "Status", "Attempts", "Last error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
			}
			if len(detail.History) > 0 {
				rows := make([][]string, 0, len(detail.History))
				for _, result := range detail.History {
					rows = append(rows, []string{
						result.Stage,
						strconv.Itoa(result.Attempt),
						result.Outcome,
						result.ErrorKind,
						truncate(result.ErrorMessage, 40),
					})
				}
				fmt.Fprintln(out, "\nStage history:")
				fmt.Fprintln(out, renderTable(
					[]string{"Stage", "Attempt", "Outcome", "Kind", "Message"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Return an item to the start of the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(ctx, cmd, args[0], func(actions *api.Actions, id int64) (api.ActionResult, error) {
				return actions.Reset(cmd.Context(), id)
			})
		},
	}
}

func newRetryUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-upload <id>",
		Short: "Re-queue only the failed publish targets of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(ctx, cmd, args[0], func(actions *api.Actions, id int64) (api.ActionResult, error) {
				return actions.RetryUpload(cmd.Context(), id)
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Abandon an item at the next stage boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(ctx, cmd, args[0], func(actions *api.Actions, id int64) (api.ActionResult, error) {
				return actions.Cancel(cmd.Context(), id)
			})
		},
	}
}

func newRematchCommand(ctx *commandContext) *cobra.Command {
	var tenantFlag string

	cmd := &cobra.Command{
		Use:   "rematch",
		Short: "Re-run template matching for items flagged by template changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantFlag == "" {
				return fmt.Errorf("--tenant is required")
			}
			actions, err := ctx.actions()
			if err != nil {
				return err
			}
			count, err := actions.Rematch(cmd.Context(), tenantFlag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-matched %d item(s)\n", count)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "Tenant whose items to re-match")
	return cmd
}

func runAction(ctx *commandContext, cmd *cobra.Command, rawID string, fn func(*api.Actions, int64) (api.ActionResult, error)) error {
	id, err := parseItemID(rawID)
	if err != nil {
		return err
	}
	actions, err := ctx.actions()
	if err != nil {
		return err
	}
	result, err := fn(actions, id)
	if err != nil {
		return err
	}
	switch result.Outcome {
	case api.ActionApplied:
		if result.NewStatus != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "item %d -> %s\n", id, result.NewStatus)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "item %d updated\n", id)
		}
		return nil
	case api.ActionNotFound:
		return fmt.Errorf("item %d not found", id)
	default:
		if result.Detail != "" {
			return fmt.Errorf("item %d: %s (%s)", id, result.Outcome, result.Detail)
		}
		return fmt.Errorf("item %d: %s", id, result.Outcome)
	}
}

func parseItemID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", raw)
	}
	return id, nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}

package main

import (
	"github.com/spf13/cobra"

	"lectern/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var levelFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: levelFlag})
		},
	}
	cmd.Flags().StringVar(&levelFlag, "log-level", "", "Override the configured log level")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"assemblyline/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var development bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon (queue consumer, HTTP API and reaper)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "dev", false, "Debug logging with source locations (unless --log-level is set)")
	return cmd
}

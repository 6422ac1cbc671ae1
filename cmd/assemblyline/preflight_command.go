package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"assemblyline/internal/daemonrun"
	"assemblyline/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, tools, storage and the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, false, func(rt *daemonrun.Runtime) error {
				results := rt.Preflight(cmd.Context())
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					rows = append(rows, []string{r.Name, passFail(r.Passed, r.Optional, colorize), orDash(r.Detail)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Result", "Detail"}, rows))
				if preflight.Failed(results) {
					return fmt.Errorf("required preflight checks failed")
				}
				return nil
			})
		},
	}
}

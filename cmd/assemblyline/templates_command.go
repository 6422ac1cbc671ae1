package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"assemblyline/internal/templates"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List the templates this installation can resolve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			resolver, err := templates.Load(cfg)
			if err != nil {
				return err
			}
			entries := resolver.List()
			if jsonOutput {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No templates registered")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				steps := make([]string, 0, len(e.Steps))
				for _, s := range e.Steps {
					steps = append(steps, humanizeStep(s))
				}
				rows = append(rows, []string{
					e.ID,
					e.Source,
					strings.Join(steps, " → "),
					orDash(e.OutputBucket),
					yesNo(e.Webhook),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Source", "Steps", "Output Bucket", "Webhook"}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

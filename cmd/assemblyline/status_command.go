package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"assemblyline/internal/assembly"
	"assemblyline/internal/status"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var recent int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [assembly-id]",
		Short: "Show assembly status records",
		Long: "Without an id, status lists the most recently updated assemblies.\n" +
			"With an id, it prints the full record for that assembly.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStatus(func(store *status.Store) error {
				if len(args) == 1 {
					rec, err := store.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if jsonOutput {
						return writeJSON(cmd, rec)
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderAssembly(rec, shouldColorize(cmd.OutOrStdout())))
					return nil
				}

				records, err := store.List(cmd.Context(), recent)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No assemblies recorded")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderAssemblyList(records, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&recent, "recent", "n", 20, "Number of recent assemblies to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderAssemblyList(records []*assembly.Assembly, colorize bool) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			renderState(rec.State(), colorize),
			orDash(rec.TemplateID),
			humanizeStep(rec.CurrentStepName),
			strconv.Itoa(rec.ProgressPct) + "%",
			rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return renderTable(
		[]string{"Assembly", "State", "Template", "Step", "Progress", "Updated"},
		rows,
		4,
	)
}

func renderAssembly(rec *assembly.Assembly, colorize bool) string {
	failure := ""
	if rec.Error != nil {
		failure = rec.Error.Kind + ": " + rec.Error.Message
	}
	artifacts := 0
	for _, list := range rec.Results {
		artifacts += len(list)
	}
	fields := [][2]string{
		{"State", renderState(rec.State(), colorize)},
		{"Message", orDash(rec.Message)},
		{"Template", orDash(rec.TemplateID)},
		{"Branch", orDash(rec.Branch)},
		{"Step", fmt.Sprintf("%s (%d/%d)", humanizeStep(rec.CurrentStepName), rec.StepsCompleted, rec.StepsTotal)},
		{"Progress", strconv.Itoa(rec.ProgressPct) + "%"},
		{"Received", formatBytes(rec.BytesReceived) + " of " + formatBytes(rec.BytesExpected)},
		{"Uploads", strconv.Itoa(len(rec.Uploads))},
		{"Artifacts", strconv.Itoa(artifacts)},
		{"Error", orDash(failure)},
	}
	if rec.ExecutionStart != nil {
		fields = append(fields, [2]string{"Started", rec.ExecutionStart.Local().Format("2006-01-02 15:04:05")})
	}
	if rec.ExecutionDuration > 0 {
		fields = append(fields, [2]string{"Duration", strconv.FormatFloat(rec.ExecutionDuration, 'f', 2, 64) + "s"})
	}
	return renderFields("Assembly "+rec.ID, fields)
}

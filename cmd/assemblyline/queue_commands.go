package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"assemblyline/internal/assembly"
	"assemblyline/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRedriveCommand(ctx))
	queueCmd.AddCommand(newQueueDeadLettersCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth per state and FIFO group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(q *queue.Queue) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Queue", "Pending", "In Flight", "Dead Letter"},
					[][]string{{
						q.Name(),
						strconv.FormatInt(stats.Pending, 10),
						strconv.FormatInt(stats.InFlight, 10),
						strconv.FormatInt(stats.DeadLetter, 10),
					}},
					1, 2, 3,
				))
				if len(stats.Groups) == 0 {
					return nil
				}
				groups := make([]string, 0, len(stats.Groups))
				for g := range stats.Groups {
					groups = append(groups, g)
				}
				sort.Strings(groups)
				rows := make([][]string, 0, len(groups))
				for _, g := range groups {
					rows = append(rows, []string{g, strconv.FormatInt(stats.Groups[g], 10)})
				}
				fmt.Fprintln(out, renderTable([]string{"Group", "Pending"}, rows, 1))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newQueueRedriveCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "redrive",
		Short: "Move dead-lettered messages back onto the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return ctx.withQueue(cmd.Context(), func(q *queue.Queue) error {
				moved, err := q.Redrive(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if moved == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No dead-lettered messages to redrive")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Redrove %d message(s)\n", moved)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of messages to move")
	return cmd
}

func newQueueDeadLettersCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List messages that exhausted their receive budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(q *queue.Queue) error {
				deliveries, err := q.DeadLetters(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, deliveries)
				}
				if len(deliveries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Dead-letter queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(deliveries))
				for _, d := range deliveries {
					rows = append(rows, []string{d.ID, orDash(d.Group), deadLetterAssembly(d.Body), strconv.Itoa(d.Receives)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Message", "Group", "Assembly", "Receives"}, rows, 3))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// deadLetterAssembly extracts the assembly id without validating the job, so
// malformed bodies still show whatever id they carry.
func deadLetterAssembly(body []byte) string {
	var job assembly.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return "(unparseable)"
	}
	return orDash(job.AssemblyID)
}

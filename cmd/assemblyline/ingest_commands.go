package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"assemblyline/internal/daemonrun"
	"assemblyline/internal/processor"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest <events.json|->",
		Short: "Group object-created notifications into jobs and enqueue them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := readEvents(cmd, args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, true, func(rt *daemonrun.Runtime) error {
				report, err := rt.Processor.Ingest(cmd.Context(), inv.Events, inv.Malformed...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, ingestJSON(report))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Objects", "Skipped", "Malformed", "Jobs", "Enqueued", "Duplicates", "Failed"},
					[][]string{{
						strconv.Itoa(report.Objects),
						strconv.Itoa(report.Skipped),
						strconv.Itoa(len(report.Malformed)),
						strconv.Itoa(report.Jobs),
						strconv.Itoa(report.Enqueue.Enqueued),
						strconv.Itoa(report.Enqueue.Duplicates),
						strconv.Itoa(len(report.Enqueue.Failed)),
					}},
					0, 1, 2, 3, 4, 5, 6,
				))
				for _, m := range report.Malformed {
					fmt.Fprintf(out, "  dropped: %s\n", m.Reason)
				}
				for _, failure := range report.Enqueue.Failed {
					fmt.Fprintf(out, "  %s: %v\n", failure.AssemblyID, failure.Err)
				}
				if len(report.Enqueue.Failed) > 0 {
					return fmt.Errorf("%d job(s) could not be enqueued", len(report.Enqueue.Failed))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "process <events.json|->",
		Short: "Group notifications and process them inline, bypassing the queue",
		Long: "Process runs the grouped jobs in this process with the same claim, status and webhook\n" +
			"semantics as the daemon. It is meant for local development and replaying fixtures.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := readEvents(cmd, args[0])
			if err != nil {
				return err
			}
			for _, m := range inv.Malformed {
				fmt.Fprintf(cmd.ErrOrStderr(), "dropped notification record: %s\n", m.Reason)
			}
			return ctx.withRuntime(cmd, false, func(rt *daemonrun.Runtime) error {
				report, err := rt.Processor.ProcessInline(cmd.Context(), inv.Events)
				if err != nil {
					return err
				}
				if jsonOutput {
					if err := writeJSON(cmd, batchJSON(report)); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), renderBatch(report))
				}
				if n := report.Count(processor.OutcomeFailed) + report.Count(processor.OutcomeRetry); n > 0 {
					return fmt.Errorf("%d assembly(ies) did not complete", n)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func readEvents(cmd *cobra.Command, source string) (processor.Invocation, error) {
	var (
		raw []byte
		err error
	)
	if source == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return processor.Invocation{}, fmt.Errorf("read notification document: %w", err)
	}
	inv, err := processor.DecodeInvocation(raw)
	if err != nil {
		return processor.Invocation{}, err
	}
	if !inv.IsNotification() {
		return processor.Invocation{}, errors.New("expected an object-created notification document, got a queue batch")
	}
	return inv, nil
}

func renderBatch(report processor.BatchReport) string {
	if len(report.Results) == 0 {
		return "No jobs were produced from the notification"
	}
	rows := make([][]string, 0, len(report.Results))
	for _, r := range report.Results {
		detail := ""
		if r.Err != nil {
			detail = r.Err.Error()
		}
		rows = append(rows, []string{orDash(r.AssemblyID), strings.ToUpper(string(r.Outcome)), orDash(detail)})
	}
	return renderTable([]string{"Assembly", "Outcome", "Detail"}, rows)
}

type ingestReportJSON struct {
	Objects    int               `json:"objects"`
	Skipped    int               `json:"skipped"`
	Malformed  []string          `json:"malformed,omitempty"`
	Jobs       int               `json:"jobs"`
	Enqueued   int               `json:"enqueued"`
	Duplicates int               `json:"duplicates"`
	Failed     map[string]string `json:"failed,omitempty"`
}

func ingestJSON(report processor.IngestReport) ingestReportJSON {
	out := ingestReportJSON{
		Objects:    report.Objects,
		Skipped:    report.Skipped,
		Jobs:       report.Jobs,
		Enqueued:   report.Enqueue.Enqueued,
		Duplicates: report.Enqueue.Duplicates,
	}
	for _, m := range report.Malformed {
		out.Malformed = append(out.Malformed, m.Reason)
	}
	for _, f := range report.Enqueue.Failed {
		if out.Failed == nil {
			out.Failed = make(map[string]string)
		}
		out.Failed[f.AssemblyID] = f.Err.Error()
	}
	return out
}

type resultJSON struct {
	AssemblyID string `json:"assembly_id"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

func batchJSON(report processor.BatchReport) []resultJSON {
	out := make([]resultJSON, 0, len(report.Results))
	for _, r := range report.Results {
		item := resultJSON{AssemblyID: r.AssemblyID, Outcome: string(r.Outcome)}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		out = append(out, item)
	}
	return out
}

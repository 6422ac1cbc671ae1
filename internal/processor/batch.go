package processor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"assemblyline/internal/assembly"
	"assemblyline/internal/logging"
)

type parsedJob struct {
	messageID string
	job       assembly.Job
}

// ProcessBatch parses and processes a queue batch. Malformed messages are
// logged and reported without affecting the rest of the batch.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []Message) BatchReport {
	results := make([]Result, len(msgs))
	jobs := make([]parsedJob, 0, len(msgs))
	slots := make([]int, 0, len(msgs))
	for i, msg := range msgs {
		job, err := assembly.DecodeJob(msg.Body)
		if err != nil {
			results[i] = Result{MessageID: msg.ID, Outcome: OutcomeMalformed, Err: err}
			logging.WarnWithContext(p.logger, "skipping malformed queue message", "malformed_message",
				logging.String("message_id", msg.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "message discarded"),
				logging.String(logging.FieldErrorHint, "inspect the producer of this message"),
			)
			continue
		}
		jobs = append(jobs, parsedJob{messageID: msg.ID, job: job})
		slots = append(slots, i)
	}

	for i, r := range p.runSubBatches(ctx, jobs) {
		results[slots[i]] = r
	}
	report := BatchReport{Results: results}
	p.logBatch(report)
	return report
}

// ProcessJobs processes already-decoded jobs with the same sub-batching as
// ProcessBatch.
func (p *Processor) ProcessJobs(ctx context.Context, jobs []assembly.Job) BatchReport {
	parsed := make([]parsedJob, len(jobs))
	for i, job := range jobs {
		parsed[i] = parsedJob{job: job}
	}
	report := BatchReport{Results: p.runSubBatches(ctx, parsed)}
	p.logBatch(report)
	return report
}

// runSubBatches processes jobs in sequential sub-batches of at most p.width
// jobs; jobs within a sub-batch run concurrently.
func (p *Processor) runSubBatches(ctx context.Context, jobs []parsedJob) []Result {
	results := make([]Result, len(jobs))
	for start := 0; start < len(jobs); start += p.width {
		end := min(start+p.width, len(jobs))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				res := p.ProcessJob(ctx, jobs[i].job)
				res.MessageID = jobs[i].messageID
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

func (p *Processor) logBatch(report BatchReport) {
	if len(report.Results) == 0 {
		return
	}
	attrs := []logging.Attr{logging.Int("jobs", len(report.Results))}
	for outcome, n := range report.Summary() {
		attrs = append(attrs, logging.Int(string(outcome), n))
	}
	p.logger.Info("batch processed", logging.Args(attrs...)...)
}

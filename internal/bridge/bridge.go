// Package bridge converts processing jobs into durable queue messages.
//
// The bridge is what bounds processing concurrency independently of how many
// notifications arrive at once: ingestion only enqueues, and consumers pull
// at their own pace. Messages are grouped by branch to keep per-branch order
// and deduplicated on assemblyId/uploadId. Enqueue is best effort: a job that
// cannot be sent is logged and dropped for this invocation.
package bridge

import (
	"context"
	"log/slog"
	"strings"

	"assemblyline/internal/assembly"
	"assemblyline/internal/logging"
	"assemblyline/internal/queue"
)

// Sender is the queue surface the bridge needs.
type Sender interface {
	SendBatch(ctx context.Context, msgs []queue.Message) ([]queue.BatchEntry, error)
}

// Failure records a job that could not be enqueued.
type Failure struct {
	AssemblyID string
	Err        error
}

// Report summarizes one Enqueue call.
type Report struct {
	Enqueued   int
	Duplicates int
	Failed     []Failure
}

// Bridge sends jobs to the queue in capped batches.
type Bridge struct {
	sender        Sender
	batchSize     int
	defaultBranch string
	logger        *slog.Logger
}

// New builds a bridge. batchSize is clamped to queue.MaxBatchSize.
func New(sender Sender, batchSize int, defaultBranch string, logger *slog.Logger) *Bridge {
	if batchSize <= 0 || batchSize > queue.MaxBatchSize {
		batchSize = queue.MaxBatchSize
	}
	if strings.TrimSpace(defaultBranch) == "" {
		defaultBranch = "main"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bridge{
		sender:        sender,
		batchSize:     batchSize,
		defaultBranch: defaultBranch,
		logger:        logging.NewComponentLogger(logger, "bridge"),
	}
}

type pending struct {
	job assembly.Job
	msg queue.Message
}

// Enqueue sends every job and reports per-job outcomes.
func (b *Bridge) Enqueue(ctx context.Context, jobs []assembly.Job) Report {
	var report Report
	batch := make([]pending, 0, b.batchSize)
	for _, job := range jobs {
		if job.Branch == "" {
			job.Branch = b.defaultBranch
		}
		var body []byte
		err := job.Validate()
		if err == nil {
			body, err = job.Encode()
		}
		if err != nil {
			b.fail(&report, job, err)
			continue
		}
		batch = append(batch, pending{
			job: job,
			msg: queue.Message{Body: body, Group: job.Branch, DedupKey: job.DedupKey()},
		})
		if len(batch) == b.batchSize {
			b.flush(ctx, batch, &report)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		b.flush(ctx, batch, &report)
	}
	b.logger.Info("jobs enqueued",
		logging.Int("jobs", len(jobs)),
		logging.Int("enqueued", report.Enqueued),
		logging.Int("duplicates", report.Duplicates),
		logging.Int("failed", len(report.Failed)),
	)
	return report
}

func (b *Bridge) flush(ctx context.Context, batch []pending, report *Report) {
	msgs := make([]queue.Message, len(batch))
	for i, p := range batch {
		msgs[i] = p.msg
	}
	entries, err := b.sender.SendBatch(ctx, msgs)
	if err != nil {
		for _, p := range batch {
			b.fail(report, p.job, err)
		}
		return
	}
	for i, p := range batch {
		if i >= len(entries) {
			b.fail(report, p.job, errMissingEntry)
			continue
		}
		entry := entries[i]
		switch {
		case entry.Err != nil:
			b.fail(report, p.job, entry.Err)
		case entry.Duplicate:
			report.Duplicates++
			b.logger.Debug("duplicate job suppressed",
				logging.String(logging.FieldAssemblyID, p.job.AssemblyID),
				logging.String("dedup_key", p.msg.DedupKey),
			)
		default:
			report.Enqueued++
			b.logger.Debug("job enqueued",
				logging.String(logging.FieldAssemblyID, p.job.AssemblyID),
				logging.String("message_id", entry.ID),
				logging.String("group", p.msg.Group),
			)
		}
	}
}

func (b *Bridge) fail(report *Report, job assembly.Job, err error) {
	report.Failed = append(report.Failed, Failure{AssemblyID: job.AssemblyID, Err: err})
	logging.WarnWithContext(b.logger, "job not enqueued", "bridge_enqueue_failed",
		logging.String(logging.FieldAssemblyID, job.AssemblyID),
		logging.String(logging.FieldTemplateID, job.TemplateID),
		logging.Error(err),
		logging.String(logging.FieldImpact, "job dropped for this invocation"),
		logging.String(logging.FieldErrorHint, "re-send the notification or re-run ingest"),
	)
}

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"assemblyline/internal/ingest"
	"assemblyline/internal/logging"
	"assemblyline/internal/services"
)

// Message is one queue-delivered job message.
type Message struct {
	ID   string
	Body []byte
}

// Invocation is either a set of notifications or a queue batch, never both.
// Malformed holds notification records that could not be decoded.
type Invocation struct {
	Events    []ingest.ObjectCreated
	Malformed []ingest.Skipped
	Messages  []Message
}

// IsNotification reports whether inv came from a notification document.
func (inv Invocation) IsNotification() bool {
	return len(inv.Events) > 0 || len(inv.Malformed) > 0
}

type queueBatch struct {
	Records []struct {
		MessageID string          `json:"messageId"`
		Body      json.RawMessage `json:"body"`
	} `json:"Records"`
}

// DecodeInvocation inspects the structure of raw and decodes it either as a
// storage notification document (Records[].s3) or as a queue batch
// (Records[].body). Anything else is a validation error.
func DecodeInvocation(raw []byte) (Invocation, error) {
	if ingest.IsEventDocument(raw) {
		events, malformed, err := ingest.ParseEvent(raw)
		if err != nil {
			return Invocation{}, services.Wrap(services.ErrValidation, "processor", "decode invocation", "", err)
		}
		return Invocation{Events: events, Malformed: malformed}, nil
	}

	var batch queueBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return Invocation{}, services.Wrap(services.ErrValidation, "processor", "decode invocation", "not a JSON document", err)
	}
	if len(batch.Records) == 0 {
		return Invocation{}, services.Wrap(services.ErrValidation, "processor", "decode invocation", "no records", nil)
	}
	inv := Invocation{Messages: make([]Message, 0, len(batch.Records))}
	for i, rec := range batch.Records {
		if len(rec.Body) == 0 {
			return Invocation{}, services.Wrap(services.ErrValidation, "processor", "decode invocation",
				fmt.Sprintf("record %d is neither a notification nor a queue message", i), nil)
		}
		body := []byte(rec.Body)
		// Queue bodies usually arrive as a JSON string holding the job.
		var text string
		if err := json.Unmarshal(rec.Body, &text); err == nil {
			body = []byte(text)
		}
		id := rec.MessageID
		if id == "" {
			id = fmt.Sprintf("record-%d", i)
		}
		inv.Messages = append(inv.Messages, Message{ID: id, Body: body})
	}
	return inv, nil
}

// Handle runs one invocation. Notifications are grouped and enqueued and
// never processed inline; queue batches are processed.
func (p *Processor) Handle(ctx context.Context, inv Invocation) (HandleReport, error) {
	switch {
	case inv.IsNotification() && len(inv.Messages) > 0:
		return HandleReport{}, services.Wrap(services.ErrValidation, "processor", "handle", "notifications and queue messages cannot be mixed", nil)
	case inv.IsNotification():
		report, err := p.Ingest(ctx, inv.Events, inv.Malformed...)
		if err != nil {
			return HandleReport{}, err
		}
		return HandleReport{Ingest: &report}, nil
	default:
		report := p.ProcessBatch(ctx, inv.Messages)
		return HandleReport{Batch: &report}, nil
	}
}

// Ingest groups notifications into jobs and enqueues them. Records the
// decoder could not use are passed as malformed; they are logged and counted
// but never grouped.
func (p *Processor) Ingest(ctx context.Context, events []ingest.ObjectCreated, malformed ...ingest.Skipped) (IngestReport, error) {
	if p.grouper == nil || p.bridge == nil {
		return IngestReport{}, services.Wrap(services.ErrConfiguration, "processor", "ingest", "grouper and bridge are required for notifications", nil)
	}
	for _, m := range malformed {
		logging.WarnWithContext(p.logger, "notification record dropped", "notification_record_malformed",
			logging.String(logging.FieldBucket, m.Bucket),
			logging.String(logging.FieldKey, m.Key),
			logging.String("reason", m.Reason),
			logging.String(logging.FieldErrorHint, "check the storage notification configuration"),
			logging.String(logging.FieldImpact, "the object was not grouped into any assembly"),
		)
	}
	grouping := p.grouper.Group(ctx, events)
	report := IngestReport{
		Objects:   len(events),
		Skipped:   len(grouping.Skipped),
		Malformed: malformed,
		Jobs:      len(grouping.Jobs),
	}
	if len(grouping.Jobs) > 0 {
		report.Enqueue = p.bridge.Enqueue(ctx, grouping.Jobs)
	}
	p.logger.Info("notifications ingested",
		logging.Int("objects", report.Objects),
		logging.Int("skipped_objects", report.Skipped),
		logging.Int("malformed_records", len(report.Malformed)),
		logging.Int("jobs", report.Jobs),
		logging.Int("enqueued", report.Enqueue.Enqueued),
		logging.Int("duplicates", report.Enqueue.Duplicates),
		logging.Int("enqueue_failures", len(report.Enqueue.Failed)),
	)
	return report, nil
}

// ProcessInline groups notifications and processes the resulting jobs
// directly, bypassing the queue. Meant for local development.
func (p *Processor) ProcessInline(ctx context.Context, events []ingest.ObjectCreated) (BatchReport, error) {
	if p.grouper == nil {
		return BatchReport{}, errors.New("inline processing needs a grouper")
	}
	grouping := p.grouper.Group(ctx, events)
	return p.ProcessJobs(ctx, grouping.Jobs), nil
}

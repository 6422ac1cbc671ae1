package processor

import (
	"assemblyline/internal/bridge"
	"assemblyline/internal/ingest"
)

// Outcome classifies how a job ended.
type Outcome string

const (
	// OutcomeCompleted means every step ran and ok was written.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means an error marker was written.
	OutcomeFailed Outcome = "failed"
	// OutcomeRejected means the job was refused before any status write.
	OutcomeRejected Outcome = "rejected"
	// OutcomeSkipped means the assembly was already terminal or is owned by
	// another attempt.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeMalformed means the message could not be parsed.
	OutcomeMalformed Outcome = "malformed"
	// OutcomeRetry means a transient failure left the message for redelivery.
	OutcomeRetry Outcome = "retry"
)

// Result is the outcome of one job.
type Result struct {
	MessageID  string
	AssemblyID string
	Outcome    Outcome
	Err        error
}

// Ack reports whether the queue message should be deleted. Only transient
// failures are left for redelivery.
func (r Result) Ack() bool {
	return r.Outcome != OutcomeRetry
}

// BatchReport aggregates the results of one batch, in message order.
type BatchReport struct {
	Results []Result
}

// Count returns how many results ended with outcome.
func (b BatchReport) Count(outcome Outcome) int {
	n := 0
	for _, r := range b.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Summary maps outcomes to counts.
func (b BatchReport) Summary() map[Outcome]int {
	out := make(map[Outcome]int)
	for _, r := range b.Results {
		out[r.Outcome]++
	}
	return out
}

// HandleReport is the outcome of Handle. Exactly one of Ingest and Batch is
// set.
type HandleReport struct {
	Ingest *IngestReport
	Batch  *BatchReport
}

// IngestReport describes a notification invocation.
type IngestReport struct {
	Objects   int
	Skipped   int
	Malformed []ingest.Skipped
	Jobs      int
	Enqueue   bridge.Report
}

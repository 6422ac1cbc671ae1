package assembly

import (
	"time"
)

// Completed is the ok marker written when every step of an assembly succeeded.
const Completed = "ASSEMBLY_COMPLETED"

// Messages written at lifecycle transitions.
const (
	MessageUploadPending = "Upload pending"
	MessageProcessing    = "Processing started"
	MessageCompleted     = "Processing completed"
	MessageFailed        = "Processing failed"
)

// State is the lifecycle position derived from an assembly record.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Failure is the terminal error marker of an assembly.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Upload is one entry of the uploads ledger built while downloading inputs.
type Upload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	MIME     string `json:"mime"`
	SHA256   string `json:"sha256"`
	Received int64  `json:"received"`
}

// Artifact is an output produced by a step and uploaded to the output location.
type Artifact struct {
	Name   string `json:"name"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	MIME   string `json:"mime,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

// Assembly is the durable status record of one assembly.
type Assembly struct {
	ID                string                `json:"assembly_id"`
	Message           string                `json:"message"`
	OK                string                `json:"ok,omitempty"`
	Error             *Failure              `json:"error,omitempty"`
	TemplateID        string                `json:"template_id,omitempty"`
	Branch            string                `json:"branch,omitempty"`
	UploadID          string                `json:"upload_id,omitempty"`
	UserID            string                `json:"user_id,omitempty"`
	Uploads           []Upload              `json:"uploads"`
	Results           map[string][]Artifact `json:"results"`
	BytesExpected     int64                 `json:"bytes_expected"`
	BytesReceived     int64                 `json:"bytes_received"`
	StepsTotal        int                   `json:"steps_total"`
	StepsCompleted    int                   `json:"steps_completed"`
	CurrentStep       int                   `json:"current_step"`
	CurrentStepName   string                `json:"current_step_name,omitempty"`
	ProgressPct       int                   `json:"progress_pct"`
	ExecutionStart    *time.Time            `json:"execution_start,omitempty"`
	ExecutionDuration float64               `json:"execution_duration"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// State derives the lifecycle state from the terminal markers and start time.
func (a *Assembly) State() State {
	switch {
	case a == nil:
		return StatePending
	case a.OK != "":
		return StateCompleted
	case a.Error != nil:
		return StateFailed
	case a.ExecutionStart != nil:
		return StateProcessing
	default:
		return StatePending
	}
}

// Terminal reports whether the assembly reached completed or failed.
func (a *Assembly) Terminal() bool {
	state := a.State()
	return state == StateCompleted || state == StateFailed
}

// Progress returns floor(completed/total*100), clamped to 0..100.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	if completed <= 0 {
		return 0
	}
	return completed * 100 / total
}

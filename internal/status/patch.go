package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"assemblyline/internal/assembly"
	"assemblyline/internal/services"
)

// Patch is a field-scoped update. Nil fields are left untouched.
//
// Setting OK or Error makes the write terminal: the claim is released and the
// record is frozen. ProgressPct never decreases within an attempt.
type Patch struct {
	// Owner, when set, restricts the write to the worker holding the claim.
	Owner string

	Message           *string
	StepsCompleted    *int
	CurrentStep       *int
	CurrentStepName   *string
	ProgressPct       *int
	BytesReceived     *int64
	ExecutionDuration *float64
	Results           map[string][]assembly.Artifact
	LeaseUntil        *time.Time

	OK    string
	Error *assembly.Failure
}

// Ptr returns a pointer to v for building patches.
func Ptr[T any](v T) *T {
	return &v
}

func (p Patch) terminal() bool {
	return p.OK != "" || p.Error != nil
}

// Update applies a partial update to a non-terminal assembly.
func (s *Store) Update(ctx context.Context, id string, patch Patch) error {
	if patch.OK != "" && patch.Error != nil {
		return services.Wrap(services.ErrValidation, "status", "update", "ok and error are mutually exclusive", nil)
	}

	sets := make([]string, 0, 12)
	args := make([]any, 0, 16)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.Message != nil {
		set("message", *patch.Message)
	}
	if patch.StepsCompleted != nil {
		set("steps_completed", *patch.StepsCompleted)
	}
	if patch.CurrentStep != nil {
		set("current_step", *patch.CurrentStep)
	}
	if patch.CurrentStepName != nil {
		set("current_step_name", *patch.CurrentStepName)
	}
	if patch.ProgressPct != nil {
		sets = append(sets, "progress_pct = MAX(progress_pct, ?)")
		args = append(args, clampPct(*patch.ProgressPct))
	}
	if patch.BytesReceived != nil {
		set("bytes_received", *patch.BytesReceived)
	}
	if patch.ExecutionDuration != nil {
		set("execution_duration", *patch.ExecutionDuration)
	}
	if patch.Results != nil {
		raw, err := json.Marshal(patch.Results)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		set("results_json", string(raw))
	}
	switch {
	case patch.terminal():
		if patch.OK != "" {
			set("ok", patch.OK)
		} else {
			set("error_kind", patch.Error.Kind)
			set("error_message", patch.Error.Message)
		}
		sets = append(sets, "lease_owner = NULL", "lease_expires = NULL")
	case patch.LeaseUntil != nil:
		set("lease_expires", formatTime(*patch.LeaseUntil))
	}
	if len(sets) == 0 {
		return nil
	}
	set("updated_at", s.timestamp())

	query := "UPDATE assemblies SET " + strings.Join(sets, ", ") +
		" WHERE assembly_id = ? AND ok IS NULL AND error_kind IS NULL"
	args = append(args, id)
	if patch.Owner != "" {
		query += " AND lease_owner = ?"
		args = append(args, patch.Owner)
	}

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return transient("update", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.conflict(ctx, id, "update")
}

func clampPct(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

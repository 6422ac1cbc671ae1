package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assemblyline/internal/assembly"
	"assemblyline/internal/services"
)

// Start carries the fields of the initial processing write.
type Start struct {
	TemplateID    string
	Branch        string
	UploadID      string
	UserID        string
	Uploads       []assembly.Upload
	BytesExpected int64
	BytesReceived int64
	StepsTotal    int
	StartedAt     time.Time
}

// Begin records that processing started and claims the assembly for owner
// until ttl elapses. The record is created when absent. A pending record or
// an expired claim is taken over and progress is reset for the new attempt.
// A live claim is never re-entered, not even by the same owner, so owner
// should identify one processing attempt.
//
// Begin returns ErrTerminal when the assembly already completed or failed and
// ErrClaimed while any claim is still live.
func (s *Store) Begin(ctx context.Context, id string, start Start, owner string, ttl time.Duration) error {
	if id == "" || owner == "" {
		return services.Wrap(services.ErrValidation, "status", "begin", "assembly id and owner are required", nil)
	}
	uploads, err := json.Marshal(nonNilUploads(start.Uploads))
	if err != nil {
		return fmt.Errorf("marshal uploads: %w", err)
	}
	now := s.now()
	if start.StartedAt.IsZero() {
		start.StartedAt = now
	}
	ts := formatTime(now)
	res, err := s.execWithRetry(ctx,
		`INSERT INTO assemblies (
            assembly_id, message, template_id, branch, upload_id, user_id,
            uploads_json, results_json, bytes_expected, bytes_received,
            steps_total, execution_start, lease_owner, lease_expires, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, '{}', ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(assembly_id) DO UPDATE SET
            message = excluded.message,
            template_id = excluded.template_id,
            branch = excluded.branch,
            upload_id = CASE WHEN excluded.upload_id = '' THEN assemblies.upload_id ELSE excluded.upload_id END,
            user_id = CASE WHEN excluded.user_id = '' THEN assemblies.user_id ELSE excluded.user_id END,
            uploads_json = excluded.uploads_json,
            results_json = '{}',
            bytes_expected = excluded.bytes_expected,
            bytes_received = excluded.bytes_received,
            steps_total = excluded.steps_total,
            steps_completed = 0,
            current_step = 0,
            current_step_name = '',
            progress_pct = 0,
            execution_start = excluded.execution_start,
            execution_duration = 0,
            lease_owner = excluded.lease_owner,
            lease_expires = excluded.lease_expires,
            updated_at = excluded.updated_at
        WHERE assemblies.ok IS NULL
          AND assemblies.error_kind IS NULL
          AND (assemblies.lease_expires IS NULL
               OR assemblies.lease_expires <= ?)`,
		id, assembly.MessageProcessing, start.TemplateID, start.Branch, start.UploadID, start.UserID,
		string(uploads), start.BytesExpected, start.BytesReceived,
		start.StepsTotal, formatTime(start.StartedAt), owner, formatTime(now.Add(ttl)), ts, ts,
		ts,
	)
	if err != nil {
		return transient("begin", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.conflict(ctx, id, "begin")
}

// conflict explains why a conditional write matched no row.
func (s *Store) conflict(ctx context.Context, id, op string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return err
		}
		return transient(op, err)
	}
	if rec.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, rec.State())
	}
	return fmt.Errorf("%w: %s", ErrClaimed, id)
}

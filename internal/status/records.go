package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assemblyline/internal/assembly"
	"assemblyline/internal/services"
)

const assemblyColumns = "assembly_id, message, ok, error_kind, error_message, template_id, branch, upload_id, user_id, uploads_json, results_json, bytes_expected, bytes_received, steps_total, steps_completed, current_step, current_step_name, progress_pct, execution_start, execution_duration, created_at, updated_at"

func scanAssembly(scanner interface{ Scan(dest ...any) error }) (*assembly.Assembly, error) {
	var (
		rec          assembly.Assembly
		ok           sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		uploadsRaw   string
		resultsRaw   string
		startRaw     sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Message,
		&ok,
		&errorKind,
		&errorMessage,
		&rec.TemplateID,
		&rec.Branch,
		&rec.UploadID,
		&rec.UserID,
		&uploadsRaw,
		&resultsRaw,
		&rec.BytesExpected,
		&rec.BytesReceived,
		&rec.StepsTotal,
		&rec.StepsCompleted,
		&rec.CurrentStep,
		&rec.CurrentStepName,
		&rec.ProgressPct,
		&startRaw,
		&rec.ExecutionDuration,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec.OK = ok.String
	if errorKind.Valid {
		rec.Error = &assembly.Failure{Kind: errorKind.String, Message: errorMessage.String}
	}
	if err := json.Unmarshal([]byte(uploadsRaw), &rec.Uploads); err != nil {
		return nil, fmt.Errorf("decode uploads for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(resultsRaw), &rec.Results); err != nil {
		return nil, fmt.Errorf("decode results for %s: %w", rec.ID, err)
	}
	if rec.Uploads == nil {
		rec.Uploads = []assembly.Upload{}
	}
	if rec.Results == nil {
		rec.Results = map[string][]assembly.Artifact{}
	}
	rec.ExecutionStart = parseTime(startRaw)
	if t := parseTime(createdRaw); t != nil {
		rec.CreatedAt = *t
	}
	if t := parseTime(updatedRaw); t != nil {
		rec.UpdatedAt = *t
	}
	return &rec, nil
}

// Get fetches an assembly record. A missing record yields an error matching
// services.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*assembly.Assembly, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+assemblyColumns+` FROM assemblies WHERE assembly_id = ?`, id)
	rec, err := scanAssembly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "status", "get", "assembly "+id, nil)
	}
	if err != nil {
		return nil, transient("get", err)
	}
	return rec, nil
}

// Create writes the initial record for an assembly whose upload URL was issued.
func (s *Store) Create(ctx context.Context, rec *assembly.Assembly) error {
	if rec == nil || rec.ID == "" {
		return services.Wrap(services.ErrValidation, "status", "create", "assembly id is required", nil)
	}
	uploads, err := json.Marshal(nonNilUploads(rec.Uploads))
	if err != nil {
		return fmt.Errorf("marshal uploads: %w", err)
	}
	message := rec.Message
	if message == "" {
		message = assembly.MessageUploadPending
	}
	ts := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO assemblies (
            assembly_id, message, template_id, branch, upload_id, user_id,
            uploads_json, bytes_expected, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(assembly_id) DO NOTHING`,
		rec.ID, message, rec.TemplateID, rec.Branch, rec.UploadID, rec.UserID,
		string(uploads), rec.BytesExpected, ts, ts,
	)
	if err != nil {
		return transient("create", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, rec.ID)
	}
	return nil
}

// List returns the most recently updated assemblies.
func (s *Store) List(ctx context.Context, limit int) ([]*assembly.Assembly, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assemblyColumns+` FROM assemblies ORDER BY updated_at DESC, assembly_id LIMIT ?`, limit)
	if err != nil {
		return nil, transient("list", err)
	}
	defer rows.Close()

	var out []*assembly.Assembly
	for rows.Next() {
		rec, err := scanAssembly(rows)
		if err != nil {
			return nil, transient("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list", err)
	}
	return out, nil
}

// Stats counts assemblies per lifecycle state.
func (s *Store) Stats(ctx context.Context) (map[assembly.State]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
        SELECT CASE
            WHEN ok IS NOT NULL THEN 'completed'
            WHEN error_kind IS NOT NULL THEN 'failed'
            WHEN execution_start IS NOT NULL THEN 'processing'
            ELSE 'pending'
        END AS state, COUNT(1)
        FROM assemblies GROUP BY state`)
	if err != nil {
		return nil, transient("stats", err)
	}
	defer rows.Close()

	stats := map[assembly.State]int{}
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, transient("stats", err)
		}
		stats[assembly.State(state)] = count
	}
	return stats, rows.Err()
}

// PurgeTerminal deletes completed and failed records last updated before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM assemblies WHERE (ok IS NOT NULL OR error_kind IS NOT NULL) AND updated_at < ?`,
		formatTime(before))
	if err != nil {
		return 0, transient("purge", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nonNilUploads(uploads []assembly.Upload) []assembly.Upload {
	if uploads == nil {
		return []assembly.Upload{}
	}
	return uploads
}

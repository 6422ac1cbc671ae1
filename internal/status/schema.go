package status

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// statusSchemaVersion is stamped into the database header via
// PRAGMA user_version. Records are not migrated: a database written by another
// layout must be removed (or moved aside) before the daemon can start.
const statusSchemaVersion = 1

// ErrSchemaMismatch is returned by Open when the status database was written
// with a different record layout.
var ErrSchemaMismatch = errors.New("status database layout mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read status layout version: %w", err)
	}
	switch version {
	case statusSchemaVersion:
		return nil
	case 0:
		return s.stampSchema(ctx)
	default:
		return fmt.Errorf("%w: %s has layout %d, this build writes %d; move it aside to start with an empty history",
			ErrSchemaMismatch, s.path, version, statusSchemaVersion)
	}
}

// stampSchema creates the assemblies table in an unversioned database. A
// database that already holds an assemblies table without a version is
// refused rather than overwritten.
func (s *Store) stampSchema(ctx context.Context) error {
	var tables int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'assemblies'",
	).Scan(&tables); err != nil {
		return fmt.Errorf("inspect status database: %w", err)
	}
	if tables > 0 {
		return fmt.Errorf("%w: %s holds an unversioned assemblies table", ErrSchemaMismatch, s.path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status schema: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create assemblies table: %w", err)
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", statusSchemaVersion)); err != nil {
		return fmt.Errorf("stamp status layout version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status schema: %w", err)
	}
	return nil
}

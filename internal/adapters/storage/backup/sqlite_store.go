package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kafer/internal/adapters/archive"
	"kafer/internal/adapters/storage"
)

// SQLiteStore implements archive.RunStore using the backup_run table.
type SQLiteStore struct {
	db storage.SQLDB
}

var _ archive.RunStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new run store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Latest returns the most recent run.
// POST: ok is false when no backup was ever recorded
func (s *SQLiteStore) Latest(ctx context.Context) (archive.Run, bool, error) {
	var (
		run     archive.Run
		created string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT key, digest, rows, bytes, created_at FROM backup_run ORDER BY created_at DESC, key DESC LIMIT 1",
	).Scan(&run.Key, &run.Digest, &run.Rows, &run.Bytes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Run{}, false, nil
	}
	if err != nil {
		return archive.Run{}, false, fmt.Errorf("load latest backup run: %w", err)
	}
	run.CreatedAt, err = time.Parse(time.RFC3339, created)
	if err != nil {
		return archive.Run{}, false, fmt.Errorf("parse backup run time: %w", err)
	}
	return run, true, nil
}

// Save records a completed upload.
// PRE: run.Key is unique
func (s *SQLiteStore) Save(ctx context.Context, run archive.Run) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO backup_run (key, digest, rows, bytes, created_at) VALUES (?, ?, ?, ?, ?)",
		run.Key, run.Digest, run.Rows, run.Bytes, run.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save backup run: %w", err)
	}
	return nil
}

// List returns up to limit runs, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]archive.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, digest, rows, bytes, created_at FROM backup_run ORDER BY created_at DESC, key DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list backup runs: %w", err)
	}
	defer rows.Close()

	var list []archive.Run
	for rows.Next() {
		var (
			run     archive.Run
			created string
		)
		if err := rows.Scan(&run.Key, &run.Digest, &run.Rows, &run.Bytes, &created); err != nil {
			return nil, fmt.Errorf("scan backup run: %w", err)
		}
		if run.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, fmt.Errorf("parse backup run time: %w", err)
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

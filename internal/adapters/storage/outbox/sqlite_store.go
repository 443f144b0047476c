package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kafer/internal/adapters/storage"
	domain "kafer/internal/domain/outbox"
)

// dateLayout is fixed width so stored times sort as text.
const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

const entryColumns = `id, kind, payload, status, attempts, max_attempts, last_attempted_at, created_at, message_id, error_message`

// SQLiteStore implements Store using the outbox table.
type SQLiteStore struct {
	db storage.SQLDB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new outbox store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM outbox WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entry{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return e, err
}

func (s *SQLiteStore) Save(ctx context.Context, e domain.Entry) error {
	lastAttemptedAt := ""
	if !e.LastAttemptedAt.IsZero() {
		lastAttemptedAt = e.LastAttemptedAt.UTC().Format(dateLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, attempts=excluded.attempts, max_attempts=excluded.max_attempts,
		   last_attempted_at=excluded.last_attempted_at, message_id=excluded.message_id,
		   error_message=excluded.error_message`,
		e.ID, e.Kind, e.Payload, e.Status, e.Attempts, e.MaxAttempts,
		lastAttemptedAt, e.CreatedAt.UTC().Format(dateLayout), e.MessageID, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("save outbox entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM outbox WHERE status IN (?, ?) ORDER BY created_at ASC LIMIT ?`,
		domain.StatusPending, domain.StatusRetrying, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM outbox ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) PurgeDone(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = ? AND created_at < ?`,
		domain.StatusDone, cutoff.UTC().Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return res.RowsAffected()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (domain.Entry, error) {
	var e domain.Entry
	var createdAt, lastAttemptedAt string
	err := row.Scan(&e.ID, &e.Kind, &e.Payload, &e.Status, &e.Attempts, &e.MaxAttempts,
		&lastAttemptedAt, &createdAt, &e.MessageID, &e.ErrorMessage)
	if err != nil {
		return domain.Entry{}, err
	}
	if e.CreatedAt, err = time.Parse(dateLayout, createdAt); err != nil {
		return domain.Entry{}, fmt.Errorf("parse created_at of %s: %w", e.ID, err)
	}
	if lastAttemptedAt != "" {
		if e.LastAttemptedAt, err = time.Parse(dateLayout, lastAttemptedAt); err != nil {
			return domain.Entry{}, fmt.Errorf("parse last_attempted_at of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package outbox

import (
	"context"
	"time"

	domain "kafer/internal/domain/outbox"
)

// Store defines the interface for outbox entry persistence.
type Store interface {
	// GetByID retrieves an outbox entry by its ID.
	// POST: Returns domain.ErrNotFound when no entry has that ID
	GetByID(ctx context.Context, id string) (domain.Entry, error)

	// Save persists an outbox entry (insert or update).
	// PRE: entry has been validated
	Save(ctx context.Context, e domain.Entry) error

	// ListPending returns entries the worker may still retry.
	// PRE: limit > 0
	// POST: Returns up to limit pending or retrying entries, oldest first
	ListPending(ctx context.Context, limit int) ([]domain.Entry, error)

	// ListRecent returns entries of every status, newest first.
	// PRE: limit > 0
	ListRecent(ctx context.Context, limit int) ([]domain.Entry, error)

	// PurgeDone deletes delivered entries created before cutoff.
	PurgeDone(ctx context.Context, cutoff time.Time) (int64, error)
}

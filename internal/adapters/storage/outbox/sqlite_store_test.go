package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"kafer/internal/adapters/storage"
	domain "kafer/internal/domain/outbox"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

func entry(t *testing.T, id string, created time.Time) domain.Entry {
	t.Helper()
	e, err := domain.NewEntry(id, domain.Notification{To: []string{"a@example.com"}, Subject: id, Kind: "test"}, errors.New("down"), created)
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	return e
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	e := entry(t, "e1", t0)
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Payload != e.Payload || !got.CreatedAt.Equal(t0) || !got.LastAttemptedAt.Equal(t0) || got.ErrorMessage != "down" {
		t.Errorf("GetByID() = %+v, want %+v", got, e)
	}

	got.MarkAttempt(t0.Add(time.Minute))
	got.MarkSuccess("msg-1")
	if err := s.Save(ctx, got); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}
	updated, err := s.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Status != domain.StatusDone || updated.Attempts != 2 || updated.MessageID != "msg-1" {
		t.Errorf("after update = %+v", updated)
	}

	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Lists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	pending := entry(t, "a", t0)
	done := entry(t, "b", t0.Add(time.Hour))
	done.MarkSuccess("m")
	abandoned := entry(t, "c", t0.Add(2*time.Hour))
	abandoned.MarkAbandoned()
	for _, e := range []domain.Entry{pending, done, abandoned} {
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("Save(%s) error = %v", e.ID, err)
		}
	}

	got, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("ListPending() = %v, want [a]", got)
	}

	recent, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Errorf("ListRecent() = %v, want [c b]", recent)
	}

	n, err := s.PurgeDone(ctx, t0.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeDone() = %d, %v; want 1", n, err)
	}
	if _, err := s.GetByID(ctx, "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("done entry survived purge: %v", err)
	}
}

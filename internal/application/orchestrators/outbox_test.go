package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"kafer/internal/adapters/email"
	domain "kafer/internal/domain/outbox"
)

type mockOutbox struct {
	mu      sync.Mutex
	entries map[string]domain.Entry
	saveErr error
}

func newMockOutbox(entries ...domain.Entry) *mockOutbox {
	m := &mockOutbox{entries: map[string]domain.Entry{}}
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return m
}

func (m *mockOutbox) GetByID(_ context.Context, id string) (domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.Entry{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return e, nil
}

func (m *mockOutbox) Save(_ context.Context, e domain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries[e.ID] = e
	return nil
}

func (m *mockOutbox) ListPending(_ context.Context, limit int) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Entry
	for _, e := range m.entries {
		if e.Status == domain.StatusPending || e.Status == domain.StatusRetrying {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockOutbox) ListRecent(ctx context.Context, limit int) ([]domain.Entry, error) {
	return m.ListPending(ctx, limit)
}

func (m *mockOutbox) PurgeDone(context.Context, time.Time) (int64, error) { return 0, nil }

func queued(t *testing.T, id string, at time.Time) domain.Entry {
	t.Helper()
	e, err := domain.NewEntry(id, domain.Notification{To: []string{"admin@example.com"}, Subject: "s " + id, Text: "b", Kind: "test"}, errBoom, at)
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	return e
}

func TestNotify_QueuesFailedDelivery(t *testing.T) {
	store := newMockOutbox()
	deps := writeDeps(newMockLedger(fundedRecords("admin@example.com")...))
	deps.Mailer = &email.MemorySender{Err: errBoom}
	deps.Outbox = store
	deps.Now = func() time.Time { return t0.Add(10 * time.Hour) }

	if _, err := ExecuteRequestRefund(context.Background(), RequestRefundInput{Actor: alice, AmountKaf: 20000}, deps); err != nil {
		t.Fatalf("ExecuteRequestRefund() error = %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("queued entries = %d, want 1", len(store.entries))
	}
	for _, e := range store.entries {
		n, err := e.Notification()
		if err != nil {
			t.Fatalf("Notification() error = %v", err)
		}
		if n.To[0] != "admin@example.com" || e.Kind != "refund_request" || e.ErrorMessage != errBoom.Error() {
			t.Errorf("queued entry = %+v, notification %+v", e, n)
		}
	}

	store.saveErr = errBoom
	if _, err := ExecuteRequestRefund(context.Background(), RequestRefundInput{Actor: alice, AmountKaf: 20000}, deps); err != nil {
		t.Errorf("a failing queue must not fail the write: %v", err)
	}
}

func TestOutboxProcessor_ProcessPending(t *testing.T) {
	now := t0.Add(time.Hour)
	fresh := queued(t, "fresh", now.Add(-10*time.Second))
	due := queued(t, "due", now.Add(-time.Minute))
	store := newMockOutbox(fresh, due)

	mailer := &email.MemorySender{}
	p := NewOutboxProcessor(store, mailer)
	p.Now = func() time.Time { return now }

	sent, failed, err := p.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if sent != 1 || failed != 0 {
		t.Errorf("sent, failed = %d, %d; want 1, 0", sent, failed)
	}
	if got := store.entries["due"]; got.Status != domain.StatusDone || got.Attempts != 2 {
		t.Errorf("due entry = %+v", got)
	}
	if got := store.entries["fresh"]; got.Status != domain.StatusRetrying || got.Attempts != 1 {
		t.Errorf("entry inside its backoff was touched: %+v", got)
	}
	if len(mailer.Sent()) != 1 || mailer.Sent()[0].Subject != "s due" {
		t.Errorf("sent = %+v", mailer.Sent())
	}
}

func TestOutboxProcessor_GivesUp(t *testing.T) {
	e := queued(t, "e", t0)
	e.MaxAttempts = 2
	store := newMockOutbox(e)
	p := NewOutboxProcessor(store, &email.MemorySender{Err: errBoom})
	p.Now = func() time.Time { return t0.Add(time.Hour) }

	_, failed, err := p.ProcessPending(context.Background())
	if err != nil || failed != 1 {
		t.Fatalf("ProcessPending() = failed %d, error %v", failed, err)
	}
	if got := store.entries["e"]; got.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if _, err := p.RetryNow(context.Background(), "e"); !errors.Is(err, domain.ErrTerminal) {
		t.Errorf("RetryNow() on failed entry error = %v, want ErrTerminal", err)
	}
}

func TestOutboxProcessor_RetryNowAndAbandon(t *testing.T) {
	ctx := context.Background()
	store := newMockOutbox(queued(t, "a", t0), queued(t, "b", t0))
	p := NewOutboxProcessor(store, &email.MemorySender{})
	p.Now = func() time.Time { return t0 }

	got, err := p.RetryNow(ctx, "a")
	if err != nil {
		t.Fatalf("RetryNow() error = %v", err)
	}
	if got.Status != domain.StatusDone {
		t.Errorf("RetryNow() status = %s, want done", got.Status)
	}

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{"pending entry", "b", nil},
		{"delivered entry", "a", domain.ErrTerminal},
		{"unknown", "zzz", domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Abandon(ctx, tt.id); !errors.Is(err, tt.wantErr) {
				t.Errorf("Abandon() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if store.entries["b"].Status != domain.StatusAbandoned {
		t.Errorf("b status = %s, want abandoned", store.entries["b"].Status)
	}
}

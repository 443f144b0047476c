package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"kafer/internal/adapters/storage"
	domain "kafer/internal/domain/session"
)

var (
	alice = domain.Session{MemberID: "1001", DisplayName: "Alice"}
	root  = domain.Session{MemberID: "2025", DisplayName: "Admin", IsAdmin: true}
)

func newTestStore(t *testing.T) (*SQLiteStore, *time.Time) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	s := NewSQLiteStore(db, time.Hour)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, ok, _ := m.Get(ctx); ok {
		t.Fatal("new store reports a session")
	}
	if err := m.Set(ctx, domain.Session{}); !errors.Is(err, domain.ErrNoSession) {
		t.Errorf("Set(empty) error = %v, want ErrNoSession", err)
	}
	if err := m.Set(ctx, alice); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := m.Get(ctx)
	if err != nil || !ok || got != alice {
		t.Errorf("Get() = %+v, %v, %v; want alice", got, ok, err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := m.Get(ctx); ok {
		t.Error("session survived Clear")
	}
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	b, _ := NewToken()
	if len(a) != 64 || a == b {
		t.Errorf("NewToken() = %q, %q; want two distinct 64-char tokens", a, b)
	}
}

func TestSQLiteStore_SetGetClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctxA := WithToken(context.Background(), "token-a")
	ctxB := WithToken(context.Background(), "token-b")

	if err := s.Set(ctxA, alice); err != nil {
		t.Fatalf("Set(alice) error = %v", err)
	}
	if err := s.Set(ctxB, root); err != nil {
		t.Fatalf("Set(root) error = %v", err)
	}

	tests := []struct {
		name   string
		ctx    context.Context
		want   domain.Session
		wantOK bool
	}{
		{"member token", ctxA, alice, true},
		{"admin token", ctxB, root, true},
		{"unknown token", WithToken(context.Background(), "nope"), domain.Session{}, false},
		{"no token", context.Background(), domain.Session{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := s.Get(tt.ctx)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Get() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if err := s.Clear(ctxA); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := s.Get(ctxA); ok {
		t.Error("cleared session still readable")
	}
	if _, ok, _ := s.Get(ctxB); !ok {
		t.Error("Clear removed another token's session")
	}
}

func TestSQLiteStore_SetReplacesSlot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := WithToken(context.Background(), "tok")
	s.Set(ctx, alice)
	if err := s.Set(ctx, root); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _, _ := s.Get(ctx); got != root {
		t.Errorf("Get() = %+v, want %+v", got, root)
	}
}

func TestSQLiteStore_SetRequiresToken(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Set(context.Background(), alice); !errors.Is(err, ErrNoToken) {
		t.Errorf("Set() without token error = %v, want ErrNoToken", err)
	}
	if err := s.Set(WithToken(context.Background(), "t"), domain.Session{}); !errors.Is(err, domain.ErrNoSession) {
		t.Errorf("Set(empty session) error = %v, want ErrNoSession", err)
	}
	if err := s.Clear(context.Background()); err != nil {
		t.Errorf("Clear() without token error = %v", err)
	}
}

func TestSQLiteStore_Expiry(t *testing.T) {
	s, now := newTestStore(t)
	ctx := WithToken(context.Background(), "tok")
	other := WithToken(context.Background(), "other")
	s.Set(ctx, alice)

	*now = now.Add(30 * time.Minute)
	s.Set(other, root)
	if _, ok, _ := s.Get(ctx); !ok {
		t.Fatal("session expired before its TTL")
	}

	*now = now.Add(31 * time.Minute)
	n, err := s.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}
	if _, ok, _ := s.Get(ctx); ok {
		t.Error("expired session still readable")
	}
	if _, ok, _ := s.Get(other); !ok {
		t.Error("live session was purged")
	}

	*now = now.Add(time.Hour)
	if _, ok, _ := s.Get(other); ok {
		t.Error("Get returned a session past its TTL")
	}
}

func TestSQLiteStore_ClearMember(t *testing.T) {
	s, _ := newTestStore(t)
	phone := WithToken(context.Background(), "phone")
	laptop := WithToken(context.Background(), "laptop")
	adminCtx := WithToken(context.Background(), "admin")
	s.Set(phone, alice)
	s.Set(laptop, alice)
	s.Set(adminCtx, root)

	n, err := s.ClearMember(context.Background(), alice.MemberID)
	if err != nil {
		t.Fatalf("ClearMember() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ClearMember() = %d, want 2", n)
	}
	if _, ok, _ := s.Get(adminCtx); !ok {
		t.Error("ClearMember removed another member's session")
	}
}

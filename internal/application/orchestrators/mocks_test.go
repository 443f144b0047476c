package orchestrators

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kafer/internal/adapters/sheet"
	"kafer/internal/application/projections"
	"kafer/internal/domain/record"
	"kafer/internal/domain/session"
	"kafer/internal/domain/systemconfig"
)

const adminID = "2025"

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// mockLedger implements LedgerStore for testing.
type mockLedger struct {
	mu        sync.Mutex
	records   []record.Record
	clock     time.Time
	appendErr error
	fetchErr  error
	fetches   int
	polls     int
	hidden    bool // appended records never become visible to PollUntil
}

func newMockLedger(recs ...record.Record) *mockLedger {
	m := &mockLedger{clock: t0.Add(24 * time.Hour), records: append([]record.Record(nil), recs...)}
	record.Sequence(m.records)
	return m
}

// FetchDecoded returns the stored records.
// PRE: none
// POST: Returns sheet.ErrLockdown when lockdown is on and asAdmin is false
func (m *mockLedger) FetchDecoded(_ context.Context, asAdmin bool) ([]record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return []record.Record{}, m.fetchErr
	}
	out := make([]record.Record, len(m.records))
	copy(out, m.records)
	if systemconfig.Resolve(out, systemconfig.Defaults()).LockdownBlocks(false, asAdmin) {
		return []record.Record{}, sheet.ErrLockdown
	}
	return out, nil
}

// Append stamps rec one minute after the previous write and stores it.
// PRE: none
// POST: rec is stored with the next Seq unless appendErr is set
func (m *mockLedger) Append(_ context.Context, rec record.Record) (record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return record.Record{}, m.appendErr
	}
	m.clock = m.clock.Add(time.Minute)
	rec.Timestamp = m.clock
	if err := rec.Validate(); err != nil {
		return record.Record{}, err
	}
	rec.Seq = len(m.records)
	m.records = append(m.records, rec)
	return rec, nil
}

// PollUntil evaluates predicate once against the visible records.
// PRE: none
// POST: Returns sheet.ErrNotConfirmed when predicate is false
func (m *mockLedger) PollUntil(ctx context.Context, asAdmin bool, predicate func([]record.Record) bool, _ time.Duration) ([]record.Record, error) {
	m.mu.Lock()
	m.polls++
	hidden := m.hidden
	m.mu.Unlock()
	if hidden {
		return nil, sheet.ErrNotConfirmed
	}
	records, err := m.FetchDecoded(ctx, asAdmin)
	if err != nil {
		return nil, err
	}
	if !predicate(records) {
		return records, sheet.ErrNotConfirmed
	}
	return records, nil
}

func (m *mockLedger) snapshot() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *mockLedger) last() record.Record {
	recs := m.snapshot()
	return recs[len(recs)-1]
}

// mockSessions implements session.Store for testing.
type mockSessions struct {
	sess     session.Session
	ok       bool
	setErr   error
	clearErr error
	cleared  int
}

// Get returns the stored session.
// PRE: none
// POST: ok is false when nothing is stored
func (m *mockSessions) Get(context.Context) (session.Session, bool, error) {
	return m.sess, m.ok, nil
}

// Set stores s.
func (m *mockSessions) Set(_ context.Context, s session.Session) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.sess, m.ok = s, true
	return nil
}

// Clear removes the stored session.
func (m *mockSessions) Clear(context.Context) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.sess, m.ok = session.Session{}, false
	m.cleared++
	return nil
}

// mockLockdown implements LockdownChecker for testing.
type mockLockdown struct {
	active bool
	err    error
}

func (m mockLockdown) LockdownActive(context.Context) (bool, error) { return m.active, m.err }

var errBoom = errors.New("boom")

func reg(id, name, pass string, ts time.Time) record.Record {
	return record.New(id, name, ts, record.Register{PasswordSecret: pass})
}

func lockdown(on bool, ts time.Time) record.Record {
	return record.New(adminID, "Admin", ts, record.SystemConfig{EmergencyLockdown: &on})
}

func issued(code string, kaf int64, ts time.Time) record.Record {
	return record.New(adminID, "Admin", ts, record.MoneyCodeIssue{Code: code, AmountKaf: record.Number(kaf), AmountYen: record.Number(kaf / 100), Status: "active"})
}

func baseRecords() []record.Record {
	return []record.Record{
		reg(adminID, "Admin", "root", t0),
		reg("1001", "Alice", "pw", t0.Add(time.Hour)),
		reg("1002", "Bob", "pw", t0.Add(2*time.Hour)),
	}
}

var (
	alice = session.Session{MemberID: "1001", DisplayName: "Alice"}
	bob   = session.Session{MemberID: "1002", DisplayName: "Bob"}
	admin = session.Session{MemberID: adminID, DisplayName: "Admin", IsAdmin: true}
)

func writeDeps(l *mockLedger) WriteDeps {
	return WriteDeps{
		Ledger:     l,
		Settings:   projections.DefaultSettings(),
		AdminID:    adminID,
		GenerateID: func() string { return "abc123" },
	}
}

func mustBalance(t *testing.T, l *mockLedger, memberID string, want int64) {
	t.Helper()
	if got := projections.MoneyBalance(memberID, l.snapshot()); got != want {
		t.Errorf("balance(%s) = %d, want %d", memberID, got, want)
	}
}

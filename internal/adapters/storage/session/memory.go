package session

import (
	"context"
	"sync"

	domain "kafer/internal/domain/session"
)

// MemoryStore holds a single session slot. It backs the CLI and tests,
// where one process acts for one member.
type MemoryStore struct {
	mu   sync.Mutex
	sess domain.Session
	ok   bool
}

var _ domain.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored session.
// POST: ok is false when the slot is empty
func (m *MemoryStore) Get(context.Context) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess, m.ok, nil
}

// Set replaces the stored session.
// PRE: s.Valid()
func (m *MemoryStore) Set(_ context.Context, s domain.Session) error {
	if !s.Valid() {
		return domain.ErrNoSession
	}
	m.mu.Lock()
	m.sess, m.ok = s, true
	m.mu.Unlock()
	return nil
}

// Clear empties the slot. Clearing an empty slot is not an error.
func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.sess, m.ok = domain.Session{}, false
	m.mu.Unlock()
	return nil
}

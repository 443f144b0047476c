package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kafer/internal/adapters/storage"
	domain "kafer/internal/domain/session"
)

// DefaultTTL is how long a login stays valid without being renewed.
const DefaultTTL = 24 * time.Hour

// ErrNoToken is returned by Set when the context carries no session token.
var ErrNoToken = errors.New("no session token in context")

type tokenKey struct{}

// WithToken returns a context addressing the session slot named by token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token set by WithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SQLiteStore implements domain.Store with one row per token. The slot a
// call operates on is the token carried by its context.
type SQLiteStore struct {
	db  storage.SQLDB
	ttl time.Duration
	now func() time.Time
}

var _ domain.Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a session store. ttl <= 0 means DefaultTTL.
func NewSQLiteStore(db storage.SQLDB, ttl time.Duration) *SQLiteStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}
}

// Get loads the session addressed by ctx.
// PRE: none
// POST: ok is false for a missing token, an unknown token or an expired session
func (s *SQLiteStore) Get(ctx context.Context) (domain.Session, bool, error) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return domain.Session{}, false, nil
	}

	var (
		sess      domain.Session
		isAdmin   int
		expiresAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT member_id, display_name, is_admin, expires_at FROM session WHERE token = ?", token,
	).Scan(&sess.MemberID, &sess.DisplayName, &isAdmin, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load session: %w", err)
	}

	exp, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil || !s.now().Before(exp) {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE token = ?", token); err != nil {
			slog.Warn("session_event", "event", "expired_delete_failed", "error", err)
		}
		return domain.Session{}, false, nil
	}
	sess.IsAdmin = isAdmin == 1
	return sess, true, nil
}

// Set stores sess under the token carried by ctx, replacing any previous
// session in that slot and restarting its TTL.
// PRE: ctx carries a token (WithToken); sess.Valid()
// POST: Get with the same token returns sess until the TTL elapses
func (s *SQLiteStore) Set(ctx context.Context, sess domain.Session) error {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return ErrNoToken
	}
	if !sess.Valid() {
		return domain.ErrNoSession
	}
	now := s.now().UTC()
	isAdmin := 0
	if sess.IsAdmin {
		isAdmin = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (token, member_id, display_name, is_admin, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET member_id = excluded.member_id,
		   display_name = excluded.display_name, is_admin = excluded.is_admin,
		   created_at = excluded.created_at, expires_at = excluded.expires_at`,
		token, sess.MemberID, sess.DisplayName, isAdmin,
		now.Format(time.RFC3339Nano), now.Add(s.ttl).Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear deletes the session addressed by ctx. A missing token or row is not an error.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ClearMember ends every session of memberID, used after removal or a
// password change so other devices are logged out too.
func (s *SQLiteStore) ClearMember(ctx context.Context, memberID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE member_id = ?", memberID)
	if err != nil {
		return 0, fmt.Errorf("delete member sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpired deletes every session whose TTL has elapsed.
// POST: Returns the number of rows removed
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	// RFC3339Nano trims trailing zeros, so expires_at does not sort lexically.
	rows, err := s.db.QueryContext(ctx, "SELECT token, expires_at FROM session")
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	now := s.now()
	var expired []string
	for rows.Next() {
		var token, expiresAt string
		if err := rows.Scan(&token, &expiresAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan sessions: %w", err)
		}
		if exp, err := time.Parse(time.RFC3339Nano, expiresAt); err != nil || !now.Before(exp) {
			expired = append(expired, token)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	rows.Close()

	for _, token := range expired {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE token = ?", token); err != nil {
			return 0, fmt.Errorf("purge session: %w", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("session_event", "event", "expired_purged", "count", len(expired))
	}
	return int64(len(expired)), nil
}

// Start purges expired sessions every interval until ctx is cancelled.
func (s *SQLiteStore) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.PurgeExpired(ctx); err != nil {
					slog.Warn("session_event", "event", "purge_failed", "error", err)
				}
			}
		}
	}()
}

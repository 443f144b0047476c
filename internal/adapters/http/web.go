package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"kafer/internal/adapters/email"
	"kafer/internal/adapters/http/middleware"
	"kafer/internal/adapters/http/perf"
	"kafer/internal/application/orchestrators"
	"kafer/internal/application/projections"
	"kafer/internal/domain/session"
)

// ErrCSRFKey is returned when the CSRF key is not 32 bytes.
var ErrCSRFKey = errors.New("csrf key must be 32 bytes")

// Ledger is the record store the handlers read and write through.
type Ledger interface {
	orchestrators.LedgerStore
	orchestrators.LockdownChecker
}

// SessionStore addresses the session slot named by the request token.
type SessionStore interface {
	session.Store
	ClearMember(ctx context.Context, memberID string) (int64, error)
}

// Deps holds everything the HTTP surface needs.
// Limiter, Collector, Mailer and Outbox may be nil.
type Deps struct {
	Ledger         Ledger
	Sessions       SessionStore
	Settings       projections.Settings
	AdminID        string
	Mailer         email.Sender
	Outbox         *orchestrators.OutboxProcessor
	Collector      *perf.Collector
	Limiter        *middleware.RateLimiter
	ConfirmTimeout time.Duration
	CSRFKey        []byte
	Secure         bool
	TrustedOrigins []string
	Now            func() time.Time
}

type server struct {
	deps Deps
}

func (s *server) now() time.Time {
	if s.deps.Now == nil {
		return time.Now()
	}
	return s.deps.Now()
}

func (s *server) writeDeps() orchestrators.WriteDeps {
	d := orchestrators.WriteDeps{
		Ledger:         s.deps.Ledger,
		Settings:       s.deps.Settings,
		Mailer:         s.deps.Mailer,
		AdminID:        s.deps.AdminID,
		Now:            s.deps.Now,
		ConfirmTimeout: s.deps.ConfirmTimeout,
	}
	if s.deps.Outbox != nil {
		d.Outbox = s.deps.Outbox.Store
	}
	return d
}

// NewMux builds the JSON API with its middleware chain.
// PRE: deps.Ledger and deps.Sessions are set
// POST: Timing wraps the mux directly so perf entries carry route patterns
func NewMux(deps Deps) (http.Handler, error) {
	if len(deps.CSRFKey) != 32 {
		return nil, ErrCSRFKey
	}
	s := &server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// Session
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("POST /api/register", s.handleRegister)

	// Member
	mux.HandleFunc("GET /api/me", s.handleMe)
	mux.HandleFunc("GET /api/announcements", s.handleAnnouncements)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/redeem", s.handleRedeem)
	mux.HandleFunc("POST /api/refunds", s.handleRequestRefund)
	mux.HandleFunc("POST /api/password", s.handleChangePassword)
	mux.HandleFunc("POST /api/name", s.handleUpdateOwnName)

	// Admin
	mux.HandleFunc("GET /api/admin/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/admin/members", s.handleMembers)
	mux.HandleFunc("POST /api/admin/members", s.handleAdminRegister)
	mux.HandleFunc("GET /api/admin/members/{id}/history", s.handleMemberHistory)
	mux.HandleFunc("POST /api/admin/members/{id}/name", s.handleAdminUpdateName)
	mux.HandleFunc("POST /api/admin/members/{id}/remove", s.handleRemoveMember)
	mux.HandleFunc("GET /api/admin/codes", s.handleCodes)
	mux.HandleFunc("POST /api/admin/codes", s.handleIssueCode)
	mux.HandleFunc("POST /api/admin/codes/{code}/void", s.handleVoidCode)
	mux.HandleFunc("GET /api/admin/refunds", s.handleRefunds)
	mux.HandleFunc("POST /api/admin/refunds/{code}/approve", s.handleApproveRefund)
	mux.HandleFunc("POST /api/admin/announcements", s.handlePostAnnouncement)
	mux.HandleFunc("PUT /api/admin/config", s.handleUpdateConfig)
	mux.HandleFunc("PUT /api/admin/lockdown", s.handleSetLockdown)
	mux.HandleFunc("GET /api/admin/activity", s.handleActivity)
	mux.HandleFunc("GET /api/admin/perf", s.handlePerf)
	mux.HandleFunc("GET /api/admin/outbox", s.handleOutbox)
	mux.HandleFunc("POST /api/admin/outbox/{id}/retry", s.handleRetryOutbox)
	mux.HandleFunc("POST /api/admin/outbox/{id}/abandon", s.handleAbandonOutbox)

	chain := []func(http.Handler) http.Handler{
		middleware.Timing(deps.Collector),
		middleware.Auth,
		middleware.CSRF(deps.CSRFKey, deps.Secure, deps.TrustedOrigins),
		middleware.SecurityHeaders,
	}
	if deps.Limiter != nil {
		chain = append(chain, middleware.RateLimit(deps.Limiter))
	}
	return middleware.Chain(mux, chain...), nil
}

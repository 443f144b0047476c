package orchestrators

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"kafer/internal/adapters/sheet"
	"kafer/internal/application/projections"
	"kafer/internal/domain/record"
	"kafer/internal/domain/session"
	"kafer/internal/domain/systemconfig"
)

// LoginInput carries input for the login orchestrator.
type LoginInput struct {
	MemberID string
	Secret   string
}

// LoginResult carries the session created by a successful login.
type LoginResult struct {
	Session session.Session
}

// LoginDeps holds dependencies for Login.
type LoginDeps struct {
	Ledger   LedgerReader
	Sessions session.Store
	AdminID  string
	Defaults systemconfig.Config
}

// ExecuteLogin checks credentials against the current projection and persists the session.
// PRE: none
// POST: On success the session store holds {memberId, displayName, isAdmin}
// INVARIANT: While lockdown is active only the administrator can log in
func ExecuteLogin(ctx context.Context, input LoginInput, deps LoginDeps) (LoginResult, error) {
	if input.MemberID == "" || input.Secret == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	// The lockdown decision needs the admin id, so read past the adapter's gate.
	records, err := deps.Ledger.FetchDecoded(ctx, true)
	if err != nil {
		return LoginResult{}, err
	}

	isAdmin := deps.AdminID != "" && input.MemberID == deps.AdminID
	if systemconfig.Resolve(records, deps.Defaults).LockdownBlocks(isAdmin, false) {
		slog.Info("auth_event", "event", "login_blocked", "member_id", input.MemberID, "reason", "lockdown")
		return LoginResult{}, ErrLockedOut
	}

	if !projections.ActiveMembers(records).Contains(input.MemberID) {
		slog.Info("auth_event", "event", "login_failed", "member_id", input.MemberID, "reason", "not_active")
		return LoginResult{}, ErrInvalidCredentials
	}
	identity, _ := projections.CurrentIdentity(input.MemberID, records)
	if subtle.ConstantTimeCompare([]byte(identity.PasswordSecret), []byte(input.Secret)) != 1 {
		slog.Info("auth_event", "event", "login_failed", "member_id", input.MemberID, "reason", "wrong_password")
		return LoginResult{}, ErrInvalidCredentials
	}

	sess := session.Session{MemberID: input.MemberID, DisplayName: identity.DisplayName, IsAdmin: isAdmin}
	if err := deps.Sessions.Set(ctx, sess); err != nil {
		return LoginResult{}, err
	}

	slog.Info("auth_event", "event", "login_success", "member_id", input.MemberID, "admin", isAdmin)
	return LoginResult{Session: sess}, nil
}

// LogoutDeps holds dependencies for Logout.
type LogoutDeps struct {
	Sessions session.Store
}

// ExecuteLogout clears the current session.
// POST: The session store is empty
func ExecuteLogout(ctx context.Context, deps LogoutDeps) error {
	if err := deps.Sessions.Clear(ctx); err != nil {
		return err
	}
	slog.Info("auth_event", "event", "logout")
	return nil
}

// LockdownChecker reports the emergency lockdown flag.
type LockdownChecker interface {
	LockdownActive(ctx context.Context) (bool, error)
}

// RequireSessionInput carries input for RequireSession.
type RequireSessionInput struct {
	NeedAdmin bool
}

// RequireSessionDeps holds dependencies for RequireSession.
// Lockdown is optional; when set, a non-admin session is ended while lockdown is active.
type RequireSessionDeps struct {
	Sessions session.Store
	Lockdown LockdownChecker
}

// ExecuteRequireSession returns the persisted session or a redirect signal.
// PRE: none
// POST: ErrLoginRequired when there is no session, ErrAdminRequired when an
// admin session is needed, ErrForcedLogout when lockdown ended the session
func ExecuteRequireSession(ctx context.Context, input RequireSessionInput, deps RequireSessionDeps) (session.Session, error) {
	sess, ok, err := deps.Sessions.Get(ctx)
	if err != nil {
		return session.Session{}, err
	}
	if !ok || !sess.Valid() {
		return session.Session{}, ErrLoginRequired
	}

	if !sess.IsAdmin && deps.Lockdown != nil {
		active, err := deps.Lockdown.LockdownActive(ctx)
		if err != nil {
			return session.Session{}, err
		}
		if active {
			return session.Session{}, forceLogout(ctx, deps.Sessions, sess)
		}
	}

	if input.NeedAdmin && !sess.IsAdmin {
		return session.Session{}, ErrAdminRequired
	}
	return sess, nil
}

// ProtectedRecordsInput carries input for QueryProtectedRecords.
type ProtectedRecordsInput struct {
	NeedAdmin bool
}

// ProtectedRecordsResult is the session and the records it may see.
type ProtectedRecordsResult struct {
	Session session.Session
	Records []record.Record
}

// ProtectedRecordsDeps holds dependencies for QueryProtectedRecords.
type ProtectedRecordsDeps struct {
	Ledger   LedgerReader
	Sessions session.Store
}

// QueryProtectedRecords is the gate every protected read goes through.
// PRE: none
// POST: Records are returned only for a valid session permitted to read them
// INVARIANT: A non-admin session that meets an active lockdown is cleared
// before ErrForcedLogout is returned
func QueryProtectedRecords(ctx context.Context, input ProtectedRecordsInput, deps ProtectedRecordsDeps) (ProtectedRecordsResult, error) {
	sess, err := ExecuteRequireSession(ctx, RequireSessionInput{NeedAdmin: input.NeedAdmin}, RequireSessionDeps{Sessions: deps.Sessions})
	if err != nil {
		return ProtectedRecordsResult{}, err
	}

	records, err := deps.Ledger.FetchDecoded(ctx, sess.IsAdmin)
	if errors.Is(err, sheet.ErrLockdown) {
		return ProtectedRecordsResult{}, forceLogout(ctx, deps.Sessions, sess)
	}
	if err != nil {
		return ProtectedRecordsResult{}, err
	}
	return ProtectedRecordsResult{Session: sess, Records: records}, nil
}

func forceLogout(ctx context.Context, sessions session.Store, sess session.Session) error {
	if err := sessions.Clear(ctx); err != nil {
		return err
	}
	slog.Info("auth_event", "event", "forced_logout", "member_id", sess.MemberID, "reason", "lockdown")
	return ErrForcedLogout
}

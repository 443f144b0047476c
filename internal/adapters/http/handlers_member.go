package web

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kafer/internal/adapters/http/middleware"
	sessionStore "kafer/internal/adapters/storage/session"
	"kafer/internal/application/orchestrators"
	"kafer/internal/application/projections"
	"kafer/internal/domain/session"
)

// actor returns the caller's session for a write. The use case itself
// re-reads the ledger, so lockdown surfaces from there as ErrLockedOut.
func (s *server) actor(w http.ResponseWriter, r *http.Request, needAdmin bool) (session.Session, bool) {
	sess, err := orchestrators.ExecuteRequireSession(r.Context(),
		orchestrators.RequireSessionInput{NeedAdmin: needAdmin},
		orchestrators.RequireSessionDeps{Sessions: s.deps.Sessions})
	if err != nil {
		slog.Warn("auth_denied", "path", r.URL.Path, "error", err)
		s.writeError(w, r, err)
		return session.Session{}, false
	}
	return sess, true
}

// protected runs the read gate and returns a snapshot of what the caller may see.
func (s *server) protected(w http.ResponseWriter, r *http.Request, needAdmin bool) (session.Session, *projections.Snapshot, bool) {
	res, err := orchestrators.QueryProtectedRecords(r.Context(),
		orchestrators.ProtectedRecordsInput{NeedAdmin: needAdmin},
		orchestrators.ProtectedRecordsDeps{Ledger: s.deps.Ledger, Sessions: s.deps.Sessions})
	if err != nil {
		s.writeError(w, r, err)
		return session.Session{}, nil, false
	}
	return res.Session, projections.NewSnapshot(res.Records, s.deps.Settings), true
}

type sessionJSON struct {
	MemberID    string `json:"memberId"`
	DisplayName string `json:"displayName"`
	IsAdmin     bool   `json:"isAdmin"`
}

func toSessionJSON(sess session.Session) sessionJSON {
	return sessionJSON{MemberID: sess.MemberID, DisplayName: sess.DisplayName, IsAdmin: sess.IsAdmin}
}

type loginRequest struct {
	MemberID string `json:"memberId"`
	Password string `json:"password"`
}

// handleLogin starts a session under a fresh token. Any session the request
// already carried is ended first.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid login request")
		return
	}

	if _, ok := sessionStore.TokenFromContext(r.Context()); ok {
		if err := s.deps.Sessions.Clear(r.Context()); err != nil {
			internalError(w, err)
			return
		}
	}

	token, err := sessionStore.NewToken()
	if err != nil {
		internalError(w, err)
		return
	}
	ctx := sessionStore.WithToken(r.Context(), token)
	res, err := orchestrators.ExecuteLogin(ctx,
		orchestrators.LoginInput{MemberID: req.MemberID, Secret: req.Password},
		orchestrators.LoginDeps{
			Ledger:   s.deps.Ledger,
			Sessions: s.deps.Sessions,
			AdminID:  s.deps.AdminID,
			Defaults: s.deps.Settings.Defaults,
		})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	middleware.SetSessionCookie(w, token, s.deps.Secure)
	writeJSON(w, http.StatusOK, toSessionJSON(res.Session))
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := orchestrators.ExecuteLogout(r.Context(), orchestrators.LogoutDeps{Sessions: s.deps.Sessions}); err != nil {
		internalError(w, err)
		return
	}
	middleware.ClearSessionCookie(w, s.deps.Secure)
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	MemberID    string `json:"memberId"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// handleRegister is self-registration; no session is required or created.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid registration request")
		return
	}
	s.register(w, r, req, session.Session{})
}

func (s *server) register(w http.ResponseWriter, r *http.Request, req registerRequest, actor session.Session) {
	rec, err := orchestrators.ExecuteRegisterMember(r.Context(), orchestrators.RegisterMemberInput{
		MemberID:    req.MemberID,
		DisplayName: req.DisplayName,
		Secret:      req.Password,
		Actor:       actor,
	}, s.writeDeps())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"memberId":     rec.ActorID,
		"displayName":  rec.ActorName,
		"registeredAt": rec.Timestamp,
	})
}

type paymentStatusJSON struct {
	Registered     bool  `json:"registered"`
	Settled        bool  `json:"settled"`
	MonthsBilled   int   `json:"monthsBilled"`
	BaseFeeKaf     int64 `json:"baseFeeKaf"`
	PaidKaf        int64 `json:"paidKaf"`
	ArrearsKaf     int64 `json:"arrearsKaf"`
	MonthlyDueKaf  int64 `json:"monthlyDueKaf"`
	BalanceKaf     int64 `json:"balanceKaf"`
	OutstandingKaf int64 `json:"outstandingKaf"`
	ExcessKaf      int64 `json:"excessKaf"`
}

func toPaymentStatusJSON(p projections.PaymentStatus) paymentStatusJSON {
	return paymentStatusJSON{
		Registered:     p.Registered,
		Settled:        p.Settled(),
		MonthsBilled:   p.MonthsBilled,
		BaseFeeKaf:     p.BaseFeeKaf,
		PaidKaf:        p.PaidKaf,
		ArrearsKaf:     p.ArrearsKaf,
		MonthlyDueKaf:  p.MonthlyDueKaf,
		BalanceKaf:     p.BalanceKaf,
		OutstandingKaf: p.OutstandingKaf,
		ExcessKaf:      p.ExcessKaf,
	}
}

type meResponse struct {
	sessionJSON
	BalanceKaf       int64             `json:"balanceKaf"`
	BalanceYen       string            `json:"balanceYen"`
	PendingRefundKaf int64             `json:"pendingRefundKaf"`
	RefundFeeKaf     int64             `json:"refundFeeKaf"`
	Payment          paymentStatusJSON `json:"payment"`
	Lockdown         bool              `json:"lockdown"`
}

// handleMe returns the caller's balance and fee position.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, snap, ok := s.protected(w, r, false)
	if !ok {
		return
	}
	balance := snap.Balance(sess.MemberID)
	writeJSON(w, http.StatusOK, meResponse{
		sessionJSON:      toSessionJSON(sess),
		BalanceKaf:       balance,
		BalanceYen:       s.deps.Settings.Rates.FormatYen(balance),
		PendingRefundKaf: snap.Ledger().PendingRefundKaf(sess.MemberID),
		RefundFeeKaf:     s.deps.Settings.RefundFeeKaf(),
		Payment:          toPaymentStatusJSON(snap.PaymentStatus(sess.MemberID, s.now())),
		Lockdown:         snap.Config().EmergencyLockdown,
	})
}

type announcementJSON struct {
	HTML     string    `json:"html"`
	PostedBy string    `json:"postedBy"`
	PostedAt time.Time `json:"postedAt"`
}

// handleAnnouncements renders every announcement, newest first.
func (s *server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.protected(w, r, false)
	if !ok {
		return
	}
	posts := projections.Announcements(snap.Records())
	out := make([]announcementJSON, 0, len(posts))
	for _, a := range posts {
		html, err := renderMarkdown(a.Message)
		if err != nil {
			internalError(w, err)
			return
		}
		out = append(out, announcementJSON{HTML: html, PostedBy: a.PostedBy, PostedAt: a.PostedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type historyJSON struct {
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
	Code      string    `json:"code,omitempty"`
	AmountKaf int64     `json:"amountKaf"`
	Counted   bool      `json:"counted"`
	Detail    string    `json:"detail,omitempty"`
}

func toHistoryJSON(entries []projections.HistoryEntry) []historyJSON {
	out := make([]historyJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyJSON{
			Kind:      e.Kind,
			At:        e.At,
			Code:      e.Code,
			AmountKaf: e.AmountKaf,
			Counted:   e.Counted,
			Detail:    e.Detail,
		})
	}
	return out
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, snap, ok := s.protected(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toHistoryJSON(projections.MemberHistory(sess.MemberID, snap.Records())))
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid redeem request")
		return
	}
	sess, ok := s.actor(w, r, false)
	if !ok {
		return
	}
	res, err := orchestrators.ExecuteRedeemMoneyCode(r.Context(),
		orchestrators.RedeemMoneyCodeInput{Actor: sess, Code: req.Code}, s.writeDeps())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amountKaf": res.AmountKaf})
}

type refundRequest struct {
	AmountKaf int64 `json:"amountKaf"`
}

func (s *server) handleRequestRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid refund request")
		return
	}
	sess, ok := s.actor(w, r, false)
	if !ok {
		return
	}
	res, err := orchestrators.ExecuteRequestRefund(r.Context(),
		orchestrators.RequestRefundInput{Actor: sess, AmountKaf: req.AmountKaf}, s.writeDeps())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"refundCode":  res.RefundCode,
		"afterFeeKaf": res.AfterFeeKaf,
	})
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// handleChangePassword updates the caller's password and ends the member's
// other sessions. The current one stays.
func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid password request")
		return
	}
	sess, ok := s.actor(w, r, false)
	if !ok {
		return
	}
	_, err := orchestrators.ExecuteChangePassword(r.Context(), orchestrators.ChangePasswordInput{
		Actor:         sess,
		CurrentSecret: req.CurrentPassword,
		NewSecret:     req.NewPassword,
	}, s.writeDeps())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.deps.Sessions.ClearMember(r.Context(), sess.MemberID)
	if err != nil {
		internalError(w, err)
		return
	}
	if err := s.deps.Sessions.Set(r.Context(), sess); err != nil {
		internalError(w, err)
		return
	}
	slog.Info("session_event", "event", "sessions_revoked", "member_id", sess.MemberID, "count", n)
	w.WriteHeader(http.StatusNoContent)
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *server) handleUpdateOwnName(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid name request")
		return
	}
	sess, ok := s.actor(w, r, false)
	if !ok {
		return
	}
	if _, err := orchestrators.ExecuteUpdateName(r.Context(), orchestrators.UpdateNameInput{
		Actor:          sess,
		TargetMemberID: sess.MemberID,
		NewName:        req.Name,
	}, s.writeDeps()); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess.DisplayName = strings.TrimSpace(req.Name)
	if err := s.deps.Sessions.Set(r.Context(), sess); err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(sess))
}

package web

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"kafer/internal/adapters/http/middleware"
	"kafer/internal/application/listutil"
	"kafer/internal/application/orchestrators"
	"kafer/internal/application/projections"
	"kafer/internal/domain/moneycode"
	"kafer/internal/domain/refund"
)

func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.protected(w, r, true)
	if !ok {
		return
	}
	d := snap.Dashboard()
	cfg := snap.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"activeMembers":      d.ActiveMembers,
		"activeCodes":        d.ActiveCodes,
		"activeCodeValueKaf": d.ActiveCodeValueKaf,
		"redeemedCodes":      d.RedeemedCodes,
		"voidedCodes":        d.VoidedCodes,
		"pendingRefunds":     d.PendingRefunds,
		"pendingRefundKaf":   d.PendingRefundKaf,
		"totalBalanceKaf":    d.TotalBalanceKaf,
		"emergencyLockdown":  d.EmergencyLockdown,
		"inconsistencies":    d.Inconsistencies,
		"baseMonthlyFeeYen":  cfg.BaseMonthlyFeeYen,
		"email":              cfg.Email,
	})
}

type memberJSON struct {
	MemberID     string            `json:"memberId"`
	DisplayName  string            `json:"displayName"`
	RegisteredAt time.Time         `json:"registeredAt"`
	BalanceKaf   int64             `json:"balanceKaf"`
	Payment      paymentStatusJSON `json:"payment"`
}

var memberSortColumns = []string{"id", "name", "balance", "registered"}

// handleMembers lists active members. ?q filters by id or name; ?sort is one
// of memberSortColumns; ?page and ?per_page page the result.
func (s *server) handleMembers(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.protected(w, r, true)
	if !ok {
		return
	}
	params := listutil.Parse(r.URL.Query(), memberSortColumns)
	out := make([]memberJSON, 0)
	for _, m := range snap.MemberList(s.now()) {
		if !params.Matches(m.MemberID, m.DisplayName) {
			continue
		}
		out = append(out, memberJSON{
			MemberID:     m.MemberID,
			DisplayName:  m.DisplayName,
			RegisteredAt: m.RegisteredAt,
			BalanceKaf:   m.BalanceKaf,
			Payment:      toPaymentStatusJSON(m.PaymentStatus),
		})
	}
	sortMembers(out, params.Sort, params.Desc)
	page, info := listutil.Paginate(out, params)
	writeJSON(w, http.StatusOK, map[string]any{"members": page, "page": info})
}

// sortMembers orders by column; ties and the default order fall back to member id.
func sortMembers(ms []memberJSON, column string, desc bool) {
	slices.SortStableFunc(ms, func(a, b memberJSON) int {
		var c int
		switch column {
		case "name":
			c = strings.Compare(a.DisplayName, b.DisplayName)
		case "balance":
			c = cmp.Compare(a.BalanceKaf, b.BalanceKaf)
		case "registered":
			c = a.RegisteredAt.Compare(b.RegisteredAt)
		}
		if c == 0 {
			c = strings.Compare(a.MemberID, b.MemberID)
		}
		if desc {
			return -c
		}
		return c
	})
}

func (s *server) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid registration request")
		return
	}
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	s.register(w, r, req, sess)
}

func (s *server) handleMemberHistory(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.protected(w, r, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toHistoryJSON(projections.MemberHistory(r.PathValue("id"), snap.Records())))
}

func (s *server) handleAdminUpdateName(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid name request")
		return
	}
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	if _, err := orchestrators.ExecuteUpdateName(r.Context(), orchestrators.UpdateNameInput{
		Actor:          sess,
		TargetMemberID: r.PathValue("id"),
		NewName:        req.Name,
	}, s.writeDeps()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type removeRequest struct {
	Reason string `json:"reason"`
}

// handleRemoveMember deactivates a member and ends all of their sessions.
func (s *server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid removal request")
		return
	}
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	target := r.PathValue("id")
	if _, err := orchestrators.ExecuteRemoveMember(r.Context(), orchestrators.RemoveMemberInput{
		Actor:          sess,
		TargetMemberID: target,
		Reason:         req.Reason,
	}, s.writeDeps()); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Sessions.ClearMember(r.Context(), target); err != nil {
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type codeJSON struct {
	Code       string     `json:"code"`
	AmountKaf  int64      `json:"amountKaf"`
	AmountYen  int64      `json:"amountYen"`
	State      string     `json:"state"`
	IssuedBy   string     `json:"issuedBy"`
	IssuedAt   time.Time  `json:"issuedAt"`
	RedeemedBy string     `json:"redeemedBy,omitempty"`
	RedeemedAt *time.Time `json:"redeemedAt,omitempty"`
	VoidedAt   *time.Time `json:"voidedAt,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toCodeJSON(c moneycode.Code) codeJSON {
	return codeJSON{
		Code:       c.Code,
		AmountKaf:  c.AmountKaf,
		AmountYen:  c.AmountYen,
		State:      c.State,
		IssuedBy:   c.IssuedBy,
		IssuedAt:   c.IssuedAt,
		RedeemedBy: c.RedeemedBy,
		RedeemedAt: optionalTime(c.RedeemedAt),
		VoidedAt:   optionalTime(c.VoidedAt),
	}
}

type inconsistencyJSON struct {
	Seq       int       `json:"seq"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actorId"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// handleCodes lists every money code plus the records the ledger fold ignored.
func (s *server) handleCodes(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.protected(w, r, true)
	if !ok {
		return
	}
	ledger := snap.Ledger()
	codes := ledger.CodeList()
	outCodes := make([]codeJSON, 0, len(codes))
	for _, c := range codes {
		outCodes = append(outCodes, toCodeJSON(c))
	}
	outIssues := make([]inconsistencyJSON, 0, len(ledger.Inconsistencies))
	for _, i := range ledger.Inconsistencies {
		outIssues = append(outIssues, inconsistencyJSON{
			Seq:       i.Seq,
			Kind:      string(i.Kind),
			ActorID:   i.ActorID,
			Code:      i.Code,
			Timestamp: i.Timestamp,
			Reason:    i.Reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"codes": outCodes, "inconsistencies": outIssues})
}

type issueRequest struct {
	Code      string `json:"code"`
	AmountYen int64  `json:"amountYen"`
}

// handleIssueCode issues a code. An empty code asks the server to generate one.
func (s *server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid issue request")
		return
	}
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	res, err := orchestrators.ExecuteIssueMoneyCode(r.Context(), orchestrators.IssueMoneyCodeInput{
		Actor:     sess,
		Code:      req.Code,
		AmountYen: req.AmountYen,
	}, s.writeDeps())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"code":      res.Code,
		"amountKaf": res.AmountKaf,
		"amountYen": res.AmountYen,
	})
}

func (s *server) handleVoidCode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	if _, err := orchestrators.ExecuteVoidMoneyCode(r.Context(), orchestrators.VoidMoneyCodeInput{
		Actor: sess,
		Code:  r.PathValue("code"),
	}, s.writeDeps()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refundJSON struct {
	Code             string     `json:"code"`
	MemberID         string     `json:"memberId"`
	MemberName       string     `json:"memberName"`
	RequestAmountKaf int64      `json:"requestAmountKaf"`
	AfterFeeKaf      int64      `json:"afterFeeKaf"`
	RequestedAt      time.Time  `json:"requestedAt"`
	State            string     `json:"state"`
	ApprovedBy       string     `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
}

func toRefundJSON(rf refund.Refund) refundJSON {
	return refundJSON{
		Code:             rf.Code,
		MemberID:         rf.MemberID,
		MemberName:       rf.MemberName,
		RequestAmountKaf: rf.RequestAmountKaf,
		AfterFeeKaf:      rf.AfterFeeKaf,
		RequestedAt:      rf.RequestedAt,
		State:            rf.State,
		ApprovedBy:       rf.ApprovedBy,
		ApprovedAt:       optionalTime(rf.ApprovedAt),
	}
}

// handleRefunds lists refund requests; ?state=pending narrows to open ones.
func (s *server) handleRefunds(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.protected(w, r, true)
	if !ok {
		return
	}
	list := snap.Ledger().RefundList()
	if r.URL.Query().Get("state") == refund.StatePending {
		list = snap.Ledger().PendingRefunds()
	}
	out := make([]refundJSON, 0, len(list))
	for _, rf := range list {
		out = append(out, toRefundJSON(rf))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleApproveRefund(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	if _, err := orchestrators.ExecuteApproveRefund(r.Context(), orchestrators.ApproveRefundInput{
		Actor:      sess,
		RefundCode: r.PathValue("code"),
	}, s.writeDeps()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type announcementRequest struct {
	Message string `json:"message"`
}

func (s *server) handlePostAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req announcementRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid announcement")
		return
	}
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	rec, err := orchestrators.ExecutePostAnnouncement(r.Context(), orchestrators.PostAnnouncementInput{
		Actor:   sess,
		Message: req.Message,
	}, s.writeDeps())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"postedAt": rec.Timestamp})
}

type configRequest struct {
	Email             string `json:"email"`
	BaseMonthlyFeeYen int64  `json:"baseMonthlyFeeYen"`
	AdminPassword     string `json:"adminPassword"`
}

// handleUpdateConfig writes the site settings and the administrator password,
// then ends the administrator's session.
func (s *server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid config request")
		return
	}
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	err := orchestrators.ExecuteUpdateSiteConfig(r.Context(), orchestrators.UpdateSiteConfigInput{
		Actor:             sess,
		Email:             req.Email,
		BaseMonthlyFeeYen: req.BaseMonthlyFeeYen,
		AdminSecret:       req.AdminPassword,
	}, orchestrators.SiteConfigDeps{WriteDeps: s.writeDeps(), Sessions: s.deps.Sessions})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Sessions.ClearMember(r.Context(), sess.MemberID); err != nil {
		internalError(w, err)
		return
	}
	middleware.ClearSessionCookie(w, s.deps.Secure)
	w.WriteHeader(http.StatusNoContent)
}

type lockdownRequest struct {
	Active bool `json:"active"`
}

func (s *server) handleSetLockdown(w http.ResponseWriter, r *http.Request) {
	var req lockdownRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid lockdown request")
		return
	}
	sess, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	if _, err := orchestrators.ExecuteSetLockdown(r.Context(), orchestrators.SetLockdownInput{
		Actor:  sess,
		Active: req.Active,
	}, s.writeDeps()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": req.Active})
}

type activityJSON struct {
	At          time.Time `json:"at"`
	Kind        string    `json:"kind"`
	ActorID     string    `json:"actorId"`
	ActorName   string    `json:"actorName"`
	Description string    `json:"description"`
}

// handleActivity lists every record newest first; ?limit=N keeps the first N.
func (s *server) handleActivity(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.protected(w, r, true)
	if !ok {
		return
	}
	entries := projections.ActivityLog(snap.Records(), s.deps.Settings)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		entries = entries[:min(n, len(entries))]
	}
	out := make([]activityJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityJSON{
			At:          e.At,
			Kind:        string(e.Kind),
			ActorID:     e.ActorID,
			ActorName:   e.ActorName,
			Description: e.Description,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePerf reports request, query and upstream timings for the last hour
// (or ?minutes=N).
func (s *server) handlePerf(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actor(w, r, true); !ok {
		return
	}
	if s.deps.Collector == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "perf_disabled", Message: "performance collection is off"})
		return
	}
	window := time.Hour
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "minutes must be a positive integer")
			return
		}
		window = time.Duration(n) * time.Minute
	}
	writeJSON(w, http.StatusOK, s.deps.Collector.Snapshot(time.Now().Add(-window), 10))
}

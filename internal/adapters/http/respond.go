package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"kafer/internal/adapters/codec"
	"kafer/internal/adapters/http/middleware"
	"kafer/internal/adapters/sheet"
	"kafer/internal/application/orchestrators"
	"kafer/internal/domain/moneycode"
	"kafer/internal/domain/outbox"
	"kafer/internal/domain/record"
	"kafer/internal/domain/refund"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

// mdRenderer renders announcements. Raw HTML in the source is dropped.
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

func renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorClass struct {
	target error
	status int
	code   string
}

// errorClasses is matched in order; the first errors.Is hit wins.
// Lockdown comes before validation because lockdown refusals also wrap sheet errors.
var errorClasses = []errorClass{
	{orchestrators.ErrForcedLogout, http.StatusLocked, "forced_logout"},
	{orchestrators.ErrLockedOut, http.StatusLocked, "locked_out"},
	{orchestrators.ErrLoginRequired, http.StatusUnauthorized, "login_required"},
	{orchestrators.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{orchestrators.ErrAdminRequired, http.StatusForbidden, "admin_required"},
	{sheet.ErrNotConfirmed, http.StatusGatewayTimeout, "not_confirmed"},
	{sheet.ErrTransport, http.StatusBadGateway, "transport"},
	{sheet.ErrNotConfigured, http.StatusServiceUnavailable, "not_configured"},
	{codec.ErrDecode, http.StatusUnprocessableEntity, "decode"},
	{record.ErrInvalidRecord, http.StatusUnprocessableEntity, "invalid_record"},
	{record.ErrValidation, http.StatusBadRequest, "validation"},
	{orchestrators.ErrNewPasswordSame, http.StatusBadRequest, "validation"},
	{refund.ErrNonPositiveAmount, http.StatusBadRequest, "validation"},
	{refund.ErrAmountBelowFee, http.StatusBadRequest, "validation"},
	{refund.ErrExceedsBalance, http.StatusBadRequest, "insufficient_balance"},
	{moneycode.ErrNotIssued, http.StatusNotFound, "code_not_issued"},
	{refund.ErrNotFound, http.StatusNotFound, "refund_not_found"},
	{orchestrators.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
	{moneycode.ErrAlreadyIssued, http.StatusConflict, "code_already_issued"},
	{moneycode.ErrAlreadyRedeemed, http.StatusConflict, "code_already_redeemed"},
	{moneycode.ErrVoided, http.StatusConflict, "code_voided"},
	{refund.ErrNotPending, http.StatusConflict, "refund_not_pending"},
	{outbox.ErrNotFound, http.StatusNotFound, "outbox_entry_not_found"},
	{outbox.ErrTerminal, http.StatusConflict, "outbox_entry_closed"},
	{orchestrators.ErrMemberExists, http.StatusConflict, "member_exists"},
}

// classify maps err to a status, a stable code and a client-safe message.
// POST: ok is false for errors that must not reach the client
func classify(err error) (status int, code, message string, ok bool) {
	for _, c := range errorClasses {
		if !errors.Is(err, c.target) {
			continue
		}
		message = c.target.Error()
		var verr record.ValidationError
		if errors.As(err, &verr) {
			message = verr.Error()
		}
		return c.status, c.code, message, true
	}
	return 0, "", "", false
}

// writeError answers a failed use case. A lockdown refusal also ends the
// caller's session and clears the cookie.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, ok := classify(err)
	if !ok {
		internalError(w, err)
		return
	}
	if status == http.StatusLocked {
		if clearErr := s.deps.Sessions.Clear(r.Context()); clearErr != nil {
			slog.Warn("session_event", "event", "clear_failed", "error", clearErr)
		}
		middleware.ClearSessionCookie(w, s.deps.Secure)
	}
	if status >= http.StatusInternalServerError {
		slog.Warn("upstream_error", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal server error"})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"kafer/internal/domain/outbox"
)

type outboxJSON struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	Subject         string     `json:"subject"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"maxAttempts"`
	LastAttemptedAt *time.Time `json:"lastAttemptedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	Error           string     `json:"error,omitempty"`
}

func toOutboxJSON(e outbox.Entry) outboxJSON {
	out := outboxJSON{
		ID:              e.ID,
		Kind:            e.Kind,
		Status:          e.Status,
		Attempts:        e.Attempts,
		MaxAttempts:     e.MaxAttempts,
		LastAttemptedAt: optionalTime(e.LastAttemptedAt),
		CreatedAt:       e.CreatedAt,
		Error:           e.ErrorMessage,
	}
	if n, err := e.Notification(); err == nil {
		out.Subject = n.Subject
	}
	return out
}

// outboxEnabled answers 404 when no notification queue is configured.
func (s *server) outboxEnabled(w http.ResponseWriter) bool {
	if s.deps.Outbox == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "outbox_disabled", Message: "notification retries are off"})
		return false
	}
	return true
}

// handleOutbox lists queued notifications, newest first (?limit, default 50).
func (s *server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actor(w, r, true); !ok || !s.outboxEnabled(w) {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.deps.Outbox.Store.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]outboxJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toOutboxJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// handleRetryOutbox sends one entry now. A failed delivery is not an HTTP
// error: the response carries the entry with its new attempt count.
func (s *server) handleRetryOutbox(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.actor(w, r, true)
	if !ok || !s.outboxEnabled(w) {
		return
	}
	entry, err := s.deps.Outbox.RetryNow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	slog.Info("outbox_event", "event", "manual_retry", "entry_id", entry.ID, "status", entry.Status, "admin_id", sess.MemberID)
	writeJSON(w, http.StatusOK, toOutboxJSON(entry))
}

func (s *server) handleAbandonOutbox(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actor(w, r, true); !ok || !s.outboxEnabled(w) {
		return
	}
	if err := s.deps.Outbox.Abandon(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

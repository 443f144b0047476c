// Package outbox holds notifications whose first delivery failed, so a
// worker can retry them with backoff instead of dropping them.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Entry lifecycle.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// DefaultMaxAttempts bounds retries for entries that do not set their own.
const DefaultMaxAttempts = 6

var (
	ErrEmptyPayload = errors.New("outbox payload is required")
	ErrNotFound     = errors.New("outbox entry not found")
	ErrTerminal     = errors.New("outbox entry is in a terminal state")
)

// Notification is the replayable body of an entry.
type Notification struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
	Kind    string   `json:"kind"`
}

// Entry is one queued notification.
type Entry struct {
	ID              string
	Kind            string
	Payload         string // JSON Notification
	Status          string
	Attempts        int
	MaxAttempts     int
	LastAttemptedAt time.Time
	CreatedAt       time.Time
	MessageID       string // provider id once delivered
	ErrorMessage    string
}

// NewEntry queues n after a first delivery attempt failed with cause.
// POST: Attempts is 1 and Status is retrying
func NewEntry(id string, n Notification, cause error, now time.Time) (Entry, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return Entry{}, fmt.Errorf("encode notification: %w", err)
	}
	e := Entry{
		ID:              id,
		Kind:            n.Kind,
		Payload:         string(payload),
		Status:          StatusRetrying,
		Attempts:        1,
		MaxAttempts:     DefaultMaxAttempts,
		LastAttemptedAt: now,
		CreatedAt:       now,
	}
	if cause != nil {
		e.ErrorMessage = cause.Error()
	}
	return e, e.Validate()
}

// Notification decodes the payload.
func (e Entry) Notification() (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(e.Payload), &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification %s: %w", e.ID, err)
	}
	return n, nil
}

// Validate checks that the Entry has valid data.
// PRE: Entry struct is populated
// POST: Returns nil if valid; a zero MaxAttempts becomes DefaultMaxAttempts
func (e *Entry) Validate() error {
	if e.Payload == "" {
		return ErrEmptyPayload
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created_at must be set")
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	return nil
}

// IsTerminal reports whether the worker will never pick the entry up again.
func (e Entry) IsTerminal() bool {
	switch e.Status {
	case StatusDone, StatusAbandoned, StatusFailed:
		return true
	}
	return false
}

// Due reports whether the backoff since the last attempt has elapsed.
func (e Entry) Due(now time.Time, baseDelay, maxDelay time.Duration) bool {
	if e.IsTerminal() {
		return false
	}
	if e.LastAttemptedAt.IsZero() {
		return true
	}
	return !now.Before(e.LastAttemptedAt.Add(e.NextRetryDelay(baseDelay, maxDelay)))
}

// MarkAttempt records a retry attempt.
// PRE: Entry is not terminal
// POST: Attempts incremented, LastAttemptedAt is now
func (e *Entry) MarkAttempt(now time.Time) {
	e.Attempts++
	e.LastAttemptedAt = now
	e.Status = StatusRetrying
}

// MarkSuccess records the provider acknowledgement.
func (e *Entry) MarkSuccess(messageID string) {
	e.Status = StatusDone
	e.MessageID = messageID
	e.ErrorMessage = ""
}

// MarkFailed stores err; the entry fails for good once attempts run out.
// POST: Status is failed iff Attempts >= MaxAttempts
func (e *Entry) MarkFailed(err error) {
	e.ErrorMessage = err.Error()
	if e.Attempts >= e.MaxAttempts {
		e.Status = StatusFailed
	}
}

// MarkAbandoned stops further retries at an admin's request.
func (e *Entry) MarkAbandoned() {
	e.Status = StatusAbandoned
}

// NextRetryDelay is 2^(attempts-1) * baseDelay, capped at maxDelay.
// PRE: baseDelay > 0
func (e Entry) NextRetryDelay(baseDelay, maxDelay time.Duration) time.Duration {
	n := e.Attempts - 1
	if n < 0 {
		n = 0
	}
	if n > 30 {
		return maxDelay
	}
	delay := baseDelay * (1 << n)
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NoopSender logs notifications without delivering them.
type NoopSender struct{}

// NewNoopSender creates a new NoopSender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

// Send logs the notification.
// POST: Returns a synthetic message id; nothing leaves the process
func (s *NoopSender) Send(_ context.Context, req SendRequest) (SendResult, error) {
	if err := checkRequest(req); err != nil {
		return SendResult{}, err
	}
	now := time.Now()
	slog.Info("noop_email_send", "to", req.To, "subject", req.Subject)
	return SendResult{MessageID: fmt.Sprintf("noop-%d", now.UnixNano()), SentAt: now}, nil
}

// MemorySender keeps every request in memory. Err, when set, fails every send.
type MemorySender struct {
	mu   sync.Mutex
	sent []SendRequest
	Err  error
}

// Send records req.
func (s *MemorySender) Send(_ context.Context, req SendRequest) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return SendResult{}, s.Err
	}
	if err := checkRequest(req); err != nil {
		return SendResult{}, err
	}
	s.sent = append(s.sent, req)
	return SendResult{MessageID: fmt.Sprintf("mem-%d", len(s.sent)), SentAt: time.Now()}, nil
}

// Sent returns a copy of the recorded requests.
func (s *MemorySender) Sent() []SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SendRequest, len(s.sent))
	copy(out, s.sent)
	return out
}

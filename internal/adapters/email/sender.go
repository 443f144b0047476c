package email

import (
	"context"
	"errors"
	"time"
)

// ErrNoRecipient is returned when a request names nobody to deliver to.
var ErrNoRecipient = errors.New("email has no recipient")

// SendRequest is one outgoing notification.
type SendRequest struct {
	To      []string
	From    string // overrides the sender's default address when set
	Subject string
	HTML    string
	Text    string
	Tags    map[string]string
}

// SendResult is the provider's acknowledgement.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers notifications through an external provider.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// New returns a Resend sender when apiKey is set, otherwise a NoopSender.
func New(apiKey, from string) Sender {
	if apiKey == "" {
		return NewNoopSender()
	}
	return NewResendSender(apiKey, from)
}

func checkRequest(req SendRequest) error {
	if len(req.To) == 0 {
		return ErrNoRecipient
	}
	for _, to := range req.To {
		if to == "" {
			return ErrNoRecipient
		}
	}
	return nil
}

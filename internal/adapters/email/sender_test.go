package email

import (
	"context"
	"errors"
	"testing"
)

func TestNew_PicksSender(t *testing.T) {
	if _, ok := New("", "kafer@example.com").(*NoopSender); !ok {
		t.Error("New(\"\") should return a NoopSender")
	}
	if _, ok := New("re_test", "kafer@example.com").(*ResendSender); !ok {
		t.Error("New(key) should return a ResendSender")
	}
}

func TestSenders_RejectMissingRecipient(t *testing.T) {
	senders := map[string]Sender{
		"noop":   NewNoopSender(),
		"memory": &MemorySender{},
		"resend": NewResendSender("re_test", "kafer@example.com"),
	}
	for name, s := range senders {
		t.Run(name, func(t *testing.T) {
			for _, to := range [][]string{nil, {""}} {
				_, err := s.Send(context.Background(), SendRequest{To: to, Subject: "x"})
				if !errors.Is(err, ErrNoRecipient) {
					t.Errorf("Send(To=%q) error = %v, want ErrNoRecipient", to, err)
				}
			}
		})
	}
}

func TestMemorySender(t *testing.T) {
	s := &MemorySender{}
	req := SendRequest{To: []string{"admin@example.com"}, Subject: "Refund requested"}

	res, err := s.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.MessageID != "mem-1" {
		t.Errorf("MessageID = %q, want mem-1", res.MessageID)
	}
	sent := s.Sent()
	if len(sent) != 1 || sent[0].Subject != "Refund requested" {
		t.Errorf("Sent() = %+v", sent)
	}

	s.Err = errors.New("provider down")
	if _, err := s.Send(context.Background(), req); err == nil {
		t.Error("Send() with Err set should fail")
	}
	if len(s.Sent()) != 1 {
		t.Error("failed send should not be recorded")
	}
}

package orchestrators

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/yuin/goldmark"

	"kafer/internal/adapters/email"
	"kafer/internal/application/projections"
	"kafer/internal/domain/outbox"
	"kafer/internal/domain/record"
)

var notificationMarkdown = goldmark.New()

// notify mails the site address configured in records. Failures are logged
// and never reach the caller.
func (d WriteDeps) notify(ctx context.Context, records []record.Record, kind, subject, body string) {
	if d.Mailer == nil {
		return
	}
	to := projections.SystemConfig(records, d.Settings.Defaults).Email
	if to == "" {
		slog.Info("notify_event", "event", "notification_skipped", "kind", kind, "reason", "no_site_email")
		return
	}

	var html bytes.Buffer
	if err := notificationMarkdown.Convert([]byte(body), &html); err != nil {
		slog.Warn("notify_event", "event", "render_failed", "kind", kind, "error", err)
		return
	}

	n := outbox.Notification{
		To:      []string{to},
		Subject: "[KAFer] " + subject,
		HTML:    html.String(),
		Text:    body,
		Kind:    kind,
	}
	_, err := d.Mailer.Send(ctx, sendRequest(n))
	if err == nil {
		slog.Info("notify_event", "event", "notification_sent", "kind", kind)
		return
	}
	slog.Warn("notify_event", "event", "notification_failed", "kind", kind, "error", err)
	if d.Outbox == nil {
		return
	}
	entry, qerr := outbox.NewEntry(d.generateID(), n, err, d.now())
	if qerr == nil {
		qerr = d.Outbox.Save(ctx, entry)
	}
	if qerr != nil {
		slog.Error("notify_event", "event", "enqueue_failed", "kind", kind, "error", qerr)
		return
	}
	slog.Info("notify_event", "event", "notification_queued", "kind", kind, "entry_id", entry.ID)
}

func sendRequest(n outbox.Notification) email.SendRequest {
	return email.SendRequest{
		To:      n.To,
		Subject: n.Subject,
		HTML:    n.HTML,
		Text:    n.Text,
		Tags:    map[string]string{"kind": n.Kind},
	}
}

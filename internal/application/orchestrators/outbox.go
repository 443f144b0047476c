package orchestrators

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kafer/internal/adapters/email"
	outboxStore "kafer/internal/adapters/storage/outbox"
	domain "kafer/internal/domain/outbox"
)

// NotificationQueue receives notifications whose first delivery failed.
type NotificationQueue interface {
	Save(ctx context.Context, e domain.Entry) error
}

// OutboxProcessor retries queued notifications with exponential backoff.
type OutboxProcessor struct {
	Store     outboxStore.Store
	Mailer    email.Sender
	BaseDelay time.Duration
	MaxDelay  time.Duration
	BatchSize int
	Retention time.Duration // delivered entries older than this are purged
	Now       func() time.Time
}

// NewOutboxProcessor creates a processor with the default schedule.
func NewOutboxProcessor(store outboxStore.Store, mailer email.Sender) *OutboxProcessor {
	return &OutboxProcessor{
		Store:     store,
		Mailer:    mailer,
		BaseDelay: 30 * time.Second,
		MaxDelay:  time.Hour,
		BatchSize: 20,
		Retention: 30 * 24 * time.Hour,
	}
}

func (p *OutboxProcessor) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// ProcessPending attempts every due entry once.
// PRE: Context is valid
// POST: Each due entry is saved as done, retrying or failed
func (p *OutboxProcessor) ProcessPending(ctx context.Context) (sent, failed int, err error) {
	entries, err := p.Store.ListPending(ctx, p.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending outbox entries: %w", err)
	}
	now := p.now()
	for _, entry := range entries {
		if !entry.Due(now, p.BaseDelay, p.MaxDelay) {
			continue
		}
		if p.attempt(ctx, &entry, now) {
			sent++
		} else {
			failed++
		}
	}
	if sent+failed > 0 {
		slog.Info("outbox_event", "event", "batch_processed", "sent", sent, "failed", failed)
	}
	return sent, failed, nil
}

// attempt sends one entry and persists the outcome.
// POST: reports true only when the send succeeded and the entry was saved
func (p *OutboxProcessor) attempt(ctx context.Context, entry *domain.Entry, now time.Time) bool {
	entry.MarkAttempt(now)
	sendErr := p.send(ctx, entry)
	if sendErr != nil {
		entry.MarkFailed(sendErr)
		slog.Warn("outbox_event", "event", "retry_failed", "entry_id", entry.ID, "kind", entry.Kind,
			"attempt", entry.Attempts, "status", entry.Status, "error", sendErr)
	}
	if err := p.Store.Save(ctx, *entry); err != nil {
		slog.Error("outbox_event", "event", "save_failed", "entry_id", entry.ID, "error", err)
		return false
	}
	return sendErr == nil
}

func (p *OutboxProcessor) send(ctx context.Context, entry *domain.Entry) error {
	n, err := entry.Notification()
	if err != nil {
		return err
	}
	res, err := p.Mailer.Send(ctx, sendRequest(n))
	if err != nil {
		return err
	}
	entry.MarkSuccess(res.MessageID)
	slog.Info("outbox_event", "event", "retry_sent", "entry_id", entry.ID, "kind", entry.Kind, "attempt", entry.Attempts)
	return nil
}

// RetryNow sends one entry immediately, ignoring its backoff. A failed
// delivery is not an error: the returned entry records the attempt.
// PRE: entryID names an entry that is not terminal
// POST: Returns domain.ErrTerminal for done, failed or abandoned entries
func (p *OutboxProcessor) RetryNow(ctx context.Context, entryID string) (domain.Entry, error) {
	entry, err := p.Store.GetByID(ctx, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	if entry.IsTerminal() {
		return domain.Entry{}, fmt.Errorf("%w: %s is %s", domain.ErrTerminal, entryID, entry.Status)
	}
	now := p.now()
	entry.MarkAttempt(now)
	if sendErr := p.send(ctx, &entry); sendErr != nil {
		entry.MarkFailed(sendErr)
	}
	if err := p.Store.Save(ctx, entry); err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

// Abandon stops retries of one entry.
// POST: Returns domain.ErrTerminal when the entry was already delivered
func (p *OutboxProcessor) Abandon(ctx context.Context, entryID string) error {
	entry, err := p.Store.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status == domain.StatusDone {
		return fmt.Errorf("%w: %s was delivered", domain.ErrTerminal, entryID)
	}
	entry.MarkAbandoned()
	if err := p.Store.Save(ctx, entry); err != nil {
		return err
	}
	slog.Info("outbox_event", "event", "abandoned", "entry_id", entryID)
	return nil
}

// Start runs ProcessPending every interval until ctx is cancelled, and
// purges delivered entries past the retention window once per run.
// PRE: interval > 0
func (p *OutboxProcessor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("outbox_event", "event", "worker_stopped")
				return
			case <-ticker.C:
				if _, _, err := p.ProcessPending(ctx); err != nil {
					slog.Error("outbox_event", "event", "process_failed", "error", err)
				}
				if p.Retention > 0 {
					if n, err := p.Store.PurgeDone(ctx, p.now().Add(-p.Retention)); err != nil {
						slog.Error("outbox_event", "event", "purge_failed", "error", err)
					} else if n > 0 {
						slog.Info("outbox_event", "event", "purged", "count", n)
					}
				}
			}
		}
	}()
}

package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kafer/internal/adapters/email"
	"kafer/internal/adapters/sheet"
	"kafer/internal/application/projections"
	"kafer/internal/domain/record"
	"kafer/internal/domain/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid member id or password")
	ErrLockedOut          = errors.New("emergency lockdown is active")
	ErrLoginRequired      = errors.New("login required")
	ErrAdminRequired      = errors.New("administrator privileges required")
	ErrForcedLogout       = errors.New("session ended by emergency lockdown")
	ErrMemberExists       = errors.New("member id is already active")
	ErrMemberNotFound     = errors.New("member is not active")
)

// LedgerReader reads the decoded record stream.
type LedgerReader interface {
	FetchDecoded(ctx context.Context, asAdmin bool) ([]record.Record, error)
}

// LedgerStore is the record store the write use cases need.
type LedgerStore interface {
	LedgerReader
	Append(ctx context.Context, rec record.Record) (record.Record, error)
	PollUntil(ctx context.Context, asAdmin bool, predicate func([]record.Record) bool, timeout time.Duration) ([]record.Record, error)
}

// WriteDeps holds dependencies shared by the write use cases.
// ConfirmTimeout > 0 makes every write wait until its record is readable.
// Mailer may be nil, in which case no notification is sent. Outbox may be
// nil, in which case a failed notification is only logged.
type WriteDeps struct {
	Ledger         LedgerStore
	Settings       projections.Settings
	Mailer         email.Sender
	Outbox         NotificationQueue
	AdminID        string
	GenerateID     func() string
	Now            func() time.Time
	ConfirmTimeout time.Duration
}

func (d WriteDeps) generateID() string {
	if d.GenerateID == nil {
		return uuid.NewString()
	}
	return d.GenerateID()
}

func (d WriteDeps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// load authorizes actor and fetches the records a write is validated against.
// PRE: none
// POST: Returns ErrLoginRequired/ErrAdminRequired before any I/O; lockdown
// refusals wrap both ErrLockedOut and sheet.ErrLockdown
// INVARIANT: a non-admin actor must still be an active member
func (d WriteDeps) load(ctx context.Context, actor session.Session, needAdmin bool) ([]record.Record, error) {
	if !actor.Valid() {
		return nil, ErrLoginRequired
	}
	if needAdmin && !actor.IsAdmin {
		return nil, ErrAdminRequired
	}
	records, err := fetch(ctx, d.Ledger, actor.IsAdmin)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && !projections.ActiveMembers(records).Contains(actor.MemberID) {
		return nil, ErrLoginRequired
	}
	return records, nil
}

// commit appends a record written by actor and optionally waits until it is
// visible in the read endpoint.
// POST: A nil error means the submission was sent (and confirmed when ConfirmTimeout > 0)
func (d WriteDeps) commit(ctx context.Context, actor session.Session, p record.Payload) (record.Record, error) {
	rec := record.New(actor.MemberID, actor.DisplayName, d.now(), p)
	stamped, err := d.Ledger.Append(ctx, rec)
	if err != nil {
		slog.Warn("ledger_event", "event", "append_failed", "kind", rec.Kind, "actor", actor.MemberID, "error", err)
		return record.Record{}, err
	}
	slog.Info("ledger_event", "event", "record_appended", "kind", stamped.Kind, "actor", actor.MemberID)

	if d.ConfirmTimeout > 0 {
		if _, err := d.Ledger.PollUntil(ctx, actor.IsAdmin, landed(stamped), d.ConfirmTimeout); err != nil {
			slog.Warn("ledger_event", "event", "confirm_failed", "kind", stamped.Kind, "actor", actor.MemberID, "error", err)
			return stamped, err
		}
	}
	return stamped, nil
}

func fetch(ctx context.Context, ledger LedgerReader, asAdmin bool) ([]record.Record, error) {
	records, err := ledger.FetchDecoded(ctx, asAdmin)
	if errors.Is(err, sheet.ErrLockdown) {
		return nil, fmt.Errorf("%w: %w", ErrLockedOut, err)
	}
	return records, err
}

// landed matches the record that was just appended.
func landed(want record.Record) func([]record.Record) bool {
	return func(records []record.Record) bool {
		for _, r := range records {
			if r.Kind == want.Kind && r.ActorID == want.ActorID && r.Timestamp.Equal(want.Timestamp) {
				return true
			}
		}
		return false
	}
}

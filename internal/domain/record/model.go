package record

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Kind identifies the variant of a ledger record. The string value is the
// "type" field stored on the wire.
type Kind string

// Record kinds
const (
	KindRegister       Kind = "register"
	KindRemove         Kind = "remove"
	KindNameUpdate     Kind = "name_update"
	KindPassUpdate     Kind = "pass_update"
	KindMoneyCodeIssue Kind = "money_code_issue"
	KindPayment        Kind = "payment"
	KindMoneyCodeVoid  Kind = "money_code_void"
	KindRefundRequest  Kind = "refund_request"
	KindRefundApproved Kind = "refund_approved"
	KindAnnouncement   Kind = "announcement"
	KindConfig         Kind = "config"
	KindSystemConfig   Kind = "system_config"
)

// Known reports whether k is one of the kinds this ledger understands.
func (k Kind) Known() bool {
	switch k {
	case KindRegister, KindRemove, KindNameUpdate, KindPassUpdate,
		KindMoneyCodeIssue, KindPayment, KindMoneyCodeVoid,
		KindRefundRequest, KindRefundApproved,
		KindAnnouncement, KindConfig, KindSystemConfig:
		return true
	}
	return false
}

// Domain errors
var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrValidation    = errors.New("validation failed")
)

// ValidationError reports a caller-supplied value that breaks a format rule.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Record is one immutable row of the ledger.
// Seq is the arrival index of the row in the fetched stream and breaks
// timestamp ties.
type Record struct {
	Kind      Kind
	ActorName string
	ActorID   string
	Timestamp time.Time
	Seq       int
	Payload   Payload
}

// New builds a record whose Kind is taken from the payload.
// PRE: p is non-nil
// POST: Returned record has Kind == p.Kind()
func New(actorID, actorName string, ts time.Time, p Payload) Record {
	if reg, ok := p.(Register); ok {
		if reg.MemberID == "" {
			reg.MemberID = actorID
		}
		if reg.DisplayName == "" {
			reg.DisplayName = actorName
		}
		p = reg
	}
	return Record{
		Kind:      p.Kind(),
		ActorName: actorName,
		ActorID:   actorID,
		Timestamp: ts,
		Payload:   p,
	}
}

// Validate checks the envelope and the payload.
// PRE: none
// POST: Returns an error wrapping ErrInvalidRecord when a required field is missing
func (r Record) Validate() error {
	if r.Kind == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidRecord)
	}
	if r.ActorID == "" {
		return fmt.Errorf("%w: missing kaferId", ErrInvalidRecord)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)
	}
	if r.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidRecord)
	}
	if err := r.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, r.Kind, err)
	}
	return nil
}

// Before reports whether a precedes b in ledger order: timestamp first,
// arrival sequence second.
func Before(a, b Record) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

// Sorted returns a copy of records in ledger order.
// INVARIANT: the input slice is not mutated
func Sorted(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return Before(out[i], out[j]) })
	return out
}

// Sequence assigns arrival indexes in slice order.
// POST: records[i].Seq == i
func Sequence(records []Record) {
	for i := range records {
		records[i].Seq = i
	}
}

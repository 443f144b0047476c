package projections

import (
	"fmt"
	"sort"
	"time"

	"kafer/internal/domain/record"
)

// Announcement is a message posted by an administrator.
type Announcement struct {
	Message   string
	PostedBy  string
	PostedAt  time.Time
	RecordSeq int
}

// Announcements returns every announcement, newest first.
func Announcements(records []record.Record) []Announcement {
	var out []Announcement
	for _, r := range newestFirst(records) {
		if p, ok := r.Payload.(record.Announcement); ok {
			out = append(out, Announcement{Message: p.Message, PostedBy: r.ActorName, PostedAt: r.Timestamp, RecordSeq: r.Seq})
		}
	}
	return out
}

// History entry kinds
const (
	HistoryPayment        = "payment"
	HistoryRefundRequest  = "refund_request"
	HistoryRefundApproved = "refund_approved"
)

// HistoryEntry is one money movement shown to a member.
// AmountKaf is signed: credits positive, debits negative, zero for requests.
type HistoryEntry struct {
	Kind      string
	At        time.Time
	Code      string
	AmountKaf int64
	Counted   bool
	Detail    string
}

// MemberHistory lists a member's payments and refunds, newest first.
// Payments that did not credit the member (duplicate or invalid codes) are
// included with Counted == false.
func MemberHistory(memberID string, records []record.Record) []HistoryEntry {
	ledger := BuildLedger(records)
	rejected := map[int]bool{}
	for _, inc := range ledger.Inconsistencies {
		rejected[inc.Seq] = true
	}

	var out []HistoryEntry
	for _, r := range newestFirst(records) {
		switch p := r.Payload.(type) {
		case record.Payment:
			if r.ActorID != memberID {
				continue
			}
			e := HistoryEntry{Kind: HistoryPayment, At: r.Timestamp, Code: p.PaymentCode, Counted: !rejected[r.Seq]}
			if e.Counted {
				e.AmountKaf = ledger.Codes[p.PaymentCode].AmountKaf
			}
			out = append(out, e)
		case record.RefundRequest:
			if r.ActorID != memberID {
				continue
			}
			out = append(out, HistoryEntry{
				Kind:    HistoryRefundRequest,
				At:      r.Timestamp,
				Code:    p.RefundCode,
				Counted: !rejected[r.Seq],
				Detail:  fmt.Sprintf("requested %d KAFer", p.RequestAmountKaf),
			})
		case record.RefundApproved:
			if p.TargetMemberID != memberID {
				continue
			}
			e := HistoryEntry{Kind: HistoryRefundApproved, At: r.Timestamp, Code: p.RefundCode, Counted: !rejected[r.Seq]}
			if e.Counted {
				e.AmountKaf = -int64(p.RefundAmountAfterFeeKaf)
			}
			out = append(out, e)
		}
	}
	return out
}

// ActivityEntry is one line of the administrator's activity log.
type ActivityEntry struct {
	At          time.Time
	Kind        record.Kind
	ActorID     string
	ActorName   string
	Description string
}

// ActivityLog describes every record, newest first. Unknown kinds are listed
// by their type name.
func ActivityLog(records []record.Record, settings Settings) []ActivityEntry {
	sorted := newestFirst(records)
	out := make([]ActivityEntry, 0, len(sorted))
	for _, r := range sorted {
		out = append(out, ActivityEntry{
			At:          r.Timestamp,
			Kind:        r.Kind,
			ActorID:     r.ActorID,
			ActorName:   r.ActorName,
			Description: describe(r, settings),
		})
	}
	return out
}

func describe(r record.Record, settings Settings) string {
	switch p := r.Payload.(type) {
	case record.Register:
		return fmt.Sprintf("registered %s (%s)", p.DisplayName, p.MemberID)
	case record.Remove:
		if p.Reason != "" {
			return fmt.Sprintf("removed member %s: %s", p.TargetMemberID, p.Reason)
		}
		return fmt.Sprintf("removed member %s", p.TargetMemberID)
	case record.NameUpdate:
		return fmt.Sprintf("renamed member %s to %s", p.TargetMemberID, p.NewName)
	case record.PassUpdate:
		return fmt.Sprintf("changed password of member %s", p.TargetMemberID)
	case record.MoneyCodeIssue:
		return fmt.Sprintf("issued code ...%s (%d yen)", lastDigits(p.Code), p.AmountYen)
	case record.Payment:
		return fmt.Sprintf("redeemed code ...%s", lastDigits(p.PaymentCode))
	case record.MoneyCodeVoid:
		return fmt.Sprintf("voided code ...%s", lastDigits(p.Code))
	case record.RefundRequest:
		return fmt.Sprintf("requested refund %s of %d KAFer (%s yen)", p.RefundCode, p.RequestAmountKaf, settings.Rates.FormatYen(int64(p.RequestAmountKaf)))
	case record.RefundApproved:
		return fmt.Sprintf("approved refund %s for member %s, %d KAFer paid out", p.RefundCode, p.TargetMemberID, p.RefundAmountAfterFeeKaf)
	case record.Announcement:
		return "posted an announcement"
	case record.Config:
		return "updated site settings"
	case record.SystemConfig:
		if p.EmergencyLockdown != nil && *p.EmergencyLockdown {
			return "enabled emergency lockdown"
		}
		return "disabled emergency lockdown"
	default:
		return fmt.Sprintf("unrecognised record %q", r.Kind)
	}
}

func lastDigits(code string) string {
	if len(code) <= 4 {
		return code
	}
	return code[len(code)-4:]
}

// newestFirst returns a copy of records in reverse ledger order.
func newestFirst(records []record.Record) []record.Record {
	sorted := record.Sorted(records)
	sort.SliceStable(sorted, func(i, j int) bool { return record.Before(sorted[j], sorted[i]) })
	return sorted
}

package projections

import (
	"sort"
	"time"

	"kafer/internal/domain/moneycode"
	"kafer/internal/domain/record"
	"kafer/internal/domain/refund"
)

// Inconsistency describes a record the money fold ignored.
type Inconsistency struct {
	Seq       int
	Kind      record.Kind
	ActorID   string
	Code      string
	Timestamp time.Time
	Reason    string
}

// Inconsistency reasons
const (
	ReasonDuplicateIssue    = "duplicate_issue"
	ReasonNotIssued         = "not_issued"
	ReasonAlreadyRedeemed   = "already_redeemed"
	ReasonVoided            = "voided"
	ReasonNotVoidable       = "not_voidable"
	ReasonDuplicateRequest  = "duplicate_refund_request"
	ReasonDuplicateApproval = "duplicate_refund_approval"
)

// Ledger is the money state derived from one record stream: code lifecycles,
// refund lifecycles and per-member credits and debits.
type Ledger struct {
	Codes           map[string]moneycode.Code
	Refunds         map[string]refund.Refund
	Inconsistencies []Inconsistency

	codeOrder   []string
	refundOrder []string
	credits     map[string]int64
	debits      map[string]int64
}

// BuildLedger folds the money-related records in ledger order.
// PRE: none
// POST: Issuing never credits anyone; the first valid payment of an issued,
// unvoided code credits the payer with the issued amount; the first approval
// per refund code debits the target with the after-fee amount
// INVARIANT: records is not mutated
func BuildLedger(records []record.Record) *Ledger {
	l := &Ledger{
		Codes:   map[string]moneycode.Code{},
		Refunds: map[string]refund.Refund{},
		credits: map[string]int64{},
		debits:  map[string]int64{},
	}
	for _, r := range record.Sorted(records) {
		switch p := r.Payload.(type) {
		case record.MoneyCodeIssue:
			if _, exists := l.Codes[p.Code]; exists {
				l.flag(r, p.Code, ReasonDuplicateIssue)
				continue
			}
			l.Codes[p.Code] = moneycode.Code{
				Code:      p.Code,
				AmountKaf: int64(p.AmountKaf),
				AmountYen: int64(p.AmountYen),
				IssuedBy:  r.ActorID,
				IssuedAt:  r.Timestamp,
				State:     moneycode.StateIssued,
			}
			l.codeOrder = append(l.codeOrder, p.Code)

		case record.Payment:
			c, ok := l.Codes[p.PaymentCode]
			switch {
			case !ok:
				l.flag(r, p.PaymentCode, ReasonNotIssued)
			case c.State == moneycode.StateRedeemed:
				l.flag(r, p.PaymentCode, ReasonAlreadyRedeemed)
			case c.State == moneycode.StateVoided:
				l.flag(r, p.PaymentCode, ReasonVoided)
			default:
				c.State = moneycode.StateRedeemed
				c.RedeemedBy = r.ActorID
				c.RedeemedAt = r.Timestamp
				l.Codes[p.PaymentCode] = c
				l.credits[r.ActorID] += c.AmountKaf
			}

		case record.MoneyCodeVoid:
			c, ok := l.Codes[p.Code]
			if !ok || c.State != moneycode.StateIssued {
				l.flag(r, p.Code, ReasonNotVoidable)
				continue
			}
			c.State = moneycode.StateVoided
			c.VoidedAt = r.Timestamp
			l.Codes[p.Code] = c

		case record.RefundRequest:
			if _, exists := l.Refunds[p.RefundCode]; exists {
				l.flag(r, p.RefundCode, ReasonDuplicateRequest)
				continue
			}
			l.Refunds[p.RefundCode] = refund.Refund{
				Code:             p.RefundCode,
				MemberID:         r.ActorID,
				MemberName:       r.ActorName,
				RequestAmountKaf: int64(p.RequestAmountKaf),
				AfterFeeKaf:      int64(p.RefundAmountAfterFeeKaf),
				RequestedAt:      r.Timestamp,
				State:            refund.StatePending,
			}
			l.refundOrder = append(l.refundOrder, p.RefundCode)

		case record.RefundApproved:
			rf, exists := l.Refunds[p.RefundCode]
			if exists && rf.State == refund.StateApproved {
				l.flag(r, p.RefundCode, ReasonDuplicateApproval)
				continue
			}
			if !exists {
				rf = refund.Refund{
					Code:             p.RefundCode,
					MemberID:         p.TargetMemberID,
					RequestAmountKaf: int64(p.RequestAmountKaf),
				}
				l.refundOrder = append(l.refundOrder, p.RefundCode)
			}
			rf.State = refund.StateApproved
			rf.AfterFeeKaf = int64(p.RefundAmountAfterFeeKaf)
			rf.ApprovedBy = r.ActorID
			rf.ApprovedAt = r.Timestamp
			l.Refunds[p.RefundCode] = rf
			l.debits[p.TargetMemberID] += int64(p.RefundAmountAfterFeeKaf)
		}
	}
	return l
}

func (l *Ledger) flag(r record.Record, code, reason string) {
	l.Inconsistencies = append(l.Inconsistencies, Inconsistency{
		Seq:       r.Seq,
		Kind:      r.Kind,
		ActorID:   r.ActorID,
		Code:      code,
		Timestamp: r.Timestamp,
		Reason:    reason,
	})
}

// Balance returns credited redemptions minus approved refunds for a member.
func (l *Ledger) Balance(memberID string) int64 {
	return l.credits[memberID] - l.debits[memberID]
}

// PaidKaf returns the total credited redemptions of a member.
func (l *Ledger) PaidKaf(memberID string) int64 {
	return l.credits[memberID]
}

// PendingRefundKaf returns the requested amount of a member's pending refunds.
func (l *Ledger) PendingRefundKaf(memberID string) int64 {
	var total int64
	for _, rf := range l.Refunds {
		if rf.MemberID == memberID && rf.IsPending() {
			total += rf.RequestAmountKaf
		}
	}
	return total
}

// CodeList returns codes in issue order.
func (l *Ledger) CodeList() []moneycode.Code {
	out := make([]moneycode.Code, 0, len(l.codeOrder))
	for _, code := range l.codeOrder {
		out = append(out, l.Codes[code])
	}
	return out
}

// RefundList returns refunds newest request first.
func (l *Ledger) RefundList() []refund.Refund {
	out := make([]refund.Refund, 0, len(l.refundOrder))
	for _, code := range l.refundOrder {
		out = append(out, l.Refunds[code])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out
}

// PendingRefunds returns refunds awaiting approval, oldest first.
func (l *Ledger) PendingRefunds() []refund.Refund {
	var out []refund.Refund
	for _, code := range l.refundOrder {
		if rf := l.Refunds[code]; rf.IsPending() {
			out = append(out, rf)
		}
	}
	return out
}

// MoneyBalance returns the KAFer balance of a member.
// Issuing a code never credits the issuer; only redemption moves money.
func MoneyBalance(memberID string, records []record.Record) int64 {
	return BuildLedger(records).Balance(memberID)
}

// MoneyCodes returns the lifecycle state of every issued code.
func MoneyCodes(records []record.Record) map[string]moneycode.Code {
	return BuildLedger(records).Codes
}

// Refunds returns every refund, newest request first.
func Refunds(records []record.Record) []refund.Refund {
	return BuildLedger(records).RefundList()
}

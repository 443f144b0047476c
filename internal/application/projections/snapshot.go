package projections

import (
	"time"

	"kafer/internal/domain/moneycode"
	"kafer/internal/domain/record"
	"kafer/internal/domain/systemconfig"
)

// Snapshot memoises the folds of one fetched record stream so several
// projections can be read without refolding. It is immutable once built.
type Snapshot struct {
	records    []record.Record
	settings   Settings
	ledger     *Ledger
	active     MemberSet
	identities map[string]Identity
	config     systemconfig.Config
}

// NewSnapshot folds records once.
// INVARIANT: records is copied; later changes to the caller's slice are not observed
func NewSnapshot(records []record.Record, settings Settings) *Snapshot {
	own := record.Sorted(records)
	return &Snapshot{
		records:    own,
		settings:   settings,
		ledger:     BuildLedger(own),
		active:     ActiveMembers(own),
		identities: Identities(own),
		config:     SystemConfig(own, settings.Defaults),
	}
}

// Records returns the records in ledger order.
func (s *Snapshot) Records() []record.Record {
	out := make([]record.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Snapshot) Ledger() *Ledger { return s.ledger }
func (s *Snapshot) Active() MemberSet { return s.active }
func (s *Snapshot) Config() systemconfig.Config { return s.config }
func (s *Snapshot) Settings() Settings { return s.settings }
func (s *Snapshot) IsActive(memberID string) bool { return s.active.Contains(memberID) }
func (s *Snapshot) Balance(memberID string) int64 { return s.ledger.Balance(memberID) }
func (s *Snapshot) Code(code string) (moneycode.Code, bool) {
	c, ok := s.ledger.Codes[code]
	return c, ok
}

// Identity returns the current identity of a registered member.
func (s *Snapshot) Identity(memberID string) (Identity, bool) {
	id, ok := s.identities[memberID]
	return id, ok
}

// PaymentStatus returns the fee position of a member at now.
func (s *Snapshot) PaymentStatus(memberID string, now time.Time) PaymentStatus {
	return paymentStatusFrom(memberID, s.records, s.ledger, s.settings, now)
}

// MemberSummary is one row of the administrator's member list.
type MemberSummary struct {
	MemberID      string
	DisplayName   string
	RegisteredAt  time.Time
	BalanceKaf    int64
	PaymentStatus PaymentStatus
}

// MemberList returns every active member sorted by id.
func MemberList(records []record.Record, settings Settings, now time.Time) []MemberSummary {
	return NewSnapshot(records, settings).MemberList(now)
}

// MemberList returns every active member sorted by id.
func (s *Snapshot) MemberList(now time.Time) []MemberSummary {
	ids := s.active.IDs()
	out := make([]MemberSummary, 0, len(ids))
	for _, id := range ids {
		ident := s.identities[id]
		out = append(out, MemberSummary{
			MemberID:      id,
			DisplayName:   ident.DisplayName,
			RegisteredAt:  ident.RegisteredAt,
			BalanceKaf:    s.ledger.Balance(id),
			PaymentStatus: s.PaymentStatus(id, now),
		})
	}
	return out
}

// DashboardStats summarises the ledger for administrators.
type DashboardStats struct {
	ActiveMembers      int
	ActiveCodes        int
	ActiveCodeValueKaf int64
	RedeemedCodes      int
	VoidedCodes        int
	PendingRefunds     int
	PendingRefundKaf   int64
	TotalBalanceKaf    int64
	EmergencyLockdown  bool
	Inconsistencies    int
}

// Dashboard computes administrator statistics.
func Dashboard(records []record.Record, settings Settings) DashboardStats {
	return NewSnapshot(records, settings).Dashboard()
}

// Dashboard computes administrator statistics.
func (s *Snapshot) Dashboard() DashboardStats {
	stats := DashboardStats{
		ActiveMembers:     len(s.active),
		EmergencyLockdown: s.config.EmergencyLockdown,
		Inconsistencies:   len(s.ledger.Inconsistencies),
	}
	for _, c := range s.ledger.Codes {
		switch c.State {
		case moneycode.StateIssued:
			stats.ActiveCodes++
			stats.ActiveCodeValueKaf += c.AmountKaf
		case moneycode.StateRedeemed:
			stats.RedeemedCodes++
		case moneycode.StateVoided:
			stats.VoidedCodes++
		}
	}
	for _, rf := range s.ledger.PendingRefunds() {
		stats.PendingRefunds++
		stats.PendingRefundKaf += rf.RequestAmountKaf
	}
	for id := range s.identities {
		stats.TotalBalanceKaf += s.ledger.Balance(id)
	}
	return stats
}

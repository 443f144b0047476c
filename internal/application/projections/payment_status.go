package projections

import (
	"time"

	"kafer/internal/domain/currency"
	"kafer/internal/domain/record"
	"kafer/internal/domain/systemconfig"
)

// Settings carries the static configuration projections depend on.
type Settings struct {
	Rates        currency.Converter
	Defaults     systemconfig.Config
	RefundFeeYen int64
	Location     *time.Location
}

// DefaultSettings returns the reference configuration in UTC.
func DefaultSettings() Settings {
	return Settings{
		Rates:        currency.Default(),
		Defaults:     systemconfig.Defaults(),
		RefundFeeYen: systemconfig.DefaultRefundFeeYen,
		Location:     time.UTC,
	}
}

// RefundFeeKaf returns the flat refund fee in KAFer.
func (s Settings) RefundFeeKaf() int64 {
	return s.Rates.YenToKaf(s.RefundFeeYen)
}

// SystemConfig resolves the site configuration: latest system_config and
// latest config fields over the defaults.
func SystemConfig(records []record.Record, defaults systemconfig.Config) systemconfig.Config {
	return systemconfig.Resolve(records, defaults)
}

// PaymentStatus is a member's fee position.
type PaymentStatus struct {
	Registered     bool
	MonthsBilled   int
	BaseFeeKaf     int64
	PaidKaf        int64
	ArrearsKaf     int64
	MonthlyDueKaf  int64
	BalanceKaf     int64
	OutstandingKaf int64
	ExcessKaf      int64
}

// Settled reports whether nothing is outstanding.
func (p PaymentStatus) Settled() bool {
	return p.OutstandingKaf == 0
}

// MemberPaymentStatus computes monthly dues and arrears for a member at now.
// PRE: none
// POST: arrears = max(0, baseFee*(months-1) - paid); monthlyDue = baseFee + arrears;
// outstanding and excess compare monthlyDue with the balance
// INVARIANT: months counts calendar months from the latest register through now, inclusive
func MemberPaymentStatus(memberID string, records []record.Record, settings Settings, now time.Time) PaymentStatus {
	return paymentStatusFrom(memberID, records, BuildLedger(records), settings, now)
}

func paymentStatusFrom(memberID string, records []record.Record, ledger *Ledger, settings Settings, now time.Time) PaymentStatus {
	identity, ok := CurrentIdentity(memberID, records)
	if !ok {
		return PaymentStatus{}
	}
	cfg := SystemConfig(records, settings.Defaults)
	baseFee := settings.Rates.YenToKaf(cfg.BaseMonthlyFeeYen)

	months := MonthsInclusive(identity.RegisteredAt, now, settings.Location)
	paid := ledger.PaidKaf(memberID)
	balance := ledger.Balance(memberID)

	arrears := max(0, baseFee*int64(months-1)-paid)
	due := baseFee + arrears

	return PaymentStatus{
		Registered:     true,
		MonthsBilled:   months,
		BaseFeeKaf:     baseFee,
		PaidKaf:        paid,
		ArrearsKaf:     arrears,
		MonthlyDueKaf:  due,
		BalanceKaf:     balance,
		OutstandingKaf: max(0, due-balance),
		ExcessKaf:      max(0, balance-due),
	}
}

// MonthsInclusive counts calendar months from from's month through to's month.
// Both instants are read in loc, or in to's location when loc is nil.
// POST: Returns at least 1
func MonthsInclusive(from, to time.Time, loc *time.Location) int {
	if loc == nil {
		loc = to.Location()
	}
	f, t := from.In(loc), to.In(loc)
	months := (t.Year()-f.Year())*12 + int(t.Month()) - int(f.Month()) + 1
	if months < 1 {
		return 1
	}
	return months
}

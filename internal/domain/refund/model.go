package refund

import (
	"errors"
	"time"
)

// Lifecycle states
const (
	StatePending  = "pending"
	StateApproved = "approved"
)

// Domain errors
var (
	ErrNonPositiveAmount = errors.New("refund amount must be positive")
	ErrAmountBelowFee    = errors.New("refund amount does not cover the refund fee")
	ErrExceedsBalance    = errors.New("refund amount exceeds available balance")
	ErrNotFound          = errors.New("refund request not found")
	ErrNotPending        = errors.New("refund request is not pending")
)

// Refund is the projected state of one refund request.
type Refund struct {
	Code             string
	MemberID         string
	MemberName       string
	RequestAmountKaf int64
	AfterFeeKaf      int64
	RequestedAt      time.Time
	State            string
	ApprovedBy       string
	ApprovedAt       time.Time
}

// IsPending reports whether the refund still awaits approval.
func (r Refund) IsPending() bool {
	return r.State == StatePending
}

// AfterFee computes the amount paid out once the flat fee is deducted.
// PRE: feeKaf >= 0
// POST: Returns requestKaf - feeKaf, or an error when nothing would be paid out
func AfterFee(requestKaf, feeKaf int64) (int64, error) {
	if requestKaf <= 0 {
		return 0, ErrNonPositiveAmount
	}
	if requestKaf <= feeKaf {
		return 0, ErrAmountBelowFee
	}
	return requestKaf - feeKaf, nil
}

// CheckAvailable rejects a request larger than the balance not already
// reserved by pending refunds.
func CheckAvailable(requestKaf, balanceKaf, pendingKaf int64) error {
	if requestKaf > balanceKaf-pendingKaf {
		return ErrExceedsBalance
	}
	return nil
}

package record

import (
	"encoding/json"
	"errors"
	"strings"
)

// Payload is the kind-specific part of a record.
type Payload interface {
	Kind() Kind
	Validate() error
}

// Register enrols a member. MemberID and DisplayName travel in the envelope
// (kaferId, name) on the wire.
type Register struct {
	MemberID       string `json:"-"`
	DisplayName    string `json:"-"`
	PasswordSecret string `json:"pass"`
}

// Remove ends a membership.
type Remove struct {
	TargetMemberID string `json:"targetKaferId"`
	Reason         string `json:"reason,omitempty"`
}

// NameUpdate changes a member's display name.
type NameUpdate struct {
	TargetMemberID string `json:"targetKaferId"`
	NewName        string `json:"newName"`
}

// PassUpdate changes a member's password secret.
type PassUpdate struct {
	TargetMemberID    string `json:"targetKaferId"`
	NewPasswordSecret string `json:"pass"`
}

// MoneyCodeIssue creates a redeemable prepaid code.
type MoneyCodeIssue struct {
	Code      string `json:"moneyCode"`
	AmountKaf Number `json:"amount"`
	AmountYen Number `json:"amountYen"`
	Status    string `json:"status,omitempty"`
}

// Payment redeems a money code.
type Payment struct {
	PaymentCode string `json:"paymentCode"`
	AmountKaf   Number `json:"amount,omitempty"`
}

// MoneyCodeVoid invalidates an unredeemed money code.
type MoneyCodeVoid struct {
	Code string `json:"moneyCode"`
}

// RefundRequest asks for balance to be paid out. The requesting member is
// the record's actor.
type RefundRequest struct {
	RequestAmountKaf        Number `json:"requestAmountKaf"`
	RefundAmountAfterFeeKaf Number `json:"refundAmountAfterFeeKaf"`
	RefundCode              string `json:"refundCode"`
}

// RefundApproved settles a refund request.
type RefundApproved struct {
	TargetMemberID          string `json:"targetKaferId"`
	RefundCode              string `json:"refundCode"`
	RequestAmountKaf        Number `json:"requestAmountKaf"`
	RefundAmountAfterFeeKaf Number `json:"refundAmountAfterFeeKaf"`
}

// Announcement is a message shown to all members.
type Announcement struct {
	Message string `json:"message"`
}

// Config carries site settings. Nil fields leave the current value untouched.
type Config struct {
	Email             *string `json:"email,omitempty"`
	BaseMonthlyFeeYen *Number `json:"base_monthly_fee_yen,omitempty"`
}

// SystemConfig toggles the emergency lockdown.
type SystemConfig struct {
	EmergencyLockdown *bool `json:"emergency_lockdown"`
}

// Unknown keeps a record of a kind this build does not understand.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Register) Kind() Kind       { return KindRegister }
func (Remove) Kind() Kind         { return KindRemove }
func (NameUpdate) Kind() Kind     { return KindNameUpdate }
func (PassUpdate) Kind() Kind     { return KindPassUpdate }
func (MoneyCodeIssue) Kind() Kind { return KindMoneyCodeIssue }
func (Payment) Kind() Kind        { return KindPayment }
func (MoneyCodeVoid) Kind() Kind  { return KindMoneyCodeVoid }
func (RefundRequest) Kind() Kind  { return KindRefundRequest }
func (RefundApproved) Kind() Kind { return KindRefundApproved }
func (Announcement) Kind() Kind   { return KindAnnouncement }
func (Config) Kind() Kind         { return KindConfig }
func (SystemConfig) Kind() Kind   { return KindSystemConfig }
func (u Unknown) Kind() Kind      { return Kind(u.Type) }

// Validate checks required fields.
func (p Register) Validate() error {
	if blank(p.MemberID) {
		return errors.New("member id cannot be empty")
	}
	if blank(p.DisplayName) {
		return errors.New("display name cannot be empty")
	}
	if p.PasswordSecret == "" {
		return errors.New("password cannot be empty")
	}
	return nil
}

// Validate checks required fields.
func (p Remove) Validate() error {
	if blank(p.TargetMemberID) {
		return errors.New("target member id cannot be empty")
	}
	return nil
}

// Validate checks required fields.
func (p NameUpdate) Validate() error {
	if blank(p.TargetMemberID) {
		return errors.New("target member id cannot be empty")
	}
	if blank(p.NewName) {
		return errors.New("new name cannot be empty")
	}
	return nil
}

// Validate checks required fields.
func (p PassUpdate) Validate() error {
	if blank(p.TargetMemberID) {
		return errors.New("target member id cannot be empty")
	}
	if p.NewPasswordSecret == "" {
		return errors.New("new password cannot be empty")
	}
	return nil
}

// Validate checks required fields.
func (p MoneyCodeIssue) Validate() error {
	if blank(p.Code) {
		return errors.New("money code cannot be empty")
	}
	if p.AmountKaf < 0 || p.AmountYen < 0 {
		return errors.New("amount cannot be negative")
	}
	return nil
}

// Validate checks required fields.
func (p Payment) Validate() error {
	if blank(p.PaymentCode) {
		return errors.New("payment code cannot be empty")
	}
	return nil
}

// Validate checks required fields.
func (p MoneyCodeVoid) Validate() error {
	if blank(p.Code) {
		return errors.New("money code cannot be empty")
	}
	return nil
}

// Validate checks required fields.
func (p RefundRequest) Validate() error {
	if blank(p.RefundCode) {
		return errors.New("refund code cannot be empty")
	}
	if p.RequestAmountKaf < 0 || p.RefundAmountAfterFeeKaf < 0 {
		return errors.New("refund amount cannot be negative")
	}
	return nil
}

// Validate checks required fields.
func (p RefundApproved) Validate() error {
	if blank(p.TargetMemberID) {
		return errors.New("target member id cannot be empty")
	}
	if blank(p.RefundCode) {
		return errors.New("refund code cannot be empty")
	}
	if p.RequestAmountKaf < 0 || p.RefundAmountAfterFeeKaf < 0 {
		return errors.New("refund amount cannot be negative")
	}
	return nil
}

// Validate checks required fields.
func (p Announcement) Validate() error {
	if blank(p.Message) {
		return errors.New("message cannot be empty")
	}
	return nil
}

// Validate checks required fields.
func (p Config) Validate() error {
	if p.BaseMonthlyFeeYen != nil && *p.BaseMonthlyFeeYen < 0 {
		return errors.New("base monthly fee cannot be negative")
	}
	return nil
}

// Validate checks required fields.
func (p SystemConfig) Validate() error {
	if p.EmergencyLockdown == nil {
		return errors.New("emergency_lockdown must be present")
	}
	return nil
}

// Validate accepts any unknown record.
func (Unknown) Validate() error { return nil }

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

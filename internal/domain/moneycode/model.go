package moneycode

import (
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"time"

	"kafer/internal/domain/record"
)

// CodeLength is the number of decimal digits in a money code.
const CodeLength = 16

// Lifecycle states
const (
	StateIssued   = "issued"
	StateRedeemed = "redeemed"
	StateVoided   = "voided"
)

// Domain errors
var (
	ErrNotIssued       = errors.New("money code has not been issued")
	ErrAlreadyIssued   = errors.New("money code has already been issued")
	ErrAlreadyRedeemed = errors.New("money code has already been redeemed")
	ErrVoided          = errors.New("money code has been voided")
)

var codePattern = regexp.MustCompile(`^[0-9]{16}$`)

// Validate checks the 16-digit format.
// POST: Returns a record.ValidationError for malformed codes; input is never coerced
func Validate(code string) error {
	if !codePattern.MatchString(code) {
		return record.ValidationError{Field: "moneyCode", Reason: "must be exactly 16 digits"}
	}
	return nil
}

// Generate returns a random 16-digit code.
func Generate() (string, error) {
	buf := make([]byte, CodeLength)
	ten := big.NewInt(10)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// Code is the projected state of one money code.
type Code struct {
	Code       string
	AmountKaf  int64
	AmountYen  int64
	IssuedBy   string
	IssuedAt   time.Time
	State      string
	RedeemedBy string
	RedeemedAt time.Time
	VoidedAt   time.Time
}

// IsActive reports whether the code can still be redeemed.
func (c Code) IsActive() bool {
	return c.State == StateIssued
}

// CheckRedeemable maps the code state to a redemption error.
// PRE: c was found in the ledger
// POST: Returns nil only for an issued, unredeemed, unvoided code
func (c Code) CheckRedeemable() error {
	switch c.State {
	case StateRedeemed:
		return ErrAlreadyRedeemed
	case StateVoided:
		return ErrVoided
	}
	return nil
}

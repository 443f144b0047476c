package orchestrators

import (
	"context"
	"errors"
	"log/slog"

	"kafer/internal/application/projections"
	"kafer/internal/domain/moneycode"
	"kafer/internal/domain/record"
	"kafer/internal/domain/session"
)

const maxGenerateAttempts = 8

var ErrCodeSpaceExhausted = errors.New("could not generate an unused money code")

// GenerateMoneyCode returns a random 16-digit code not yet issued in records.
// POST: The result passes moneycode.Validate
func GenerateMoneyCode(records []record.Record) (string, error) {
	issued := projections.MoneyCodes(records)
	for i := 0; i < maxGenerateAttempts; i++ {
		code, err := moneycode.Generate()
		if err != nil {
			return "", err
		}
		if _, taken := issued[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// IssueMoneyCodeInput carries input for the issue money code orchestrator.
// An empty Code asks for a generated one.
type IssueMoneyCodeInput struct {
	Actor     session.Session
	Code      string
	AmountYen int64
}

// IssueMoneyCodeResult carries the issued code.
type IssueMoneyCodeResult struct {
	Record    record.Record
	Code      string
	AmountKaf int64
	AmountYen int64
}

// ExecuteIssueMoneyCode issues a new prepaid code worth AmountYen.
// PRE: Actor is an administrator; AmountYen > 0
// POST: The code is issued with AmountKaf = YenToKaf(AmountYen); nobody is credited
// INVARIANT: A code is issued at most once
func ExecuteIssueMoneyCode(ctx context.Context, input IssueMoneyCodeInput, deps WriteDeps) (IssueMoneyCodeResult, error) {
	records, err := deps.load(ctx, input.Actor, true)
	if err != nil {
		return IssueMoneyCodeResult{}, err
	}
	if input.AmountYen <= 0 {
		return IssueMoneyCodeResult{}, record.ValidationError{Field: "amountYen", Reason: "must be positive"}
	}

	code := input.Code
	if code == "" {
		if code, err = GenerateMoneyCode(records); err != nil {
			return IssueMoneyCodeResult{}, err
		}
	}
	if err := moneycode.Validate(code); err != nil {
		return IssueMoneyCodeResult{}, err
	}
	if _, taken := projections.MoneyCodes(records)[code]; taken {
		return IssueMoneyCodeResult{}, moneycode.ErrAlreadyIssued
	}

	amountKaf := deps.Settings.Rates.YenToKaf(input.AmountYen)
	rec, err := deps.commit(ctx, input.Actor, record.MoneyCodeIssue{
		Code:      code,
		AmountKaf: record.Number(amountKaf),
		AmountYen: record.Number(input.AmountYen),
		Status:    "active",
	})
	if err != nil {
		return IssueMoneyCodeResult{}, err
	}
	slog.Info("money_event", "event", "code_issued", "amount_yen", input.AmountYen, "by", input.Actor.MemberID)
	return IssueMoneyCodeResult{Record: rec, Code: code, AmountKaf: amountKaf, AmountYen: input.AmountYen}, nil
}

// RedeemMoneyCodeInput carries input for the redeem money code orchestrator.
type RedeemMoneyCodeInput struct {
	Actor session.Session
	Code  string
}

// RedeemMoneyCodeResult carries the amount credited.
type RedeemMoneyCodeResult struct {
	Record    record.Record
	AmountKaf int64
}

// ExecuteRedeemMoneyCode pays a money code into the actor's balance.
// PRE: Code is 16 digits, issued, not redeemed and not voided
// POST: The actor's balance grows by the code amount once the record is visible
func ExecuteRedeemMoneyCode(ctx context.Context, input RedeemMoneyCodeInput, deps WriteDeps) (RedeemMoneyCodeResult, error) {
	if err := moneycode.Validate(input.Code); err != nil {
		return RedeemMoneyCodeResult{}, err
	}
	records, err := deps.load(ctx, input.Actor, false)
	if err != nil {
		return RedeemMoneyCodeResult{}, err
	}
	code, ok := projections.MoneyCodes(records)[input.Code]
	if !ok {
		return RedeemMoneyCodeResult{}, moneycode.ErrNotIssued
	}
	if err := code.CheckRedeemable(); err != nil {
		slog.Info("money_event", "event", "redeem_rejected", "member_id", input.Actor.MemberID, "reason", err)
		return RedeemMoneyCodeResult{}, err
	}

	rec, err := deps.commit(ctx, input.Actor, record.Payment{PaymentCode: input.Code, AmountKaf: record.Number(code.AmountKaf)})
	if err != nil {
		return RedeemMoneyCodeResult{}, err
	}
	slog.Info("money_event", "event", "code_redeemed", "member_id", input.Actor.MemberID, "amount_kaf", code.AmountKaf)
	return RedeemMoneyCodeResult{Record: rec, AmountKaf: code.AmountKaf}, nil
}

// VoidMoneyCodeInput carries input for the void money code orchestrator.
type VoidMoneyCodeInput struct {
	Actor session.Session
	Code  string
}

// ExecuteVoidMoneyCode cancels an issued, unredeemed code.
// PRE: Actor is an administrator
// POST: Later payments of the code are ignored
func ExecuteVoidMoneyCode(ctx context.Context, input VoidMoneyCodeInput, deps WriteDeps) (record.Record, error) {
	records, err := deps.load(ctx, input.Actor, true)
	if err != nil {
		return record.Record{}, err
	}
	if err := moneycode.Validate(input.Code); err != nil {
		return record.Record{}, err
	}
	code, ok := projections.MoneyCodes(records)[input.Code]
	if !ok {
		return record.Record{}, moneycode.ErrNotIssued
	}
	if err := code.CheckRedeemable(); err != nil {
		return record.Record{}, err
	}

	rec, err := deps.commit(ctx, input.Actor, record.MoneyCodeVoid{Code: input.Code})
	if err != nil {
		return rec, err
	}
	slog.Info("money_event", "event", "code_voided", "by", input.Actor.MemberID)
	return rec, nil
}

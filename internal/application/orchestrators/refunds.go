package orchestrators

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kafer/internal/application/projections"
	"kafer/internal/domain/record"
	"kafer/internal/domain/refund"
	"kafer/internal/domain/session"
)

// RequestRefundInput carries input for the request refund orchestrator.
type RequestRefundInput struct {
	Actor     session.Session
	AmountKaf int64
}

// RequestRefundResult carries the created request.
type RequestRefundResult struct {
	Record      record.Record
	RefundCode  string
	AfterFeeKaf int64
}

// ExecuteRequestRefund asks for part of the actor's balance back.
// PRE: AmountKaf > refund fee; AmountKaf <= balance - pending requests
// POST: A pending refund exists; the balance is unchanged until approval
func ExecuteRequestRefund(ctx context.Context, input RequestRefundInput, deps WriteDeps) (RequestRefundResult, error) {
	records, err := deps.load(ctx, input.Actor, false)
	if err != nil {
		return RequestRefundResult{}, err
	}
	afterFee, err := refund.AfterFee(input.AmountKaf, deps.Settings.RefundFeeKaf())
	if err != nil {
		return RequestRefundResult{}, err
	}
	ledger := projections.BuildLedger(records)
	if err := refund.CheckAvailable(input.AmountKaf, ledger.Balance(input.Actor.MemberID), ledger.PendingRefundKaf(input.Actor.MemberID)); err != nil {
		return RequestRefundResult{}, err
	}

	code := "RF-" + strings.ToUpper(deps.generateID())
	rec, err := deps.commit(ctx, input.Actor, record.RefundRequest{
		RequestAmountKaf:        record.Number(input.AmountKaf),
		RefundAmountAfterFeeKaf: record.Number(afterFee),
		RefundCode:              code,
	})
	if err != nil {
		return RequestRefundResult{}, err
	}
	slog.Info("money_event", "event", "refund_requested", "member_id", input.Actor.MemberID, "refund_code", code, "amount_kaf", input.AmountKaf)

	deps.notify(ctx, records, "refund_request",
		fmt.Sprintf("Refund request %s", code),
		fmt.Sprintf("**%s** (%s) requested a refund of %d KAFer.\n\nAfter the fee, %s yen will be paid out.",
			input.Actor.DisplayName, input.Actor.MemberID, input.AmountKaf, deps.Settings.Rates.FormatYen(afterFee)))
	return RequestRefundResult{Record: rec, RefundCode: code, AfterFeeKaf: afterFee}, nil
}

// ApproveRefundInput carries input for the approve refund orchestrator.
type ApproveRefundInput struct {
	Actor      session.Session
	RefundCode string
}

// ExecuteApproveRefund approves a pending refund request.
// PRE: Actor is an administrator; the request is pending
// POST: The requester is debited the after-fee amount once the record is visible
func ExecuteApproveRefund(ctx context.Context, input ApproveRefundInput, deps WriteDeps) (record.Record, error) {
	records, err := deps.load(ctx, input.Actor, true)
	if err != nil {
		return record.Record{}, err
	}
	rf, ok := projections.BuildLedger(records).Refunds[input.RefundCode]
	if !ok {
		return record.Record{}, refund.ErrNotFound
	}
	if !rf.IsPending() {
		return record.Record{}, refund.ErrNotPending
	}

	rec, err := deps.commit(ctx, input.Actor, record.RefundApproved{
		TargetMemberID:          rf.MemberID,
		RefundCode:              rf.Code,
		RequestAmountKaf:        record.Number(rf.RequestAmountKaf),
		RefundAmountAfterFeeKaf: record.Number(rf.AfterFeeKaf),
	})
	if err != nil {
		return rec, err
	}
	slog.Info("money_event", "event", "refund_approved", "member_id", rf.MemberID, "refund_code", rf.Code, "by", input.Actor.MemberID)
	return rec, nil
}

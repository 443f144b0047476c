package orchestrators

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"kafer/internal/application/projections"
	"kafer/internal/domain/record"
	"kafer/internal/domain/session"
)

// ChangePasswordInput carries input for the change-password orchestrator.
type ChangePasswordInput struct {
	Actor         session.Session
	CurrentSecret string
	NewSecret     string
}

var ErrNewPasswordSame = errors.New("new password must be different from current password")

// ExecuteChangePassword verifies the current password and appends a pass_update for the actor.
// PRE: Actor is logged in; both secrets are non-empty
// POST: Login accepts NewSecret once the record is visible
func ExecuteChangePassword(ctx context.Context, input ChangePasswordInput, deps WriteDeps) (record.Record, error) {
	records, err := deps.load(ctx, input.Actor, false)
	if err != nil {
		return record.Record{}, err
	}
	if input.CurrentSecret == "" || input.NewSecret == "" {
		return record.Record{}, record.ValidationError{Field: "pass", Reason: "current and new password are required"}
	}

	identity, ok := projections.CurrentIdentity(input.Actor.MemberID, records)
	if !ok || subtle.ConstantTimeCompare([]byte(identity.PasswordSecret), []byte(input.CurrentSecret)) != 1 {
		slog.Info("auth_event", "event", "password_change_failed", "member_id", input.Actor.MemberID, "reason", "wrong_password")
		return record.Record{}, ErrInvalidCredentials
	}
	if input.CurrentSecret == input.NewSecret {
		return record.Record{}, ErrNewPasswordSame
	}

	rec, err := deps.commit(ctx, input.Actor, record.PassUpdate{TargetMemberID: input.Actor.MemberID, NewPasswordSecret: input.NewSecret})
	if err != nil {
		return rec, err
	}
	slog.Info("auth_event", "event", "password_changed", "member_id", input.Actor.MemberID)
	return rec, nil
}

package orchestrators

import (
	"context"
	"log/slog"
	"strings"

	"kafer/internal/application/projections"
	"kafer/internal/domain/record"
	"kafer/internal/domain/session"
)

// RegisterMemberInput carries input for the register member orchestrator.
// Actor is empty for self-registration and set when an administrator registers someone.
type RegisterMemberInput struct {
	MemberID    string
	DisplayName string
	Secret      string
	Actor       session.Session
}

// ExecuteRegisterMember appends a register record for a new or returning member.
// PRE: MemberID, DisplayName and Secret are non-empty
// POST: The member is active once the record is visible
// INVARIANT: An id that is currently active cannot be registered again
func ExecuteRegisterMember(ctx context.Context, input RegisterMemberInput, deps WriteDeps) (record.Record, error) {
	memberID := strings.TrimSpace(input.MemberID)
	name := strings.TrimSpace(input.DisplayName)
	switch {
	case memberID == "":
		return record.Record{}, record.ValidationError{Field: "kaferId", Reason: "is required"}
	case name == "":
		return record.Record{}, record.ValidationError{Field: "name", Reason: "is required"}
	case input.Secret == "":
		return record.Record{}, record.ValidationError{Field: "pass", Reason: "is required"}
	}

	records, err := fetch(ctx, deps.Ledger, input.Actor.IsAdmin)
	if err != nil {
		return record.Record{}, err
	}
	if projections.ActiveMembers(records).Contains(memberID) {
		slog.Info("member_event", "event", "register_rejected", "member_id", memberID, "reason", "exists")
		return record.Record{}, ErrMemberExists
	}

	// The register envelope names the new member, not whoever submitted it.
	writer := session.Session{MemberID: memberID, DisplayName: name, IsAdmin: input.Actor.IsAdmin}
	rec, err := deps.commit(ctx, writer, record.Register{PasswordSecret: input.Secret})
	if err != nil {
		return rec, err
	}
	slog.Info("member_event", "event", "member_registered", "member_id", memberID, "by", input.Actor.MemberID)
	return rec, nil
}

// RemoveMemberInput carries input for the remove member orchestrator.
type RemoveMemberInput struct {
	Actor          session.Session
	TargetMemberID string
	Reason         string
}

// ExecuteRemoveMember deactivates a member.
// PRE: Actor is an administrator
// POST: The target is no longer active once the record is visible
// INVARIANT: The administrator account cannot be removed
func ExecuteRemoveMember(ctx context.Context, input RemoveMemberInput, deps WriteDeps) (record.Record, error) {
	records, err := deps.load(ctx, input.Actor, true)
	if err != nil {
		return record.Record{}, err
	}
	if input.TargetMemberID == "" {
		return record.Record{}, record.ValidationError{Field: "targetKaferId", Reason: "is required"}
	}
	if input.TargetMemberID == deps.AdminID {
		return record.Record{}, record.ValidationError{Field: "targetKaferId", Reason: "the administrator cannot be removed"}
	}
	if !projections.ActiveMembers(records).Contains(input.TargetMemberID) {
		return record.Record{}, ErrMemberNotFound
	}

	rec, err := deps.commit(ctx, input.Actor, record.Remove{TargetMemberID: input.TargetMemberID, Reason: input.Reason})
	if err != nil {
		return rec, err
	}
	slog.Info("member_event", "event", "member_removed", "member_id", input.TargetMemberID, "by", input.Actor.MemberID)
	return rec, nil
}

// UpdateNameInput carries input for the update name orchestrator.
// An empty TargetMemberID renames the actor.
type UpdateNameInput struct {
	Actor          session.Session
	TargetMemberID string
	NewName        string
}

// ExecuteUpdateName changes a member's display name.
// PRE: Actor renames themselves, or Actor is an administrator
// POST: CurrentIdentity reports NewName once the record is visible
func ExecuteUpdateName(ctx context.Context, input UpdateNameInput, deps WriteDeps) (record.Record, error) {
	target := input.TargetMemberID
	if target == "" {
		target = input.Actor.MemberID
	}
	records, err := deps.load(ctx, input.Actor, target != input.Actor.MemberID)
	if err != nil {
		return record.Record{}, err
	}
	name := strings.TrimSpace(input.NewName)
	if name == "" {
		return record.Record{}, record.ValidationError{Field: "newName", Reason: "is required"}
	}
	if !projections.ActiveMembers(records).Contains(target) {
		return record.Record{}, ErrMemberNotFound
	}

	rec, err := deps.commit(ctx, input.Actor, record.NameUpdate{TargetMemberID: target, NewName: name})
	if err != nil {
		return rec, err
	}
	slog.Info("member_event", "event", "name_updated", "member_id", target, "by", input.Actor.MemberID)
	return rec, nil
}

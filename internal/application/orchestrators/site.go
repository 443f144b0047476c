package orchestrators

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"kafer/internal/domain/record"
	"kafer/internal/domain/session"
)

// PostAnnouncementInput carries input for the post announcement orchestrator.
type PostAnnouncementInput struct {
	Actor   session.Session
	Message string
}

// ExecutePostAnnouncement publishes a markdown message to every member.
// PRE: Actor is an administrator; Message is non-blank
func ExecutePostAnnouncement(ctx context.Context, input PostAnnouncementInput, deps WriteDeps) (record.Record, error) {
	if _, err := deps.load(ctx, input.Actor, true); err != nil {
		return record.Record{}, err
	}
	msg := strings.TrimSpace(input.Message)
	if msg == "" {
		return record.Record{}, record.ValidationError{Field: "message", Reason: "is required"}
	}
	rec, err := deps.commit(ctx, input.Actor, record.Announcement{Message: msg})
	if err != nil {
		return rec, err
	}
	slog.Info("site_event", "event", "announcement_posted", "by", input.Actor.MemberID)
	return rec, nil
}

// UpdateSiteConfigInput carries input for the update site config orchestrator.
type UpdateSiteConfigInput struct {
	Actor             session.Session
	Email             string
	BaseMonthlyFeeYen int64
	AdminSecret       string
}

// SiteConfigDeps holds dependencies for UpdateSiteConfig.
type SiteConfigDeps struct {
	WriteDeps
	Sessions session.Store
}

// ExecuteUpdateSiteConfig writes the site settings and the new administrator
// password, then ends the administrator's session.
// PRE: Actor is an administrator; Email parses; BaseMonthlyFeeYen > 0; AdminSecret non-empty
// POST: Both records were sent and the session store is empty
// INVARIANT: The session is kept when either write fails so the admin can retry
func ExecuteUpdateSiteConfig(ctx context.Context, input UpdateSiteConfigInput, deps SiteConfigDeps) error {
	if _, err := deps.load(ctx, input.Actor, true); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return record.ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	if input.BaseMonthlyFeeYen <= 0 {
		return record.ValidationError{Field: "base_monthly_fee_yen", Reason: "must be positive"}
	}
	if input.AdminSecret == "" {
		return record.ValidationError{Field: "pass", Reason: "a new administrator password is required"}
	}

	addr := input.Email
	fee := record.Number(input.BaseMonthlyFeeYen)
	if _, err := deps.commit(ctx, input.Actor, record.Config{Email: &addr, BaseMonthlyFeeYen: &fee}); err != nil {
		return fmt.Errorf("write site config: %w", err)
	}
	if _, err := deps.commit(ctx, input.Actor, record.PassUpdate{TargetMemberID: deps.AdminID, NewPasswordSecret: input.AdminSecret}); err != nil {
		return fmt.Errorf("write administrator password: %w", err)
	}
	slog.Info("site_event", "event", "site_config_updated", "by", input.Actor.MemberID, "base_monthly_fee_yen", input.BaseMonthlyFeeYen)

	return ExecuteLogout(ctx, LogoutDeps{Sessions: deps.Sessions})
}

// SetLockdownInput carries input for the set lockdown orchestrator.
type SetLockdownInput struct {
	Actor  session.Session
	Active bool
}

// ExecuteSetLockdown turns the emergency lockdown on or off.
// PRE: Actor is an administrator
// POST: Non-admin reads are refused (or allowed again) once the record is visible
func ExecuteSetLockdown(ctx context.Context, input SetLockdownInput, deps WriteDeps) (record.Record, error) {
	records, err := deps.load(ctx, input.Actor, true)
	if err != nil {
		return record.Record{}, err
	}
	active := input.Active
	rec, err := deps.commit(ctx, input.Actor, record.SystemConfig{EmergencyLockdown: &active})
	if err != nil {
		return rec, err
	}
	slog.Info("site_event", "event", "lockdown_set", "active", active, "by", input.Actor.MemberID)

	state := "disabled"
	if active {
		state = "enabled"
	}
	deps.notify(ctx, records, "lockdown",
		fmt.Sprintf("Emergency lockdown %s", state),
		fmt.Sprintf("Emergency lockdown was **%s** by %s at %s.", state, input.Actor.DisplayName, rec.Timestamp.Format("2006-01-02 15:04 MST")))
	return rec, nil
}

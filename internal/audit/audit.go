// Package audit records security-relevant events to a durable trail and
// mirrors them to the structured log. Recording is best effort: a failed
// write never blocks the authentication flow that triggered it.
package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nimbusops/iam-engine/internal/repository"
)

// Event types written to the trail.
const (
	EventLoginSuccess         = "login.success"
	EventLoginFailed          = "login.failed"
	EventLoginLocked          = "login.locked"
	EventLoginBlockedDevice   = "login.blocked_device"
	EventContextSelected      = "context.selected"
	EventContextDenied        = "context.denied"
	EventTwoFactorVerified    = "2fa.verified"
	EventTwoFactorFailed      = "2fa.failed"
	EventTwoFactorEnabled     = "2fa.enabled"
	EventTwoFactorDisabled    = "2fa.disabled"
	EventBackupCodeUsed       = "2fa.backup_code_used"
	EventTokenRefreshed       = "token.refreshed"
	EventTokenReplayed        = "token.replayed"
	EventSessionEvicted       = "session.evicted"
	EventSessionRevoked       = "session.revoked"
	EventLogout               = "session.logout"
	EventPasswordChanged      = "password.changed"
	EventDeviceRegistered     = "device.registered"
	EventDeviceTrusted        = "device.trusted"
	EventDeviceBlocked        = "device.blocked"
	EventDeviceUnblocked      = "device.unblocked"
)

// Entry is one event to record. Optional fields stay nil when the flow
// has not established them yet, e.g. no session exists before login
// completes.
type Entry struct {
	UserID    *string
	TenantID  *string
	SessionID *string
	DeviceID  *string
	EventType string
	IPAddress string
	UserAgent string
	Success   bool
	Details   string
}

// Recorder appends entries to the audit trail.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type recorder struct {
	events *repository.SecurityEventRepository
	log    zerolog.Logger
}

func NewRecorder(events *repository.SecurityEventRepository, log zerolog.Logger) Recorder {
	return &recorder{events: events, log: log}
}

func (r *recorder) Record(ctx context.Context, entry Entry) {
	ev := r.log.Info()
	if !entry.Success {
		ev = r.log.Warn()
	}
	ev.Str("event_type", entry.EventType).
		Str("ip", entry.IPAddress).
		Bool("success", entry.Success)
	if entry.UserID != nil {
		ev.Str("user_id", *entry.UserID)
	}
	if entry.TenantID != nil {
		ev.Str("tenant_id", *entry.TenantID)
	}
	if entry.Details != "" {
		ev.Str("details", entry.Details)
	}
	ev.Msg("security event")

	err := r.events.Create(ctx, &repository.SecurityEvent{
		UserID:    entry.UserID,
		TenantID:  entry.TenantID,
		SessionID: entry.SessionID,
		DeviceID:  entry.DeviceID,
		EventType: entry.EventType,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Success:   entry.Success,
		Details:   entry.Details,
	})
	if err != nil {
		r.log.Error().Err(err).Str("event_type", entry.EventType).Msg("failed to persist security event")
	}
}

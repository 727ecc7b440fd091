package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nimbusops/iam-engine/internal/audit"
	"github.com/nimbusops/iam-engine/internal/repository"
)

type SessionService struct {
	sessions       SessionStore
	tokens         TokenStore
	tenants        TenantStore
	auditor        audit.Recorder
	defaultTimeout time.Duration
	log            zerolog.Logger
}

func NewSessionService(sessions SessionStore, tokens TokenStore, tenants TenantStore, auditor audit.Recorder, defaultTimeout time.Duration, log zerolog.Logger) *SessionService {
	return &SessionService{
		sessions:       sessions,
		tokens:         tokens,
		tenants:        tenants,
		auditor:        auditor,
		defaultTimeout: defaultTimeout,
		log:            log,
	}
}

// ListSessions returns the user's active sessions, optionally restricted
// to one tenant.
func (s *SessionService) ListSessions(ctx context.Context, userID, tenantID string) ([]*repository.Session, error) {
	return s.sessions.ListActiveByUser(ctx, userID, tenantID)
}

// RevokeSession terminates one of the user's sessions together with its
// refresh tokens. Revoking an already-dead session succeeds silently.
func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.UserID != userID {
		return ErrSessionNotFound
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	if err := s.tokens.RevokeBySession(ctx, sessionID); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		TenantID:  session.TenantID,
		SessionID: &sessionID,
		EventType: audit.EventSessionRevoked,
		Success:   true,
	})
	return nil
}

// RevokeOtherSessions terminates every session of the user except the
// current one, returning how many were revoked.
func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID, currentSessionID string) (int, error) {
	others, err := s.sessions.ListActiveByUser(ctx, userID, "")
	if err != nil {
		return 0, err
	}

	revoked, err := s.sessions.RevokeOthers(ctx, userID, currentSessionID)
	if err != nil {
		return 0, err
	}
	for _, session := range others {
		if session.ID == currentSessionID {
			continue
		}
		if err := s.tokens.RevokeBySession(ctx, session.ID); err != nil {
			return revoked, err
		}
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		SessionID: &currentSessionID,
		EventType: audit.EventSessionRevoked,
		Success:   true,
		Details:   fmt.Sprintf("revoked %d other sessions", revoked),
	})
	return revoked, nil
}

// ValidateActivity checks a session against its tenant's inactivity
// timeout and stamps fresh activity when it passes. A session idle past
// the timeout is revoked and reported as not found.
func (s *SessionService) ValidateActivity(ctx context.Context, sessionID string) (*repository.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	now := time.Now()
	if !session.Active(now) {
		return nil, ErrSessionNotFound
	}
	timeout, err := s.inactivityTimeout(ctx, session)
	if err != nil {
		return nil, err
	}
	if timeout > 0 && now.Sub(session.LastActivityAt) > timeout {
		if err := s.sessions.Revoke(ctx, sessionID); err != nil {
			return nil, err
		}
		if err := s.tokens.RevokeBySession(ctx, sessionID); err != nil {
			return nil, err
		}
		s.auditor.Record(ctx, audit.Entry{
			UserID:    &session.UserID,
			TenantID:  session.TenantID,
			SessionID: &sessionID,
			EventType: audit.EventSessionRevoked,
			Success:   true,
			Details:   "inactivity timeout",
		})
		return nil, ErrSessionNotFound
	}

	if err := s.sessions.TouchActivity(ctx, sessionID); err != nil {
		return nil, err
	}
	session.LastActivityAt = now
	return session, nil
}

// inactivityTimeout resolves the sliding-window timeout from the owning
// tenant's policy, falling back to the process default. A session whose
// membership has since disappeared keeps the default.
func (s *SessionService) inactivityTimeout(ctx context.Context, session *repository.Session) (time.Duration, error) {
	if session.TenantID == nil {
		return s.defaultTimeout, nil
	}
	mc, err := s.tenants.GetMembershipContext(ctx, session.UserID, *session.TenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.defaultTimeout, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load tenant policy: %w", err)
	}
	if mc.SessionTimeoutMinutes > 0 {
		return time.Duration(mc.SessionTimeoutMinutes) * time.Minute, nil
	}
	return s.defaultTimeout, nil
}

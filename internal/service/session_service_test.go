package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusops/iam-engine/internal/repository"
)

func newSessionHarness(defaultTimeout time.Duration) (*SessionService, *fakeSessionStore, *fakeTokenStore, *fakeTenantStore, *fakeAuditor) {
	sessions := newFakeSessionStore()
	tokens := newFakeTokenStore()
	tenants := newFakeTenantStore()
	auditor := &fakeAuditor{}
	svc := NewSessionService(sessions, tokens, tenants, auditor, defaultTimeout, zerolog.Nop())
	return svc, sessions, tokens, tenants, auditor
}

func seedSession(t *testing.T, sessions *fakeSessionStore, userID, tenantID string) *repository.Session {
	t.Helper()
	session := &repository.Session{
		UserID:    userID,
		TenantID:  &tenantID,
		ExpiresAt: time.Now().Add(8 * time.Hour),
	}
	_, err := sessions.CreateEnforcingLimit(context.Background(), session, 0)
	require.NoError(t, err)
	return session
}

func TestRevokeSessionChecksOwnership(t *testing.T) {
	svc, sessions, tokens, _, auditor := newSessionHarness(30 * time.Minute)
	ctx := context.Background()

	session := seedSession(t, sessions, "u1", "t1")
	require.NoError(t, tokens.Create(ctx, &repository.RefreshToken{
		UserID:    "u1",
		SessionID: session.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, "raw-refresh"))

	assert.ErrorIs(t, svc.RevokeSession(ctx, "u2", session.ID), ErrSessionNotFound)
	assert.ErrorIs(t, svc.RevokeSession(ctx, "u1", "nope"), ErrSessionNotFound)

	require.NoError(t, svc.RevokeSession(ctx, "u1", session.ID))
	assert.NotNil(t, session.RevokedAt)
	assert.Equal(t, 1, auditor.count("session.revoked"))

	token, err := tokens.GetByRawToken(ctx, "raw-refresh")
	require.NoError(t, err)
	assert.NotNil(t, token.RevokedAt)
}

func TestRevokeOtherSessionsKeepsCurrent(t *testing.T) {
	svc, sessions, _, _, _ := newSessionHarness(30 * time.Minute)
	ctx := context.Background()

	current := seedSession(t, sessions, "u1", "t1")
	other1 := seedSession(t, sessions, "u1", "t1")
	other2 := seedSession(t, sessions, "u1", "t2")
	foreign := seedSession(t, sessions, "u2", "t1")

	revoked, err := svc.RevokeOtherSessions(ctx, "u1", current.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)
	assert.Nil(t, current.RevokedAt)
	assert.NotNil(t, other1.RevokedAt)
	assert.NotNil(t, other2.RevokedAt)
	assert.Nil(t, foreign.RevokedAt)
}

func TestValidateActivityEnforcesInactivityTimeout(t *testing.T) {
	svc, sessions, _, _, auditor := newSessionHarness(30 * time.Minute)
	ctx := context.Background()

	session := seedSession(t, sessions, "u1", "t1")
	session.LastActivityAt = time.Now().Add(-time.Hour)

	_, err := svc.ValidateActivity(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NotNil(t, session.RevokedAt)

	entry := auditor.last("session.revoked")
	require.NotNil(t, entry)
	assert.Equal(t, "inactivity timeout", entry.Details)
}

func TestValidateActivitySlidesWindow(t *testing.T) {
	svc, sessions, _, _, _ := newSessionHarness(30 * time.Minute)
	ctx := context.Background()

	session := seedSession(t, sessions, "u1", "t1")
	session.LastActivityAt = time.Now().Add(-10 * time.Minute)

	validated, err := svc.ValidateActivity(ctx, session.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), validated.LastActivityAt, time.Second)
}

func TestValidateActivityUsesTenantTimeout(t *testing.T) {
	svc, sessions, _, tenants, _ := newSessionHarness(30 * time.Minute)
	ctx := context.Background()

	tenants.memberships = append(tenants.memberships, &repository.MembershipContext{
		UserID:                "u1",
		TenantID:              "t-strict",
		MembershipActive:      true,
		TenantActive:          true,
		SessionTimeoutMinutes: 5,
	}, &repository.MembershipContext{
		UserID:                "u1",
		TenantID:              "t-lax",
		MembershipActive:      true,
		TenantActive:          true,
		SessionTimeoutMinutes: 120,
	})

	// Ten minutes idle is within the process default but past the
	// strict tenant's window.
	strict := seedSession(t, sessions, "u1", "t-strict")
	strict.LastActivityAt = time.Now().Add(-10 * time.Minute)
	_, err := svc.ValidateActivity(ctx, strict.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NotNil(t, strict.RevokedAt)

	// Forty minutes idle exceeds the default but not the lax tenant's
	// window.
	lax := seedSession(t, sessions, "u1", "t-lax")
	lax.LastActivityAt = time.Now().Add(-40 * time.Minute)
	_, err = svc.ValidateActivity(ctx, lax.ID)
	require.NoError(t, err)
}

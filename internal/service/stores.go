package service

import (
	"context"
	"time"

	"github.com/nimbusops/iam-engine/internal/repository"
)

// Store interfaces are defined here, on the consumer side, and satisfied
// by the pgx repositories. Tests substitute in-memory fakes.

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	GetByID(ctx context.Context, id string) (*repository.User, error)
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration) (int, error)
	ResetLockout(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetTwoFactorSecret(ctx context.Context, id, secret string) error
	EnableTwoFactor(ctx context.Context, id string) error
	DisableTwoFactor(ctx context.Context, id string) error
}

type TenantStore interface {
	GetByID(ctx context.Context, id string) (*repository.Tenant, error)
	ListMembershipContexts(ctx context.Context, userID string) ([]*repository.MembershipContext, error)
	GetMembershipContext(ctx context.Context, userID, tenantID string) (*repository.MembershipContext, error)
	GetRolePermissions(ctx context.Context, roleID string) ([]string, error)
}

type SessionStore interface {
	CreateEnforcingLimit(ctx context.Context, session *repository.Session, maxSessions int) (string, error)
	GetByID(ctx context.Context, id string) (*repository.Session, error)
	ListActiveByUser(ctx context.Context, userID, tenantID string) ([]*repository.Session, error)
	TouchActivity(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	RevokeOthers(ctx context.Context, userID, keepSessionID string) (int, error)
}

type TokenStore interface {
	Create(ctx context.Context, token *repository.RefreshToken, rawToken string) error
	GetByRawToken(ctx context.Context, rawToken string) (*repository.RefreshToken, error)
	Rotate(ctx context.Context, oldRaw string, newToken *repository.RefreshToken, newRaw string) (*repository.RefreshToken, error)
	RevokeChain(ctx context.Context, tokenID string) (int, error)
	RevokeBySession(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

type DeviceStore interface {
	Create(ctx context.Context, device *repository.UserDevice) error
	GetByFingerprint(ctx context.Context, userID, fingerprint string) (*repository.UserDevice, error)
	GetByID(ctx context.Context, userID, deviceID string) (*repository.UserDevice, error)
	ListByUser(ctx context.Context, userID string) ([]*repository.UserDevice, error)
	RecordSeen(ctx context.Context, deviceID, ipAddress string, increment int) error
	SetTrusted(ctx context.Context, deviceID string, trusted bool) error
	SetBlocked(ctx context.Context, deviceID string, blocked bool, reason string) error
}

type BackupCodeStore interface {
	Replace(ctx context.Context, userID string, hashes []string) error
	ListUnused(ctx context.Context, userID string) ([]*repository.BackupCode, error)
	Consume(ctx context.Context, codeID string) error
	CountUnused(ctx context.Context, userID string) (int, error)
	DeleteAll(ctx context.Context, userID string) error
}

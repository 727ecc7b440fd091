package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nimbusops/iam-engine/internal/audit"
	"github.com/nimbusops/iam-engine/internal/cache"
	"github.com/nimbusops/iam-engine/internal/permissions"
	"github.com/nimbusops/iam-engine/internal/repository"
	"github.com/nimbusops/iam-engine/pkg/password"
	"github.com/nimbusops/iam-engine/pkg/publicid"
	"github.com/nimbusops/iam-engine/pkg/token"
)

// Entity type tags for obfuscated identifiers.
const (
	entityTenant     = "tenant"
	entityMembership = "membership"
)

// AuthPolicy holds the tenant-default security knobs applied during
// authentication.
type AuthPolicy struct {
	LockoutThreshold        int
	LockoutDuration         time.Duration
	PendingAuthTTL          time.Duration
	RefreshTokenTTL         time.Duration
	SessionTTL              time.Duration
	SkipTwoFactorForTrusted bool
}

// AuthService orchestrates the two-phase authentication flow: credential
// verification yields an intermediate pending identity, and tokens exist
// only after an explicit tenant context selection.
type AuthService struct {
	users       UserStore
	tenants     TenantStore
	sessions    SessionStore
	tokens      TokenStore
	devices     *DeviceService
	twoFactor   *TwoFactorService
	permissions *permissions.Manager
	tokenMgr    *token.Manager
	publicIDs   *publicid.Obfuscator
	cache       cache.Cache
	auditor     audit.Recorder
	policy      AuthPolicy
	log         zerolog.Logger
}

func NewAuthService(
	users UserStore,
	tenants TenantStore,
	sessions SessionStore,
	tokens TokenStore,
	devices *DeviceService,
	twoFactor *TwoFactorService,
	perms *permissions.Manager,
	tokenMgr *token.Manager,
	publicIDs *publicid.Obfuscator,
	c cache.Cache,
	auditor audit.Recorder,
	policy AuthPolicy,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		tenants:     tenants,
		sessions:    sessions,
		tokens:      tokens,
		devices:     devices,
		twoFactor:   twoFactor,
		permissions: perms,
		tokenMgr:    tokenMgr,
		publicIDs:   publicIDs,
		cache:       c,
		auditor:     auditor,
		policy:      policy,
		log:         log,
	}
}

type LoginRequest struct {
	Email      string
	Password   string
	DeviceID   string
	DeviceName string
	UserAgent  string
	IPAddress  string
}

// TenantOption is one tenant the authenticated user may select. The ids
// are obfuscated public identifiers.
type TenantOption struct {
	TenantID     string
	TenantCode   string
	TenantName   string
	MembershipID string
	RoleName     string
	RequireMFA   bool
	IsActive     bool
}

// LoginResult is the intermediate identity: no tokens, only the pending
// handle plus either the 2FA demand or the selectable tenants. While the
// second factor is outstanding the display fields and tenant list stay
// empty; VerifyTwoFactor releases them.
type LoginResult struct {
	PendingToken      string
	RequiresTwoFactor bool
	Email             string
	FullName          string
	Tenants           []TenantOption
}

// TokenPair is the outcome of context selection or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	SessionID    string
	TenantCode   string
	RoleName     string
	Permissions  []string
}

// pendingAuth is the short-lived server-side record backing the pending
// token between login and context selection.
type pendingAuth struct {
	UserID            string `json:"user_id"`
	DeviceID          string `json:"device_id,omitempty"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	TwoFactorVerified bool   `json:"two_factor_verified"`
	TwoFactorSkipped  bool   `json:"two_factor_skipped"` // trusted-device skip
}

// Login verifies credentials and returns the intermediate identity. It
// never issues tokens: a caller holding a LoginResult can list tenants and
// nothing else.
//
// A blocked device fails before credentials are checked and does not touch
// the failed-attempt counter.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.recordLoginFailure(ctx, nil, req, "unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !user.IsActive {
		s.recordLoginFailure(ctx, &user.ID, req, "account inactive")
		return nil, ErrAccountInactive
	}

	now := time.Now()
	if user.Locked(now) {
		s.auditor.Record(ctx, audit.Entry{
			UserID:    &user.ID,
			EventType: audit.EventLoginLocked,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			Success:   false,
		})
		return nil, ErrAccountLocked
	}

	// Device gate runs before password verification: a blocked device
	// never reaches credential checking or lockout accounting.
	knownDevice, err := s.devices.FindKnown(ctx, user.ID, req.DeviceID, req.UserAgent, req.IPAddress)
	if err != nil {
		return nil, err
	}
	if knownDevice != nil && knownDevice.IsBlocked {
		s.auditor.Record(ctx, audit.Entry{
			UserID:    &user.ID,
			DeviceID:  &knownDevice.ID,
			EventType: audit.EventLoginBlockedDevice,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			Success:   false,
		})
		return nil, ErrDeviceBlocked
	}

	if user.PasswordHash == nil {
		s.recordLoginFailure(ctx, &user.ID, req, "no local password")
		return nil, ErrInvalidCredentials
	}
	ok, err := password.Verify(req.Password, *user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		attempts, err := s.users.RecordFailedLogin(ctx, user.ID, s.policy.LockoutThreshold, s.policy.LockoutDuration)
		if err != nil {
			return nil, err
		}
		if attempts >= s.policy.LockoutThreshold {
			s.auditor.Record(ctx, audit.Entry{
				UserID:    &user.ID,
				EventType: audit.EventLoginLocked,
				IPAddress: req.IPAddress,
				UserAgent: req.UserAgent,
				Success:   false,
				Details:   fmt.Sprintf("locked after %d failed attempts", attempts),
			})
		} else {
			s.recordLoginFailure(ctx, &user.ID, req, "wrong password")
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.users.ResetLockout(ctx, user.ID); err != nil {
		return nil, err
	}

	device, err := s.devices.RecordLogin(ctx, user.ID, req.DeviceID, req.DeviceName, req.UserAgent, req.IPAddress)
	if err != nil {
		return nil, err
	}

	contexts, err := s.tenants.ListMembershipContexts(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(contexts) == 0 {
		s.recordLoginFailure(ctx, &user.ID, req, "no tenant access")
		return nil, ErrNoTenantAccess
	}

	requires2FA := user.TwoFactorEnabled
	skipped := requires2FA && s.policy.SkipTwoFactorForTrusted && s.devices.Trusted(device)

	pendingToken, err := s.storePending(ctx, pendingAuth{
		UserID:            user.ID,
		DeviceID:          device.ID,
		TwoFactorRequired: requires2FA,
		TwoFactorSkipped:  skipped,
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &user.ID,
		DeviceID:  &device.ID,
		EventType: audit.EventLoginSuccess,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	// Nothing about the user's memberships is disclosed until the
	// second factor is proven.
	if requires2FA && !skipped {
		return &LoginResult{PendingToken: pendingToken, RequiresTwoFactor: true}, nil
	}

	options, err := s.tenantOptions(ctx, contexts)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		PendingToken: pendingToken,
		Email:        user.Email,
		FullName:     user.FullName(),
		Tenants:      options,
	}, nil
}

// tenantOptions maps membership contexts to the selectable-context list
// with obfuscated identifiers.
func (s *AuthService) tenantOptions(ctx context.Context, contexts []*repository.MembershipContext) ([]TenantOption, error) {
	options := make([]TenantOption, 0, len(contexts))
	for _, mc := range contexts {
		publicTenantID, err := s.publicIDs.ToPublicID(ctx, mc.TenantID, entityTenant)
		if err != nil {
			return nil, fmt.Errorf("failed to obfuscate tenant id: %w", err)
		}
		publicMembershipID, err := s.publicIDs.ToPublicID(ctx, mc.MembershipID, entityMembership)
		if err != nil {
			return nil, fmt.Errorf("failed to obfuscate membership id: %w", err)
		}
		options = append(options, TenantOption{
			TenantID:     publicTenantID,
			TenantCode:   mc.TenantCode,
			TenantName:   mc.TenantName,
			MembershipID: publicMembershipID,
			RoleName:     mc.RoleName,
			RequireMFA:   mc.TenantRequireMFA,
			IsActive:     mc.MembershipActive,
		})
	}
	return options, nil
}

// VerifyTwoFactor satisfies the second factor for a pending
// authentication and releases the tenant options withheld at login. The
// code may be a TOTP code or an unused backup code; both failure modes
// collapse to the same error.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, pendingToken, code, ipAddress, userAgent string) (*LoginResult, error) {
	pending, err := s.loadPending(ctx, pendingToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, pending.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	ok, usedBackup, err := s.twoFactor.VerifyCode(ctx, user, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.auditor.Record(ctx, audit.Entry{
			UserID:    &user.ID,
			EventType: audit.EventTwoFactorFailed,
			IPAddress: ipAddress,
			UserAgent: userAgent,
			Success:   false,
		})
		return nil, ErrTwoFactorInvalidCode
	}

	pending.TwoFactorVerified = true
	if err := s.updatePending(ctx, pendingToken, *pending); err != nil {
		return nil, err
	}

	eventType := audit.EventTwoFactorVerified
	if usedBackup {
		eventType = audit.EventBackupCodeUsed
	}
	s.auditor.Record(ctx, audit.Entry{
		UserID:    &user.ID,
		EventType: eventType,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	contexts, err := s.tenants.ListMembershipContexts(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	options, err := s.tenantOptions(ctx, contexts)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		PendingToken: pendingToken,
		Email:        user.Email,
		FullName:     user.FullName(),
		Tenants:      options,
	}, nil
}

// SelectContext exchanges a pending authentication and a tenant choice for
// scoped tokens. The membership is revalidated at selection time, the
// tenant's session cap is enforced, and the access token carries the
// permission snapshot resolved through the cache.
func (s *AuthService) SelectContext(ctx context.Context, pendingToken, publicTenantID, ipAddress, userAgent string) (*TokenPair, error) {
	pending, err := s.loadPending(ctx, pendingToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, pending.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	tenantID, err := s.publicIDs.FromPublicID(ctx, publicTenantID, entityTenant)
	if err != nil {
		return nil, ErrMembershipNotFound
	}

	mc, err := s.tenants.GetMembershipContext(ctx, user.ID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		s.recordContextDenied(ctx, user.ID, tenantID, ipAddress, userAgent, "no membership")
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !mc.TenantActive {
		s.recordContextDenied(ctx, user.ID, tenantID, ipAddress, userAgent, "tenant inactive")
		return nil, ErrTenantInactive
	}
	if !mc.Usable(now) {
		s.recordContextDenied(ctx, user.ID, tenantID, ipAddress, userAgent, "membership inactive")
		return nil, ErrMembershipNotFound
	}

	// A tenant can require MFA regardless of the user's own setting, and
	// the trusted-device skip never satisfies a tenant mandate.
	if mc.TenantRequireMFA && (!user.TwoFactorEnabled || !pending.TwoFactorVerified) {
		return nil, ErrTwoFactorRequired
	}
	if pending.TwoFactorRequired && !pending.TwoFactorVerified && !pending.TwoFactorSkipped {
		return nil, ErrTwoFactorRequired
	}

	perms, err := s.permissions.GetOrLoad(ctx, user.ID, mc.TenantID)
	if err != nil {
		return nil, err
	}

	sessionTTL := s.policy.SessionTTL
	if mc.SessionTimeoutMinutes > 0 {
		sessionTTL = time.Duration(mc.SessionTimeoutMinutes) * time.Minute
	}

	session := &repository.Session{
		UserID:    user.ID,
		TenantID:  &mc.TenantID,
		ExpiresAt: now.Add(sessionTTL),
	}
	if pending.DeviceID != "" {
		session.DeviceID = &pending.DeviceID
	}
	if ipAddress != "" {
		session.IPAddress = &ipAddress
	}
	if userAgent != "" {
		session.UserAgent = &userAgent
	}

	evictedID, err := s.sessions.CreateEnforcingLimit(ctx, session, mc.MaxConcurrentSessions)
	if err != nil {
		return nil, err
	}
	if evictedID != "" {
		if err := s.tokens.RevokeBySession(ctx, evictedID); err != nil {
			return nil, err
		}
		s.auditor.Record(ctx, audit.Entry{
			UserID:    &user.ID,
			TenantID:  &mc.TenantID,
			SessionID: &evictedID,
			EventType: audit.EventSessionEvicted,
			IPAddress: ipAddress,
			UserAgent: userAgent,
			Success:   true,
			Details:   "session limit reached",
		})
	}

	pair, err := s.issueTokens(ctx, user, mc, session, perms)
	if err != nil {
		return nil, err
	}

	s.deletePending(ctx, pendingToken)

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &user.ID,
		TenantID:  &mc.TenantID,
		SessionID: &session.ID,
		DeviceID:  session.DeviceID,
		EventType: audit.EventContextSelected,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})
	return pair, nil
}

// RefreshAccessToken rotates the refresh token and mints a fresh access
// token with a current permission snapshot. Presenting an already-rotated
// token burns the whole chain and the owning session.
func (s *AuthService) RefreshAccessToken(ctx context.Context, rawRefresh, ipAddress, userAgent string) (*TokenPair, error) {
	current, err := s.tokens.GetByRawToken(ctx, rawRefresh)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRefreshTokenInvalid
	}
	if err != nil {
		return nil, err
	}

	if current.RevokedAt != nil || current.ReplacedBy != nil {
		return nil, s.handleTokenReplay(ctx, current, ipAddress, userAgent)
	}

	now := time.Now()
	if current.ExpiresAt.Before(now) {
		return nil, ErrRefreshTokenInvalid
	}
	if current.TenantID == nil {
		return nil, ErrRefreshTokenInvalid
	}

	session, err := s.sessions.GetByID(ctx, current.SessionID)
	if err != nil {
		return nil, ErrRefreshTokenInvalid
	}
	if !session.Active(now) {
		return nil, ErrRefreshTokenInvalid
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil || !user.IsActive {
		return nil, ErrRefreshTokenInvalid
	}

	// The membership is revalidated on every refresh so a revoked grant
	// cuts access at the next rotation, not at token expiry.
	mc, err := s.tenants.GetMembershipContext(ctx, user.ID, *current.TenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.revokeSessionAccess(ctx, session, ErrMembershipNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !mc.TenantActive {
		return nil, s.revokeSessionAccess(ctx, session, ErrTenantInactive)
	}
	if !mc.Usable(now) {
		return nil, s.revokeSessionAccess(ctx, session, ErrMembershipNotFound)
	}

	newRaw, err := token.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	next := &repository.RefreshToken{
		UserID:    current.UserID,
		TenantID:  current.TenantID,
		SessionID: current.SessionID,
		DeviceID:  current.DeviceID,
		ExpiresAt: now.Add(s.policy.RefreshTokenTTL),
	}
	if _, err := s.tokens.Rotate(ctx, rawRefresh, next, newRaw); err != nil {
		if errors.Is(err, repository.ErrTokenRotated) {
			return nil, s.handleTokenReplay(ctx, current, ipAddress, userAgent)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, err
	}

	if err := s.sessions.TouchActivity(ctx, session.ID); err != nil {
		return nil, err
	}

	perms, err := s.permissions.GetOrLoad(ctx, user.ID, mc.TenantID)
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.tokenMgr.IssueAccessToken(token.AccessTokenInput{
		UserID:      user.ID,
		Email:       user.Email,
		TenantID:    mc.TenantID,
		TenantCode:  mc.TenantCode,
		RoleName:    mc.RoleName,
		SessionID:   session.ID,
		Permissions: perms,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &user.ID,
		TenantID:  &mc.TenantID,
		SessionID: &session.ID,
		EventType: audit.EventTokenRefreshed,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRaw,
		ExpiresAt:    expiresAt,
		SessionID:    session.ID,
		TenantCode:   mc.TenantCode,
		RoleName:     mc.RoleName,
		Permissions:  perms,
	}, nil
}

// Logout terminates the session and its refresh tokens. Idempotent: a
// second logout of the same session succeeds.
func (s *AuthService) Logout(ctx context.Context, sessionID, ipAddress, userAgent string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	if err := s.tokens.RevokeBySession(ctx, sessionID); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &session.UserID,
		TenantID:  session.TenantID,
		SessionID: &sessionID,
		EventType: audit.EventLogout,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})
	return nil
}

// ChangePassword replaces the user's password after re-proving the current
// one, then revokes every session and refresh token so stolen credentials
// die with the change.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	ok, err := password.Verify(currentPassword, *user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	hash, err := password.Hash(newPassword, password.DefaultParams())
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	if err := s.permissions.InvalidateUser(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate permissions cache")
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		EventType: audit.EventPasswordChanged,
		Success:   true,
	})
	return nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *repository.User, mc *repository.MembershipContext, session *repository.Session, perms []string) (*TokenPair, error) {
	accessToken, expiresAt, err := s.tokenMgr.IssueAccessToken(token.AccessTokenInput{
		UserID:      user.ID,
		Email:       user.Email,
		TenantID:    mc.TenantID,
		TenantCode:  mc.TenantCode,
		RoleName:    mc.RoleName,
		SessionID:   session.ID,
		Permissions: perms,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	rawRefresh, err := token.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	refresh := &repository.RefreshToken{
		UserID:    user.ID,
		TenantID:  &mc.TenantID,
		SessionID: session.ID,
		DeviceID:  session.DeviceID,
		ExpiresAt: time.Now().Add(s.policy.RefreshTokenTTL),
	}
	if err := s.tokens.Create(ctx, refresh, rawRefresh); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresAt:    expiresAt,
		SessionID:    session.ID,
		TenantCode:   mc.TenantCode,
		RoleName:     mc.RoleName,
		Permissions:  perms,
	}, nil
}

// handleTokenReplay burns the full rotation chain and the owning session,
// then reports reuse.
func (s *AuthService) handleTokenReplay(ctx context.Context, replayed *repository.RefreshToken, ipAddress, userAgent string) error {
	if _, err := s.tokens.RevokeChain(ctx, replayed.ID); err != nil {
		s.log.Error().Err(err).Str("token_id", replayed.ID).Msg("failed to revoke token chain")
	}
	if err := s.sessions.Revoke(ctx, replayed.SessionID); err != nil {
		s.log.Error().Err(err).Str("session_id", replayed.SessionID).Msg("failed to revoke session")
	}
	if err := s.tokens.RevokeBySession(ctx, replayed.SessionID); err != nil {
		s.log.Error().Err(err).Str("session_id", replayed.SessionID).Msg("failed to revoke session tokens")
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &replayed.UserID,
		TenantID:  replayed.TenantID,
		SessionID: &replayed.SessionID,
		EventType: audit.EventTokenReplayed,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   false,
	})
	return ErrRefreshTokenReused
}

func (s *AuthService) revokeSessionAccess(ctx context.Context, session *repository.Session, cause error) error {
	if err := s.sessions.Revoke(ctx, session.ID); err != nil {
		return err
	}
	if err := s.tokens.RevokeBySession(ctx, session.ID); err != nil {
		return err
	}
	return cause
}

func (s *AuthService) recordLoginFailure(ctx context.Context, userID *string, req LoginRequest, details string) {
	s.auditor.Record(ctx, audit.Entry{
		UserID:    userID,
		EventType: audit.EventLoginFailed,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   false,
		Details:   details,
	})
}

func (s *AuthService) recordContextDenied(ctx context.Context, userID, tenantID, ipAddress, userAgent, details string) {
	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		TenantID:  &tenantID,
		EventType: audit.EventContextDenied,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   false,
		Details:   details,
	})
}

func pendingKey(pendingToken string) string {
	return "pending:" + pendingToken
}

func (s *AuthService) storePending(ctx context.Context, pending pendingAuth) (string, error) {
	pendingToken, err := token.NewRefreshToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate pending token: %w", err)
	}
	if err := s.updatePending(ctx, pendingToken, pending); err != nil {
		return "", err
	}
	return pendingToken, nil
}

func (s *AuthService) updatePending(ctx context.Context, pendingToken string, pending pendingAuth) error {
	encoded, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending auth: %w", err)
	}
	if err := s.cache.Set(ctx, pendingKey(pendingToken), string(encoded), s.policy.PendingAuthTTL); err != nil {
		return fmt.Errorf("failed to store pending auth: %w", err)
	}
	return nil
}

func (s *AuthService) loadPending(ctx context.Context, pendingToken string) (*pendingAuth, error) {
	raw, ok, err := s.cache.Get(ctx, pendingKey(pendingToken))
	if err != nil {
		return nil, fmt.Errorf("failed to load pending auth: %w", err)
	}
	if !ok {
		return nil, ErrPendingAuthExpired
	}
	pending := &pendingAuth{}
	if err := json.Unmarshal([]byte(raw), pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending auth: %w", err)
	}
	return pending, nil
}

func (s *AuthService) deletePending(ctx context.Context, pendingToken string) {
	if err := s.cache.Delete(ctx, pendingKey(pendingToken)); err != nil {
		s.log.Warn().Err(err).Msg("failed to delete pending auth")
	}
}

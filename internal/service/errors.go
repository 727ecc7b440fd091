package service

import "errors"

// Caller-visible failures. Handlers map these to HTTP statuses; anything
// else that escapes a service is a 500.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account is locked")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrDeviceBlocked        = errors.New("device is blocked")
	ErrNoTenantAccess       = errors.New("no tenant access")
	ErrPendingAuthExpired   = errors.New("pending authentication expired")
	ErrTwoFactorRequired    = errors.New("two-factor verification required")
	ErrTwoFactorInvalidCode = errors.New("invalid two-factor code")
	ErrTwoFactorNotEnabled  = errors.New("two-factor is not enabled")
	ErrMembershipNotFound   = errors.New("no membership in tenant")
	ErrTenantInactive       = errors.New("tenant is inactive")
	ErrRefreshTokenInvalid  = errors.New("invalid refresh token")
	ErrRefreshTokenReused   = errors.New("refresh token reuse detected")
	ErrSessionNotFound      = errors.New("session not found")
	ErrDeviceNotFound       = errors.New("device not found")
)

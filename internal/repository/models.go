package repository

import "time"

// User is an identity record shared by every tenant. Users are never hard
// deleted: deactivation clears IsActive and leaves the row in place.
type User struct {
	ID                  string
	Email               string
	PasswordHash        *string // nil for external-IdP users
	FirstName           string
	LastName            string
	TwoFactorSecret     *string
	TwoFactorEnabled    bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	IsActive            bool
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// FullName joins the user's name parts.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Locked reports whether a lockout window is currently active.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Tenant is an isolated organization sharing the identity store.
type Tenant struct {
	ID                    string
	Code                  string
	Name                  string
	RequireMFA            bool
	SessionTimeoutMinutes int
	MaxConcurrentSessions int
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TenantMembership grants a user a role inside one tenant. At most one
// active membership exists per (user, tenant) pair.
type TenantMembership struct {
	ID        string
	UserID    string
	TenantID  string
	RoleID    string
	IsActive  bool
	GrantedAt time.Time
	ExpiresAt *time.Time
}

// Role is a named bundle of permissions, tenant-scoped or global.
// System roles are immutable.
type Role struct {
	ID       string
	TenantID *string // nil for global roles
	Name     string
	IsSystem bool
}

// MembershipContext is the fully-loaded membership→tenant→role join used
// during login and context selection. No lazy navigation: one query loads
// everything the orchestrator needs.
type MembershipContext struct {
	MembershipID          string
	UserID                string
	TenantID              string
	TenantCode            string
	TenantName            string
	RoleID                string
	RoleName              string
	MembershipActive      bool
	MembershipExpiresAt   *time.Time
	TenantActive          bool
	TenantRequireMFA      bool
	SessionTimeoutMinutes int
	MaxConcurrentSessions int
}

// Usable reports whether this membership can back a context selection.
func (mc *MembershipContext) Usable(now time.Time) bool {
	if !mc.MembershipActive || !mc.TenantActive {
		return false
	}
	if mc.MembershipExpiresAt != nil && mc.MembershipExpiresAt.Before(now) {
		return false
	}
	return true
}

// Session is one authenticated device-bound context. TenantID is set at
// context selection; RevokedAt terminates it.
type Session struct {
	ID             string
	UserID         string
	TenantID       *string
	DeviceID       *string // device fingerprint
	IPAddress      *string
	UserAgent      *string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
	RevokedAt      *time.Time
}

// Active reports whether the session is neither revoked nor expired.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// RefreshToken is an opaque single-use-per-rotation secret, stored hashed.
// ReplacedBy links rotation chains so reuse can revoke the whole lineage.
type RefreshToken struct {
	ID         string
	UserID     string
	TenantID   *string
	SessionID  string
	TokenHash  string
	DeviceID   *string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string // successor token id once rotated
	CreatedAt  time.Time
}

// UserDevice is a fingerprinted client device with an accumulated trust
// score between 0 and 100.
type UserDevice struct {
	ID            string
	UserID        string
	Fingerprint   string
	DeviceName    *string
	LastIPAddress *string
	TrustScore    int
	IsTrusted     bool
	IsBlocked     bool
	BlockReason   *string
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// BackupCode is a single-use two-factor recovery code, hashed at rest.
// UsedAt is set atomically on consumption.
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// SecurityEvent is one structured entry in the security audit trail.
type SecurityEvent struct {
	ID         string
	UserID     *string
	TenantID   *string
	SessionID  *string
	DeviceID   *string
	EventType  string
	IPAddress  string
	UserAgent  string
	Success    bool
	Details    string
	OccurredAt time.Time
}

package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusops/iam-engine/internal/audit"
	"github.com/nimbusops/iam-engine/internal/repository"
)

// In-memory store fakes backing the service tests.

type fakeUserStore struct {
	users map[string]*repository.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*repository.User{}}
}

func (f *fakeUserStore) add(user *repository.User) *repository.User {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	f.users[user.ID] = user
	return user
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*repository.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserStore) RecordFailedLogin(_ context.Context, id string, threshold int, lockFor time.Duration) (int, error) {
	user, ok := f.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= threshold {
		until := time.Now().Add(lockFor)
		user.LockedUntil = &until
	}
	return user.FailedLoginAttempts, nil
}

func (f *fakeUserStore) ResetLockout(_ context.Context, id string) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	now := time.Now()
	user.LastLoginAt = &now
	return nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = &passwordHash
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	return nil
}

func (f *fakeUserStore) SetTwoFactorSecret(_ context.Context, id, secret string) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.TwoFactorSecret = &secret
	return nil
}

func (f *fakeUserStore) EnableTwoFactor(_ context.Context, id string) error {
	user, ok := f.users[id]
	if !ok || user.TwoFactorSecret == nil {
		return repository.ErrNotFound
	}
	user.TwoFactorEnabled = true
	return nil
}

func (f *fakeUserStore) DisableTwoFactor(_ context.Context, id string) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.TwoFactorEnabled = false
	user.TwoFactorSecret = nil
	return nil
}

type fakeTenantStore struct {
	tenants     map[string]*repository.Tenant
	memberships []*repository.MembershipContext
	rolePerms   map[string][]string
}

func newFakeTenantStore() *fakeTenantStore {
	return &fakeTenantStore{
		tenants:   map[string]*repository.Tenant{},
		rolePerms: map[string][]string{},
	}
}

func (f *fakeTenantStore) GetByID(_ context.Context, id string) (*repository.Tenant, error) {
	tenant, ok := f.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return tenant, nil
}

func (f *fakeTenantStore) ListMembershipContexts(_ context.Context, userID string) ([]*repository.MembershipContext, error) {
	now := time.Now()
	var out []*repository.MembershipContext
	for _, mc := range f.memberships {
		if mc.UserID == userID && mc.TenantActive && mc.Usable(now) {
			out = append(out, mc)
		}
	}
	return out, nil
}

func (f *fakeTenantStore) GetMembershipContext(_ context.Context, userID, tenantID string) (*repository.MembershipContext, error) {
	for _, mc := range f.memberships {
		if mc.UserID == userID && mc.TenantID == tenantID {
			return mc, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTenantStore) GetRolePermissions(_ context.Context, roleID string) ([]string, error) {
	return f.rolePerms[roleID], nil
}

type fakeSessionStore struct {
	sessions map[string]*repository.Session
	seq      int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*repository.Session{}}
}

func (f *fakeSessionStore) active(userID, tenantID string) []*repository.Session {
	now := time.Now()
	var out []*repository.Session
	for _, s := range f.sessions {
		if s.UserID != userID || !s.Active(now) {
			continue
		}
		if tenantID != "" && (s.TenantID == nil || *s.TenantID != tenantID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.Before(out[j].LastActivityAt)
	})
	return out
}

func (f *fakeSessionStore) CreateEnforcingLimit(_ context.Context, session *repository.Session, maxSessions int) (string, error) {
	var evictedID string
	tenantID := ""
	if session.TenantID != nil {
		tenantID = *session.TenantID
	}
	live := f.active(session.UserID, tenantID)
	if maxSessions > 0 && len(live) >= maxSessions {
		oldest := live[0]
		now := time.Now()
		oldest.RevokedAt = &now
		evictedID = oldest.ID
	}

	f.seq++
	session.ID = fmt.Sprintf("session-%d", f.seq)
	session.CreatedAt = time.Now()
	session.LastActivityAt = session.CreatedAt.Add(time.Duration(f.seq) * time.Millisecond)
	f.sessions[session.ID] = session
	return evictedID, nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id string) (*repository.Session, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return session, nil
}

func (f *fakeSessionStore) ListActiveByUser(_ context.Context, userID, tenantID string) ([]*repository.Session, error) {
	return f.active(userID, tenantID), nil
}

func (f *fakeSessionStore) TouchActivity(_ context.Context, id string) error {
	if session, ok := f.sessions[id]; ok && session.RevokedAt == nil {
		session.LastActivityAt = time.Now()
	}
	return nil
}

func (f *fakeSessionStore) Revoke(_ context.Context, id string) error {
	if session, ok := f.sessions[id]; ok && session.RevokedAt == nil {
		now := time.Now()
		session.RevokedAt = &now
	}
	return nil
}

func (f *fakeSessionStore) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	count := 0
	now := time.Now()
	for _, session := range f.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			session.RevokedAt = &now
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionStore) RevokeOthers(_ context.Context, userID, keepSessionID string) (int, error) {
	count := 0
	now := time.Now()
	for _, session := range f.sessions {
		if session.UserID == userID && session.ID != keepSessionID && session.RevokedAt == nil {
			session.RevokedAt = &now
			count++
		}
	}
	return count, nil
}

type fakeTokenStore struct {
	tokens map[string]*repository.RefreshToken // by id
	byHash map[string]string                   // hash -> id
	seq    int
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{
		tokens: map[string]*repository.RefreshToken{},
		byHash: map[string]string{},
	}
}

func (f *fakeTokenStore) Create(_ context.Context, token *repository.RefreshToken, rawToken string) error {
	f.seq++
	token.ID = fmt.Sprintf("token-%d", f.seq)
	token.TokenHash = repository.HashToken(rawToken)
	token.CreatedAt = time.Now()
	f.tokens[token.ID] = token
	f.byHash[token.TokenHash] = token.ID
	return nil
}

func (f *fakeTokenStore) GetByRawToken(_ context.Context, rawToken string) (*repository.RefreshToken, error) {
	id, ok := f.byHash[repository.HashToken(rawToken)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.tokens[id], nil
}

func (f *fakeTokenStore) Rotate(ctx context.Context, oldRaw string, newToken *repository.RefreshToken, newRaw string) (*repository.RefreshToken, error) {
	old, err := f.GetByRawToken(ctx, oldRaw)
	if err != nil {
		return nil, err
	}
	if old.RevokedAt != nil || old.ReplacedBy != nil {
		return old, repository.ErrTokenRotated
	}
	if old.ExpiresAt.Before(time.Now()) {
		return old, repository.ErrNotFound
	}
	if err := f.Create(ctx, newToken, newRaw); err != nil {
		return nil, err
	}
	now := time.Now()
	old.RevokedAt = &now
	old.ReplacedBy = &newToken.ID
	return old, nil
}

func (f *fakeTokenStore) RevokeChain(_ context.Context, tokenID string) (int, error) {
	count := 0
	now := time.Now()
	for id := tokenID; id != ""; {
		token, ok := f.tokens[id]
		if !ok {
			break
		}
		if token.RevokedAt == nil {
			token.RevokedAt = &now
			count++
		}
		if token.ReplacedBy == nil {
			break
		}
		id = *token.ReplacedBy
	}
	return count, nil
}

func (f *fakeTokenStore) RevokeBySession(_ context.Context, sessionID string) error {
	now := time.Now()
	for _, token := range f.tokens {
		if token.SessionID == sessionID && token.RevokedAt == nil {
			token.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeTokenStore) RevokeAllForUser(_ context.Context, userID string) error {
	now := time.Now()
	for _, token := range f.tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			token.RevokedAt = &now
		}
	}
	return nil
}

type fakeDeviceStore struct {
	devices map[string]*repository.UserDevice
	seq     int
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: map[string]*repository.UserDevice{}}
}

func (f *fakeDeviceStore) Create(_ context.Context, device *repository.UserDevice) error {
	f.seq++
	device.ID = fmt.Sprintf("device-%d", f.seq)
	now := time.Now()
	device.FirstSeenAt = now
	device.LastSeenAt = now
	f.devices[device.ID] = device
	return nil
}

func (f *fakeDeviceStore) GetByFingerprint(_ context.Context, userID, fingerprint string) (*repository.UserDevice, error) {
	for _, device := range f.devices {
		if device.UserID == userID && device.Fingerprint == fingerprint {
			snapshot := *device
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDeviceStore) GetByID(_ context.Context, userID, deviceID string) (*repository.UserDevice, error) {
	device, ok := f.devices[deviceID]
	if !ok || device.UserID != userID {
		return nil, repository.ErrNotFound
	}
	snapshot := *device
	return &snapshot, nil
}

func (f *fakeDeviceStore) ListByUser(_ context.Context, userID string) ([]*repository.UserDevice, error) {
	var out []*repository.UserDevice
	for _, device := range f.devices {
		if device.UserID == userID {
			out = append(out, device)
		}
	}
	return out, nil
}

func (f *fakeDeviceStore) RecordSeen(_ context.Context, deviceID, ipAddress string, increment int) error {
	device, ok := f.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	device.LastSeenAt = time.Now()
	if ipAddress != "" {
		device.LastIPAddress = &ipAddress
	}
	device.TrustScore = min(device.TrustScore+increment, 100)
	return nil
}

func (f *fakeDeviceStore) SetTrusted(_ context.Context, deviceID string, trusted bool) error {
	device, ok := f.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	device.IsTrusted = trusted
	return nil
}

func (f *fakeDeviceStore) SetBlocked(_ context.Context, deviceID string, blocked bool, reason string) error {
	device, ok := f.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	device.IsBlocked = blocked
	if blocked {
		device.BlockReason = &reason
		device.IsTrusted = false
	} else {
		device.BlockReason = nil
	}
	return nil
}

type fakeBackupCodeStore struct {
	codes map[string][]*repository.BackupCode
	seq   int
}

func newFakeBackupCodeStore() *fakeBackupCodeStore {
	return &fakeBackupCodeStore{codes: map[string][]*repository.BackupCode{}}
}

func (f *fakeBackupCodeStore) Replace(_ context.Context, userID string, hashes []string) error {
	now := time.Now()
	fresh := make([]*repository.BackupCode, len(hashes))
	for i, hash := range hashes {
		f.seq++
		fresh[i] = &repository.BackupCode{
			ID:        fmt.Sprintf("code-%d", f.seq),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		}
	}
	f.codes[userID] = fresh
	return nil
}

func (f *fakeBackupCodeStore) ListUnused(_ context.Context, userID string) ([]*repository.BackupCode, error) {
	var out []*repository.BackupCode
	for _, code := range f.codes[userID] {
		if code.UsedAt == nil {
			out = append(out, code)
		}
	}
	return out, nil
}

func (f *fakeBackupCodeStore) Consume(_ context.Context, codeID string) error {
	for _, codes := range f.codes {
		for _, code := range codes {
			if code.ID == codeID {
				if code.UsedAt != nil {
					return repository.ErrNotFound
				}
				now := time.Now()
				code.UsedAt = &now
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

func (f *fakeBackupCodeStore) CountUnused(ctx context.Context, userID string) (int, error) {
	unused, _ := f.ListUnused(ctx, userID)
	return len(unused), nil
}

func (f *fakeBackupCodeStore) DeleteAll(_ context.Context, userID string) error {
	delete(f.codes, userID)
	return nil
}

type fakeAuditor struct {
	entries []audit.Entry
}

func (f *fakeAuditor) Record(_ context.Context, entry audit.Entry) {
	f.entries = append(f.entries, entry)
}

func (f *fakeAuditor) count(eventType string) int {
	n := 0
	for _, entry := range f.entries {
		if entry.EventType == eventType {
			n++
		}
	}
	return n
}

func (f *fakeAuditor) last(eventType string) *audit.Entry {
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].EventType == eventType {
			return &f.entries[i]
		}
	}
	return nil
}

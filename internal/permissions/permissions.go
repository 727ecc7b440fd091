// Package permissions serves effective permission sets through a
// cache-aside layer. The cache is acceleration only: a cache failure
// falls through to the loader, and writes are best effort.
package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nimbusops/iam-engine/internal/cache"
)

// Loader resolves the effective permission codes for a user inside a
// tenant from the source of truth.
type Loader interface {
	LoadPermissions(ctx context.Context, userID, tenantID string) ([]string, error)
}

type Manager struct {
	cache  cache.Cache
	loader Loader
	ttl    time.Duration
	log    zerolog.Logger
}

func NewManager(c cache.Cache, loader Loader, ttl time.Duration, log zerolog.Logger) *Manager {
	return &Manager{cache: c, loader: loader, ttl: ttl, log: log}
}

func key(userID, tenantID string) string {
	return "permissions:user:" + userID + ":tenant:" + tenantID
}

// GetOrLoad returns the cached permission set for the pair, loading and
// caching it on a miss.
func (m *Manager) GetOrLoad(ctx context.Context, userID, tenantID string) ([]string, error) {
	k := key(userID, tenantID)

	raw, ok, err := m.cache.Get(ctx, k)
	if err != nil {
		m.log.Warn().Err(err).Str("key", k).Msg("permissions cache read failed")
	}
	if ok {
		var permissions []string
		if err := json.Unmarshal([]byte(raw), &permissions); err == nil {
			return permissions, nil
		}
		// Poisoned entry; drop it and reload.
		_ = m.cache.Delete(ctx, k)
	}

	permissions, err := m.loader.LoadPermissions(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}

	encoded, err := json.Marshal(permissions)
	if err == nil {
		if err := m.cache.Set(ctx, k, string(encoded), m.ttl); err != nil {
			m.log.Warn().Err(err).Str("key", k).Msg("permissions cache write failed")
		}
	}

	return permissions, nil
}

// Invalidate drops the cached set for one (user, tenant) pair. Called when
// that user's role in that tenant changes.
func (m *Manager) Invalidate(ctx context.Context, userID, tenantID string) error {
	return m.cache.Delete(ctx, key(userID, tenantID))
}

// InvalidateUser drops the user's cached sets across every tenant. Called
// when the user is deactivated or changes password.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) error {
	return m.cache.DeletePattern(ctx, "permissions:user:"+userID+":tenant:*")
}

// InvalidateTenant drops every user's cached set for one tenant. Called
// when a role definition inside the tenant changes.
func (m *Manager) InvalidateTenant(ctx context.Context, tenantID string) error {
	return m.cache.DeletePattern(ctx, "permissions:user:*:tenant:"+tenantID)
}

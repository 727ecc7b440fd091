package service

import (
	"context"
	"errors"
	"time"

	"github.com/nimbusops/iam-engine/internal/repository"
)

// MembershipPermissionLoader resolves a user's effective permissions in a
// tenant from the membership's role. It backs the permissions cache; a
// missing or unusable membership yields an empty set rather than an error
// so a negative answer is cacheable too.
type MembershipPermissionLoader struct {
	tenants TenantStore
}

func NewMembershipPermissionLoader(tenants TenantStore) *MembershipPermissionLoader {
	return &MembershipPermissionLoader{tenants: tenants}
}

func (l *MembershipPermissionLoader) LoadPermissions(ctx context.Context, userID, tenantID string) ([]string, error) {
	mc, err := l.tenants.GetMembershipContext(ctx, userID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !mc.TenantActive || !mc.Usable(time.Now()) {
		return []string{}, nil
	}
	return l.tenants.GetRolePermissions(ctx, mc.RoleID)
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type TenantRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewTenantRepository(db *pgxpool.Pool, log zerolog.Logger) *TenantRepository {
	return &TenantRepository{db: db, log: log}
}

const membershipContextColumns = `
	tm.id, tm.user_id, tm.tenant_id, t.code, t.name,
	r.id, r.name, tm.is_active, tm.expires_at,
	t.is_active, t.require_mfa, t.session_timeout_minutes, t.max_concurrent_sessions
`

// GetByID retrieves a tenant.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*Tenant, error) {
	tenant := &Tenant{}

	query := `
		SELECT id, code, name, require_mfa, session_timeout_minutes,
		       max_concurrent_sessions, is_active, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&tenant.ID, &tenant.Code, &tenant.Name, &tenant.RequireMFA,
		&tenant.SessionTimeoutMinutes, &tenant.MaxConcurrentSessions,
		&tenant.IsActive, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}

// ListMembershipContexts returns every active membership of the user whose
// tenant is also active, joined with tenant and role in one round trip.
func (r *TenantRepository) ListMembershipContexts(ctx context.Context, userID string) ([]*MembershipContext, error) {
	query := `
		SELECT ` + membershipContextColumns + `
		FROM tenant_memberships tm
		INNER JOIN tenants t ON t.id = tm.tenant_id
		INNER JOIN roles r ON r.id = tm.role_id
		WHERE tm.user_id = $1
		  AND tm.is_active = TRUE
		  AND t.is_active = TRUE
		  AND (tm.expires_at IS NULL OR tm.expires_at > NOW())
		ORDER BY t.name
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var contexts []*MembershipContext
	for rows.Next() {
		mc, err := scanMembershipContext(rows)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, mc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	return contexts, nil
}

// GetMembershipContext loads the membership join for one (user, tenant)
// pair regardless of activity flags, so callers can distinguish a missing
// membership from a deactivated tenant.
func (r *TenantRepository) GetMembershipContext(ctx context.Context, userID, tenantID string) (*MembershipContext, error) {
	query := `
		SELECT ` + membershipContextColumns + `
		FROM tenant_memberships tm
		INNER JOIN tenants t ON t.id = tm.tenant_id
		INNER JOIN roles r ON r.id = tm.role_id
		WHERE tm.user_id = $1 AND tm.tenant_id = $2
	`

	mc, err := scanMembershipContext(r.db.QueryRow(ctx, query, userID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// GetRolePermissions resolves the permission codes granted by a role.
func (r *TenantRepository) GetRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	query := `
		SELECT p.code
		FROM role_permissions rp
		INNER JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.code
	`

	rows, err := r.db.Query(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	permissions := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}

	return permissions, nil
}

// DeactivateMembership ends a grant. The caller is responsible for
// invalidating the permissions cache for the pair.
func (r *TenantRepository) DeactivateMembership(ctx context.Context, membershipID string) error {
	query := `UPDATE tenant_memberships SET is_active = FALSE WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, membershipID)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMembershipContext(row pgx.Row) (*MembershipContext, error) {
	mc := &MembershipContext{}
	err := row.Scan(
		&mc.MembershipID, &mc.UserID, &mc.TenantID, &mc.TenantCode, &mc.TenantName,
		&mc.RoleID, &mc.RoleName, &mc.MembershipActive, &mc.MembershipExpiresAt,
		&mc.TenantActive, &mc.TenantRequireMFA, &mc.SessionTimeoutMinutes, &mc.MaxConcurrentSessions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}
	return mc, nil
}

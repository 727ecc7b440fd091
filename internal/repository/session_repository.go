package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const sessionColumns = `
	id, user_id, tenant_id, device_id, ip_address, user_agent,
	created_at, expires_at, last_activity_at, revoked_at
`

type SessionRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewSessionRepository(db *pgxpool.Pool, log zerolog.Logger) *SessionRepository {
	return &SessionRepository{db: db, log: log}
}

// Create inserts a session without a concurrency limit. Used for flows
// that have no tenant context yet.
func (r *SessionRepository) Create(ctx context.Context, session *Session) error {
	session.ID = uuid.New().String()
	now := time.Now()
	session.CreatedAt = now
	session.LastActivityAt = now

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)
	`

	_, err := r.db.Exec(ctx, query,
		session.ID, session.UserID, session.TenantID, session.DeviceID,
		session.IPAddress, session.UserAgent,
		session.CreatedAt, session.ExpiresAt, session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// CreateEnforcingLimit inserts a session for a tenant context and, when the
// user already holds maxSessions active sessions in that tenant, revokes the
// least recently active one in the same transaction. The count and eviction
// run under FOR UPDATE so two concurrent logins cannot both slip under the
// cap. Returns the id of the evicted session, if any.
func (r *SessionRepository) CreateEnforcingLimit(ctx context.Context, session *Session, maxSessions int) (evictedID string, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT id
		FROM sessions
		WHERE user_id = $1 AND tenant_id = $2
		  AND revoked_at IS NULL AND expires_at > NOW()
		ORDER BY last_activity_at ASC
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, lockQuery, session.UserID, session.TenantID)
	if err != nil {
		return "", fmt.Errorf("failed to lock sessions: %w", err)
	}

	var activeIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return "", fmt.Errorf("failed to scan session id: %w", err)
		}
		activeIDs = append(activeIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to lock sessions: %w", err)
	}

	if maxSessions > 0 && len(activeIDs) >= maxSessions {
		evictedID = activeIDs[0]
		_, err = tx.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE id = $1`, evictedID)
		if err != nil {
			return "", fmt.Errorf("failed to evict session: %w", err)
		}
	}

	session.ID = uuid.New().String()
	now := time.Now()
	session.CreatedAt = now
	session.LastActivityAt = now

	insertQuery := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)
	`

	_, err = tx.Exec(ctx, insertQuery,
		session.ID, session.UserID, session.TenantID, session.DeviceID,
		session.IPAddress, session.UserAgent,
		session.CreatedAt, session.ExpiresAt, session.LastActivityAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit session: %w", err)
	}
	return evictedID, nil
}

// GetByID retrieves a session whether or not it is still active.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return r.scanSession(r.db.QueryRow(ctx, query, id))
}

// ListActiveByUser returns the user's live sessions, most recently active
// first. Pass tenantID to restrict to one tenant; empty means all tenants.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID, tenantID string) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		  AND revoked_at IS NULL AND expires_at > NOW()
		  AND ($2 = '' OR tenant_id = $2::uuid)
		ORDER BY last_activity_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}

// TouchActivity stamps last_activity_at for sliding expiry, skipping
// revoked sessions.
func (r *SessionRepository) TouchActivity(ctx context.Context, id string) error {
	query := `
		UPDATE sessions
		SET last_activity_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Revoke terminates one session. Revoking an already-revoked session is a
// no-op, not an error.
func (r *SessionRepository) Revoke(ctx context.Context, id string) error {
	query := `
		UPDATE sessions
		SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser terminates every active session of the user and returns
// how many were revoked.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	query := `
		UPDATE sessions
		SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RevokeOthers terminates every active session of the user except the
// given one.
func (r *SessionRepository) RevokeOthers(ctx context.Context, userID, keepSessionID string) (int, error) {
	query := `
		UPDATE sessions
		SET revoked_at = NOW()
		WHERE user_id = $1 AND id <> $2 AND revoked_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, userID, keepSessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *SessionRepository) scanSession(row pgx.Row) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID, &session.UserID, &session.TenantID, &session.DeviceID,
		&session.IPAddress, &session.UserAgent,
		&session.CreatedAt, &session.ExpiresAt, &session.LastActivityAt, &session.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return session, nil
}

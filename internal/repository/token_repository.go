package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrTokenRotated marks a refresh token that was already rotated or
// revoked. Presenting one is treated as replay.
var ErrTokenRotated = errors.New("refresh token already rotated")

const refreshTokenColumns = `
	id, user_id, tenant_id, session_id, token_hash, device_id,
	expires_at, revoked_at, replaced_by, created_at
`

type TokenRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewTokenRepository(db *pgxpool.Pool, log zerolog.Logger) *TokenRepository {
	return &TokenRepository{db: db, log: log}
}

// HashToken returns the hex sha256 digest stored in place of the raw
// refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Create stores a new refresh token. The raw value is hashed before it
// touches the database.
func (r *TokenRepository) Create(ctx context.Context, token *RefreshToken, rawToken string) error {
	token.ID = uuid.New().String()
	token.TokenHash = HashToken(rawToken)
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO refresh_tokens (` + refreshTokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8)
	`

	_, err := r.db.Exec(ctx, query,
		token.ID, token.UserID, token.TenantID, token.SessionID,
		token.TokenHash, token.DeviceID, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetByRawToken looks up a token by its raw value.
func (r *TokenRepository) GetByRawToken(ctx context.Context, rawToken string) (*RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return r.scanToken(r.db.QueryRow(ctx, query, HashToken(rawToken)))
}

// Rotate atomically replaces oldRaw with newToken. The old row is locked,
// checked, revoked and linked to its successor in one transaction: only one
// of any number of concurrent presenters of the same token wins. A token
// that was already rotated or revoked yields ErrTokenRotated together with
// the old row, letting the caller run replay handling.
func (r *TokenRepository) Rotate(ctx context.Context, oldRaw string, newToken *RefreshToken, newRaw string) (*RefreshToken, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`

	old, err := r.scanToken(tx.QueryRow(ctx, lockQuery, HashToken(oldRaw)))
	if err != nil {
		return nil, err
	}
	if old.RevokedAt != nil || old.ReplacedBy != nil {
		return old, ErrTokenRotated
	}
	if old.ExpiresAt.Before(time.Now()) {
		return old, ErrNotFound
	}

	newToken.ID = uuid.New().String()
	newToken.TokenHash = HashToken(newRaw)
	newToken.CreatedAt = time.Now()

	insertQuery := `
		INSERT INTO refresh_tokens (` + refreshTokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8)
	`

	_, err = tx.Exec(ctx, insertQuery,
		newToken.ID, newToken.UserID, newToken.TenantID, newToken.SessionID,
		newToken.TokenHash, newToken.DeviceID, newToken.ExpiresAt, newToken.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rotated token: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = NOW(), replaced_by = $2 WHERE id = $1`,
		old.ID, newToken.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to retire old token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return old, nil
}

// RevokeChain revokes the token and every descendant reachable through
// replaced_by links. Used when a rotated token is replayed: the whole
// lineage is burned, including the live tip. Returns how many tokens were
// newly revoked.
func (r *TokenRepository) RevokeChain(ctx context.Context, tokenID string) (int, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT id, replaced_by FROM refresh_tokens WHERE id = $1
			UNION ALL
			SELECT rt.id, rt.replaced_by
			FROM refresh_tokens rt
			INNER JOIN chain c ON rt.id = c.replaced_by
		)
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE id IN (SELECT id FROM chain) AND revoked_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, tokenID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke token chain: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RevokeBySession revokes every live token bound to the session.
func (r *TokenRepository) RevokeBySession(ctx context.Context, sessionID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE session_id = $1 AND revoked_at IS NULL
	`

	_, err := r.db.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("failed to revoke session tokens: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live token of the user across all tenants.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL
	`

	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return nil
}

func (r *TokenRepository) scanToken(row pgx.Row) (*RefreshToken, error) {
	token := &RefreshToken{}
	err := row.Scan(
		&token.ID, &token.UserID, &token.TenantID, &token.SessionID,
		&token.TokenHash, &token.DeviceID,
		&token.ExpiresAt, &token.RevokedAt, &token.ReplacedBy, &token.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan refresh token: %w", err)
	}
	return token, nil
}

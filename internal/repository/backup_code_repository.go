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

type BackupCodeRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewBackupCodeRepository(db *pgxpool.Pool, log zerolog.Logger) *BackupCodeRepository {
	return &BackupCodeRepository{db: db, log: log}
}

// Replace deletes the user's existing codes and stores the new batch of
// hashes in one transaction, so the set flips over atomically.
func (r *BackupCodeRepository) Replace(ctx context.Context, userID string, hashes []string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear backup codes: %w", err)
	}

	now := time.Now()
	for _, hash := range hashes {
		_, err := tx.Exec(ctx,
			`INSERT INTO backup_codes (id, user_id, code_hash, used_at, created_at)
			 VALUES ($1, $2, $3, NULL, $4)`,
			uuid.New().String(), userID, hash, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert backup code: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit backup codes: %w", err)
	}
	return nil
}

// ListUnused returns the user's remaining codes. The caller matches the
// presented plaintext against each hash; bcrypt hashes cannot be looked up
// by value.
func (r *BackupCodeRepository) ListUnused(ctx context.Context, userID string) ([]*BackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM backup_codes
		WHERE user_id = $1 AND used_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup codes: %w", err)
	}
	defer rows.Close()

	var codes []*BackupCode
	for rows.Next() {
		code := &BackupCode{}
		err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &code.UsedAt, &code.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list backup codes: %w", err)
	}

	return codes, nil
}

// Consume marks one code used. The used_at IS NULL guard makes the update
// a single-winner operation: a second concurrent consumer of the same code
// gets ErrNotFound.
func (r *BackupCodeRepository) Consume(ctx context.Context, codeID string) error {
	query := `
		UPDATE backup_codes
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, codeID)
	if err != nil {
		return fmt.Errorf("failed to consume backup code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnused reports how many codes the user has left.
func (r *BackupCodeRepository) CountUnused(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE user_id = $1 AND used_at IS NULL`,
		userID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return count, nil
}

// DeleteAll removes every code for the user, used or not. Called when
// two-factor is disabled.
func (r *BackupCodeRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete backup codes: %w", err)
	}
	return nil
}

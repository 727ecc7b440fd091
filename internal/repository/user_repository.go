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

var ErrNotFound = errors.New("not found")

const userColumns = `
	id, email, password_hash, first_name, last_name,
	two_factor_secret, two_factor_enabled, failed_login_attempts,
	locked_until, is_active, last_login_at, created_at, updated_at
`

type UserRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewUserRepository(db *pgxpool.Pool, log zerolog.Logger) *UserRepository {
	return &UserRepository{db: db, log: log}
}

// Create inserts a new user. Emails are stored as given but matched
// case-insensitively everywhere.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (
			id, email, password_hash, first_name, last_name,
			two_factor_secret, two_factor_enabled, failed_login_attempts,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.TwoFactorSecret, user.TwoFactorEnabled, user.FailedLoginAttempts,
		user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return r.scanUser(r.db.QueryRow(ctx, query, email))
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, id))
}

// RecordFailedLogin increments the lockout counter and, when the new count
// reaches threshold, sets the lockout expiry. Returns the new count. The
// increment is a single statement so concurrent failures never lose counts.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration) (int, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= $2 THEN $3::timestamptz
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts
	`

	var count int
	err := r.db.QueryRow(ctx, query, id, threshold, time.Now().Add(lockFor)).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record failed login: %w", err)
	}

	return count, nil
}

// ResetLockout clears the failure counter and lockout window and stamps
// the last successful login.
func (r *UserRepository) ResetLockout(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL,
		    last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to reset lockout: %w", err)
	}
	return nil
}

// UpdatePassword replaces the password hash and clears any lockout.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, failed_login_attempts = 0,
		    locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTwoFactorSecret stores a pending 2FA secret without enabling 2FA.
func (r *UserRepository) SetTwoFactorSecret(ctx context.Context, id, secret string) error {
	query := `UPDATE users SET two_factor_secret = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, secret)
	if err != nil {
		return fmt.Errorf("failed to set two-factor secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnableTwoFactor flips the enabled flag. Setup is two-step: the flag is
// only set after the user has proven the secret with a valid code.
func (r *UserRepository) EnableTwoFactor(ctx context.Context, id string) error {
	query := `
		UPDATE users SET two_factor_enabled = TRUE, updated_at = NOW()
		WHERE id = $1 AND two_factor_secret IS NOT NULL
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DisableTwoFactor clears the secret and flag.
func (r *UserRepository) DisableTwoFactor(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = FALSE, two_factor_secret = NULL, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a user.
func (r *UserRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.TwoFactorSecret, &user.TwoFactorEnabled, &user.FailedLoginAttempts,
		&user.LockedUntil, &user.IsActive, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

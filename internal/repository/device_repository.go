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

const deviceColumns = `
	id, user_id, fingerprint, device_name, last_ip_address,
	trust_score, is_trusted, is_blocked, block_reason,
	first_seen_at, last_seen_at
`

type DeviceRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewDeviceRepository(db *pgxpool.Pool, log zerolog.Logger) *DeviceRepository {
	return &DeviceRepository{db: db, log: log}
}

// Create registers a first sighting of a device.
func (r *DeviceRepository) Create(ctx context.Context, device *UserDevice) error {
	device.ID = uuid.New().String()
	now := time.Now()
	device.FirstSeenAt = now
	device.LastSeenAt = now

	query := `
		INSERT INTO user_devices (` + deviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		device.ID, device.UserID, device.Fingerprint, device.DeviceName,
		device.LastIPAddress, device.TrustScore, device.IsTrusted,
		device.IsBlocked, device.BlockReason, device.FirstSeenAt, device.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// GetByFingerprint retrieves the user's device matching the fingerprint.
func (r *DeviceRepository) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*UserDevice, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM user_devices
		WHERE user_id = $1 AND fingerprint = $2
	`
	return r.scanDevice(r.db.QueryRow(ctx, query, userID, fingerprint))
}

// GetByID retrieves a device owned by the user. Scoping by owner keeps one
// user from touching another's devices through guessed ids.
func (r *DeviceRepository) GetByID(ctx context.Context, userID, deviceID string) (*UserDevice, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM user_devices
		WHERE id = $1 AND user_id = $2
	`
	return r.scanDevice(r.db.QueryRow(ctx, query, deviceID, userID))
}

// ListByUser returns the user's devices, most recently seen first.
func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]*UserDevice, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM user_devices
		WHERE user_id = $1
		ORDER BY last_seen_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*UserDevice
	for rows.Next() {
		device, err := r.scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	return devices, nil
}

// RecordSeen stamps last_seen_at, records the latest ip, and raises the
// trust score by increment capped at 100, all in one statement.
func (r *DeviceRepository) RecordSeen(ctx context.Context, deviceID, ipAddress string, increment int) error {
	query := `
		UPDATE user_devices
		SET last_seen_at = NOW(),
		    last_ip_address = $2,
		    trust_score = LEAST(trust_score + $3, 100)
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, deviceID, ipAddress, increment)
	if err != nil {
		return fmt.Errorf("failed to record device activity: %w", err)
	}
	return nil
}

// SetTrusted marks the device explicitly trusted. Idempotent.
func (r *DeviceRepository) SetTrusted(ctx context.Context, deviceID string, trusted bool) error {
	query := `UPDATE user_devices SET is_trusted = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, deviceID, trusted)
	if err != nil {
		return fmt.Errorf("failed to update device trust: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBlocked blocks or unblocks the device. Blocking clears trust;
// unblocking clears the stored reason. Idempotent.
func (r *DeviceRepository) SetBlocked(ctx context.Context, deviceID string, blocked bool, reason string) error {
	query := `
		UPDATE user_devices
		SET is_blocked = $2,
		    block_reason = CASE WHEN $2 THEN $3 ELSE NULL END,
		    is_trusted = CASE WHEN $2 THEN FALSE ELSE is_trusted END
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, deviceID, blocked, reason)
	if err != nil {
		return fmt.Errorf("failed to update device block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DeviceRepository) scanDevice(row pgx.Row) (*UserDevice, error) {
	device := &UserDevice{}
	err := row.Scan(
		&device.ID, &device.UserID, &device.Fingerprint, &device.DeviceName,
		&device.LastIPAddress, &device.TrustScore, &device.IsTrusted,
		&device.IsBlocked, &device.BlockReason, &device.FirstSeenAt, &device.LastSeenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}
	return device, nil
}

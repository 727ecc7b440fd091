package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type SecurityEventRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewSecurityEventRepository(db *pgxpool.Pool, log zerolog.Logger) *SecurityEventRepository {
	return &SecurityEventRepository{db: db, log: log}
}

// Create appends one event to the audit trail. Events are append-only;
// nothing updates or deletes them.
func (r *SecurityEventRepository) Create(ctx context.Context, event *SecurityEvent) error {
	event.ID = uuid.New().String()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	query := `
		INSERT INTO security_events (
			id, user_id, tenant_id, session_id, device_id,
			event_type, ip_address, user_agent, success, details, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		event.ID, event.UserID, event.TenantID, event.SessionID, event.DeviceID,
		event.EventType, event.IPAddress, event.UserAgent,
		event.Success, event.Details, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent events, newest first.
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, tenant_id, session_id, device_id,
		       event_type, ip_address, user_agent, success, details, occurred_at
		FROM security_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	defer rows.Close()

	var events []*SecurityEvent
	for rows.Next() {
		event := &SecurityEvent{}
		err := rows.Scan(
			&event.ID, &event.UserID, &event.TenantID, &event.SessionID, &event.DeviceID,
			&event.EventType, &event.IPAddress, &event.UserAgent,
			&event.Success, &event.Details, &event.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}

	return events, nil
}

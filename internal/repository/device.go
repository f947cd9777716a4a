package repository

import (
	"context"
	"fmt"

	"omoide-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceRepository handles database operations for push notification devices
type DeviceRepository struct {
	db *pgxpool.Pool
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *pgxpool.Pool) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert registers a push token for a user
func (r *DeviceRepository) Upsert(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (user_id, push_token, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, push_token) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, device.UserID, device.PushToken, device.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// ListTokens retrieves the push tokens of a user
func (r *DeviceRepository) ListTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT push_token FROM devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return tokens, nil
}

// Delete removes a push token, e.g. after APNs reports it unregistered
func (r *DeviceRepository) Delete(ctx context.Context, userID, pushToken string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM devices WHERE user_id = $1 AND push_token = $2`, userID, pushToken)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

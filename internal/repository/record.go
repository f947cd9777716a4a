package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"omoide-backend/internal/apperr"
	"omoide-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, user_id, photos, comments, is_shared, share_id, created_at, updated_at`

// RecordRepository handles database operations for growth records
type RecordRepository struct {
	db *pgxpool.Pool
}

// NewRecordRepository creates a new growth record repository
func NewRecordRepository(db *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{db: db}
}

// Create creates a new growth record
func (r *RecordRepository) Create(ctx context.Context, record *models.GrowthRecord) error {
	photos, err := json.Marshal(record.Photos)
	if err != nil {
		return fmt.Errorf("failed to encode photos: %w", err)
	}
	comments, err := json.Marshal(nonNilComments(record.Comments))
	if err != nil {
		return fmt.Errorf("failed to encode comments: %w", err)
	}

	query := `
		INSERT INTO growth_records (id, user_id, photos, comments, is_shared, share_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Exec(ctx, query,
		record.ID, record.UserID, photos, comments, record.IsShared, record.ShareID,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create growth record: %w", err)
	}
	return nil
}

// GetByID retrieves a growth record by ID
func (r *RecordRepository) GetByID(ctx context.Context, id string) (*models.GrowthRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM growth_records WHERE id = $1`
	record, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("growth record %s not found", id)
		}
		return nil, fmt.Errorf("failed to get growth record: %w", err)
	}
	return record, nil
}

// ListByUserBetween retrieves a user's records created in [from, to), oldest first
func (r *RecordRepository) ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]*models.GrowthRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM growth_records
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list growth records: %w", err)
	}
	defer rows.Close()

	var records []*models.GrowthRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan growth record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating growth records: %w", err)
	}

	return records, nil
}

// UpdateComments replaces the comments of a record
func (r *RecordRepository) UpdateComments(ctx context.Context, id string, comments []models.GrowthComment, updatedAt time.Time) error {
	data, err := json.Marshal(nonNilComments(comments))
	if err != nil {
		return fmt.Errorf("failed to encode comments: %w", err)
	}

	query := `UPDATE growth_records SET comments = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.Exec(ctx, query, data, updatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update comments: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("growth record %s not found", id)
	}
	return nil
}

// SetSharing updates the sharing flag and share link ID of a record
func (r *RecordRepository) SetSharing(ctx context.Context, id string, isShared bool, shareID *string) error {
	query := `UPDATE growth_records SET is_shared = $1, share_id = $2, updated_at = $3 WHERE id = $4`
	result, err := r.db.Exec(ctx, query, isShared, shareID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update record sharing: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("growth record %s not found", id)
	}
	return nil
}

// Delete deletes a growth record by ID
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM growth_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete growth record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("growth record %s not found", id)
	}
	return nil
}

func scanRecord(row pgx.Row) (*models.GrowthRecord, error) {
	var (
		record   models.GrowthRecord
		photos   []byte
		comments []byte
	)
	err := row.Scan(
		&record.ID, &record.UserID, &photos, &comments, &record.IsShared, &record.ShareID,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(photos, &record.Photos); err != nil {
		return nil, fmt.Errorf("failed to decode photos: %w", err)
	}
	if err := json.Unmarshal(comments, &record.Comments); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	return &record, nil
}

func nonNilComments(c []models.GrowthComment) []models.GrowthComment {
	if c == nil {
		return []models.GrowthComment{}
	}
	return c
}

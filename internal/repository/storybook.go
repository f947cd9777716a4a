package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"omoide-backend/internal/apperr"
	"omoide-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const storybookColumns = `id, user_id, month, title, pages, cover_image_url, is_shared, share_id, created_at`

// StorybookRepository handles database operations for storybooks
type StorybookRepository struct {
	db *pgxpool.Pool
}

// NewStorybookRepository creates a new storybook repository
func NewStorybookRepository(db *pgxpool.Pool) *StorybookRepository {
	return &StorybookRepository{db: db}
}

// Create creates a new storybook. The (user_id, month) unique constraint makes
// this a conditional write: a second storybook for the same month is a conflict.
func (r *StorybookRepository) Create(ctx context.Context, book *models.Storybook) error {
	pages, err := json.Marshal(book.Pages)
	if err != nil {
		return fmt.Errorf("failed to encode pages: %w", err)
	}

	query := `
		INSERT INTO storybooks (id, user_id, month, title, pages, cover_image_url, is_shared, share_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Exec(ctx, query,
		book.ID, book.UserID, book.Month, book.Title, pages, book.CoverImageURL,
		book.IsShared, book.ShareID, book.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("storybook for %s already exists", book.Month))
		}
		return fmt.Errorf("failed to create storybook: %w", err)
	}
	return nil
}

// GetByID retrieves a storybook by ID
func (r *StorybookRepository) GetByID(ctx context.Context, id string) (*models.Storybook, error) {
	query := `SELECT ` + storybookColumns + ` FROM storybooks WHERE id = $1`
	book, err := scanStorybook(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("storybook %s not found", id)
		}
		return nil, fmt.Errorf("failed to get storybook: %w", err)
	}
	return book, nil
}

// FindByUserAndMonth retrieves the storybook of a month, or nil if there is none
func (r *StorybookRepository) FindByUserAndMonth(ctx context.Context, userID, month string) (*models.Storybook, error) {
	query := `SELECT ` + storybookColumns + ` FROM storybooks WHERE user_id = $1 AND month = $2`
	book, err := scanStorybook(r.db.QueryRow(ctx, query, userID, month))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get storybook by month: %w", err)
	}
	return book, nil
}

// ListByUser retrieves a user's storybooks, newest month first
func (r *StorybookRepository) ListByUser(ctx context.Context, userID string) ([]*models.Storybook, error) {
	query := `SELECT ` + storybookColumns + ` FROM storybooks WHERE user_id = $1 ORDER BY month DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list storybooks: %w", err)
	}
	defer rows.Close()

	var books []*models.Storybook
	for rows.Next() {
		book, err := scanStorybook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan storybook: %w", err)
		}
		books = append(books, book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating storybooks: %w", err)
	}

	return books, nil
}

// UpdatePages replaces the pages of a storybook
func (r *StorybookRepository) UpdatePages(ctx context.Context, id string, pages []models.StorybookPage) error {
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("failed to encode pages: %w", err)
	}

	result, err := r.db.Exec(ctx, `UPDATE storybooks SET pages = $1 WHERE id = $2`, data, id)
	if err != nil {
		return fmt.Errorf("failed to update storybook pages: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("storybook %s not found", id)
	}
	return nil
}

// SetSharing updates the sharing flag and share link ID of a storybook
func (r *StorybookRepository) SetSharing(ctx context.Context, id string, isShared bool, shareID *string) error {
	query := `UPDATE storybooks SET is_shared = $1, share_id = $2 WHERE id = $3`
	result, err := r.db.Exec(ctx, query, isShared, shareID, id)
	if err != nil {
		return fmt.Errorf("failed to update storybook sharing: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("storybook %s not found", id)
	}
	return nil
}

// Delete deletes a storybook by ID
func (r *StorybookRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM storybooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete storybook: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("storybook %s not found", id)
	}
	return nil
}

func scanStorybook(row pgx.Row) (*models.Storybook, error) {
	var (
		book  models.Storybook
		pages []byte
	)
	err := row.Scan(
		&book.ID, &book.UserID, &book.Month, &book.Title, &pages, &book.CoverImageURL,
		&book.IsShared, &book.ShareID, &book.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pages, &book.Pages); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	return &book, nil
}

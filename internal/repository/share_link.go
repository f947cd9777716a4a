package repository

import (
	"context"
	"errors"
	"fmt"

	"omoide-backend/internal/apperr"
	"omoide-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const shareLinkColumns = `id, content_id, content_type, created_by, created_at, is_active, expires_at`

// ShareLinkRepository handles database operations for share links
type ShareLinkRepository struct {
	db *pgxpool.Pool
}

// NewShareLinkRepository creates a new share link repository
func NewShareLinkRepository(db *pgxpool.Pool) *ShareLinkRepository {
	return &ShareLinkRepository{db: db}
}

// Create creates a new share link
func (r *ShareLinkRepository) Create(ctx context.Context, link *models.ShareLink) error {
	query := `
		INSERT INTO share_links (id, content_id, content_type, created_by, created_at, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		link.ID, link.ContentID, string(link.ContentType), link.CreatedBy, link.CreatedAt,
		link.IsActive, link.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create share link: %w", err)
	}
	return nil
}

// GetByID retrieves a share link by ID
func (r *ShareLinkRepository) GetByID(ctx context.Context, id string) (*models.ShareLink, error) {
	query := `SELECT ` + shareLinkColumns + ` FROM share_links WHERE id = $1`
	link, err := scanShareLink(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("share link %s not found", id)
		}
		return nil, fmt.Errorf("failed to get share link: %w", err)
	}
	return link, nil
}

// ListByContent retrieves the links of a content item, optionally only active ones
func (r *ShareLinkRepository) ListByContent(ctx context.Context, contentType models.ContentType, contentID string, activeOnly bool) ([]*models.ShareLink, error) {
	query := `
		SELECT ` + shareLinkColumns + `
		FROM share_links
		WHERE content_type = $1 AND content_id = $2 AND (NOT $3 OR is_active)
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, string(contentType), contentID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list share links: %w", err)
	}
	defer rows.Close()

	var links []*models.ShareLink
	for rows.Next() {
		link, err := scanShareLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating share links: %w", err)
	}

	return links, nil
}

// SetActive toggles a share link
func (r *ShareLinkRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.Exec(ctx, `UPDATE share_links SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update share link: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("share link %s not found", id)
	}
	return nil
}

// Delete deletes a share link by ID
func (r *ShareLinkRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM share_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete share link: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("share link %s not found", id)
	}
	return nil
}

// DeleteByContent deletes every link of a content item
func (r *ShareLinkRepository) DeleteByContent(ctx context.Context, contentType models.ContentType, contentID string) error {
	query := `DELETE FROM share_links WHERE content_type = $1 AND content_id = $2`
	if _, err := r.db.Exec(ctx, query, string(contentType), contentID); err != nil {
		return fmt.Errorf("failed to delete share links: %w", err)
	}
	return nil
}

func scanShareLink(row pgx.Row) (*models.ShareLink, error) {
	var (
		link        models.ShareLink
		contentType string
	)
	err := row.Scan(
		&link.ID, &link.ContentID, &contentType, &link.CreatedBy, &link.CreatedAt,
		&link.IsActive, &link.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	link.ContentType = models.ContentType(contentType)
	return &link, nil
}

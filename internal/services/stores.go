package services

import (
	"context"
	"time"

	"omoide-backend/internal/models"
)

// The interfaces below are implemented by the Postgres repositories and by
// in-memory fakes in tests.

// RecordStore persists growth records
type RecordStore interface {
	Create(ctx context.Context, record *models.GrowthRecord) error
	GetByID(ctx context.Context, id string) (*models.GrowthRecord, error)
	ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]*models.GrowthRecord, error)
	UpdateComments(ctx context.Context, id string, comments []models.GrowthComment, updatedAt time.Time) error
	SetSharing(ctx context.Context, id string, isShared bool, shareID *string) error
	Delete(ctx context.Context, id string) error
}

// StorybookStore persists storybooks. Create returns a CONFLICT error when the
// user already has a storybook for the month.
type StorybookStore interface {
	Create(ctx context.Context, book *models.Storybook) error
	GetByID(ctx context.Context, id string) (*models.Storybook, error)
	FindByUserAndMonth(ctx context.Context, userID, month string) (*models.Storybook, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Storybook, error)
	UpdatePages(ctx context.Context, id string, pages []models.StorybookPage) error
	SetSharing(ctx context.Context, id string, isShared bool, shareID *string) error
	Delete(ctx context.Context, id string) error
}

// ShareLinkStore persists share links
type ShareLinkStore interface {
	Create(ctx context.Context, link *models.ShareLink) error
	GetByID(ctx context.Context, id string) (*models.ShareLink, error)
	ListByContent(ctx context.Context, contentType models.ContentType, contentID string, activeOnly bool) ([]*models.ShareLink, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	DeleteByContent(ctx context.Context, contentType models.ContentType, contentID string) error
}

// DeviceStore persists push notification tokens
type DeviceStore interface {
	Upsert(ctx context.Context, device *models.Device) error
	ListTokens(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, userID, pushToken string) error
}

// ObjectStore writes objects and returns their public URL
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	PublicURL(key string) string
}

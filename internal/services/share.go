package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"omoide-backend/internal/apperr"
	"omoide-backend/internal/metrics"
	"omoide-backend/internal/models"
)

// Reasons a share link cannot be used. All of them surface as NOT_FOUND,
// with the reason kept in the error details.
var (
	ErrLinkNotFound = errors.New("share link not found")
	ErrLinkInactive = errors.New("share link is inactive")
	ErrLinkExpired  = errors.New("share link has expired")
)

// ValidateShareLink reports whether link can be used at now
func ValidateShareLink(link *models.ShareLink, now time.Time) error {
	if !link.IsActive {
		return ErrLinkInactive
	}
	if link.ExpiresAt != nil && !now.Before(*link.ExpiresAt) {
		return ErrLinkExpired
	}
	return nil
}

// linkReason is the machine-readable reason of a rejected share link
func linkReason(err error) string {
	switch {
	case errors.Is(err, ErrLinkInactive):
		return "inactive"
	case errors.Is(err, ErrLinkExpired):
		return "expired"
	default:
		return "not_found"
	}
}

var linkUserMessages = map[string]string{
	"not_found": "共有リンクが見つかりません",
	"inactive":  "この共有リンクは現在無効になっています",
	"expired":   "この共有リンクは有効期限が切れています",
}

// CreateShareLinkRequest is the body of a share link creation
type CreateShareLinkRequest struct {
	ContentID   string             `json:"contentId" validate:"required"`
	ContentType models.ContentType `json:"contentType" validate:"required,oneof=record storybook"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
}

// ShareLinkResponse describes a created share link
type ShareLinkResponse struct {
	ShareID   string     `json:"shareId"`
	ShareURL  string     `json:"shareUrl"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// SharedContent is the read-only view behind a share link
type SharedContent struct {
	ContentType models.ContentType   `json:"contentType"`
	Record      *models.GrowthRecord `json:"record,omitempty"`
	Storybook   *models.Storybook    `json:"storybook,omitempty"`
	ExpiresAt   *time.Time           `json:"expiresAt,omitempty"`
}

// ShareService manages share links and keeps content sharing flags in sync
type ShareService struct {
	links     ShareLinkStore
	records   RecordStore
	books     StorybookStore
	publicURL string
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewShareService creates a share service. publicURL is the origin used in share URLs.
func NewShareService(links ShareLinkStore, records RecordStore, books StorybookStore, publicURL string, m *metrics.Metrics) *ShareService {
	return &ShareService{
		links:     links,
		records:   records,
		books:     books,
		publicURL: strings.TrimRight(publicURL, "/"),
		metrics:   m,
		now:       time.Now,
	}
}

// CreateShareLink creates a link to content owned by userID
func (s *ShareService) CreateShareLink(ctx context.Context, userID string, req CreateShareLinkRequest) (*ShareLinkResponse, error) {
	if !req.ContentType.Valid() {
		return nil, apperr.Validationf("unknown content type %q", req.ContentType)
	}
	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, apperr.Validation("expiresAt must be in the future").
			WithUserMessage("有効期限には未来の日時を指定してください")
	}

	if err := s.checkOwnership(ctx, userID, req.ContentType, req.ContentID); err != nil {
		return nil, err
	}

	shareID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate share id: %w", err)
	}

	link := &models.ShareLink{
		ID:          shareID,
		ContentID:   req.ContentID,
		ContentType: req.ContentType,
		CreatedBy:   userID,
		CreatedAt:   now,
		IsActive:    true,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to create share link: %w", err)
	}
	if err := s.setSharing(ctx, req.ContentType, req.ContentID, true, &shareID); err != nil {
		if delErr := s.links.Delete(ctx, shareID); delErr != nil {
			log.Error().Err(delErr).Str("share_id", shareID).Msg("Failed to remove share link after sharing flag update failed")
		}
		return nil, err
	}

	s.metrics.ShareLinks.WithLabelValues("create").Inc()
	log.Info().
		Str("user_id", userID).
		Str("share_id", shareID).
		Str("content_type", string(req.ContentType)).
		Str("content_id", req.ContentID).
		Msg("Share link created")

	return &ShareLinkResponse{
		ShareID:   shareID,
		ShareURL:  s.ShareURL(shareID),
		ExpiresAt: req.ExpiresAt,
	}, nil
}

// ShareURL returns the public URL of a share id
func (s *ShareService) ShareURL(shareID string) string {
	return s.publicURL + "/shared/" + shareID
}

// SetShareLinkActive toggles a link owned by userID
func (s *ShareService) SetShareLinkActive(ctx context.Context, userID, shareID string, active bool) (*models.ShareLink, error) {
	link, err := s.ownedLink(ctx, userID, shareID)
	if err != nil {
		return nil, err
	}
	if err := s.links.SetActive(ctx, shareID, active); err != nil {
		return nil, fmt.Errorf("failed to update share link: %w", err)
	}
	link.IsActive = active

	if err := s.syncSharing(ctx, link.ContentType, link.ContentID); err != nil {
		return nil, err
	}

	action := "deactivate"
	if active {
		action = "activate"
	}
	s.metrics.ShareLinks.WithLabelValues(action).Inc()
	return link, nil
}

// DeleteShareLink deletes a link owned by userID. Deleting the last active
// link of a content item clears its sharing flag.
func (s *ShareService) DeleteShareLink(ctx context.Context, userID, shareID string) error {
	link, err := s.ownedLink(ctx, userID, shareID)
	if err != nil {
		return err
	}
	if err := s.links.Delete(ctx, shareID); err != nil {
		return fmt.Errorf("failed to delete share link: %w", err)
	}
	if err := s.syncSharing(ctx, link.ContentType, link.ContentID); err != nil {
		return err
	}

	s.metrics.ShareLinks.WithLabelValues("delete").Inc()
	log.Info().Str("user_id", userID).Str("share_id", shareID).Msg("Share link deleted")
	return nil
}

// ListActiveLinks returns the active links of content owned by userID
func (s *ShareService) ListActiveLinks(ctx context.Context, userID string, contentType models.ContentType, contentID string) ([]*models.ShareLink, error) {
	if !contentType.Valid() {
		return nil, apperr.Validationf("unknown content type %q", contentType)
	}
	if err := s.checkOwnership(ctx, userID, contentType, contentID); err != nil {
		return nil, err
	}
	links, err := s.links.ListByContent(ctx, contentType, contentID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list share links: %w", err)
	}
	return links, nil
}

// GetSharedContent resolves a share id to its content. Unknown, inactive and
// expired links are NOT_FOUND errors whose details carry a distinct reason.
func (s *ShareService) GetSharedContent(ctx context.Context, shareID string) (*SharedContent, error) {
	link, err := s.links.GetByID(ctx, shareID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, rejectLink(ErrLinkNotFound)
		}
		return nil, err
	}
	if err := ValidateShareLink(link, s.now()); err != nil {
		return nil, rejectLink(err)
	}

	content := &SharedContent{ContentType: link.ContentType, ExpiresAt: link.ExpiresAt}
	switch link.ContentType {
	case models.ContentTypeRecord:
		record, err := s.records.GetByID(ctx, link.ContentID)
		if err != nil {
			return nil, sharedContentError(err)
		}
		content.Record = record
	case models.ContentTypeStorybook:
		book, err := s.books.GetByID(ctx, link.ContentID)
		if err != nil {
			return nil, sharedContentError(err)
		}
		content.Storybook = book
	default:
		return nil, rejectLink(ErrLinkNotFound)
	}

	s.metrics.ShareLinks.WithLabelValues("view").Inc()
	return content, nil
}

func rejectLink(err error) error {
	reason := linkReason(err)
	return apperr.Wrap(err, apperr.CodeNotFound, err.Error()).
		WithUserMessage(linkUserMessages[reason]).
		WithDetails(map[string]string{"reason": reason})
}

func sharedContentError(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return rejectLink(ErrLinkNotFound)
	}
	return err
}

func (s *ShareService) ownedLink(ctx context.Context, userID, shareID string) (*models.ShareLink, error) {
	link, err := s.links.GetByID(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if link.CreatedBy != userID {
		return nil, apperr.NotFoundf("share link %s not found", shareID)
	}
	return link, nil
}

// checkOwnership returns NOT_FOUND when the content is missing or owned by someone else
func (s *ShareService) checkOwnership(ctx context.Context, userID string, contentType models.ContentType, contentID string) error {
	var owner string
	switch contentType {
	case models.ContentTypeRecord:
		record, err := s.records.GetByID(ctx, contentID)
		if err != nil {
			return err
		}
		owner = record.UserID
	case models.ContentTypeStorybook:
		book, err := s.books.GetByID(ctx, contentID)
		if err != nil {
			return err
		}
		owner = book.UserID
	}
	if owner != userID {
		return apperr.NotFoundf("%s %s not found", contentType, contentID).
			WithUserMessage("共有するコンテンツが見つかりません")
	}
	return nil
}

// syncSharing sets the content's sharing flag from its remaining active links
func (s *ShareService) syncSharing(ctx context.Context, contentType models.ContentType, contentID string) error {
	active, err := s.links.ListByContent(ctx, contentType, contentID, true)
	if err != nil {
		return fmt.Errorf("failed to list share links: %w", err)
	}
	if len(active) == 0 {
		return s.setSharing(ctx, contentType, contentID, false, nil)
	}
	shareID := active[0].ID
	return s.setSharing(ctx, contentType, contentID, true, &shareID)
}

func (s *ShareService) setSharing(ctx context.Context, contentType models.ContentType, contentID string, shared bool, shareID *string) error {
	var err error
	switch contentType {
	case models.ContentTypeRecord:
		err = s.records.SetSharing(ctx, contentID, shared, shareID)
	case models.ContentTypeStorybook:
		err = s.books.SetSharing(ctx, contentID, shared, shareID)
	}
	if err != nil {
		return fmt.Errorf("failed to update sharing flag: %w", err)
	}
	return nil
}

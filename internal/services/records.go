package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"omoide-backend/internal/apperr"
	"omoide-backend/internal/models"
)

const uploadURLExpiry = 5 * time.Minute

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/heic": ".heic",
	"image/webp": ".webp",
}

// UploadRequest represents a request to get a pre-signed URL
type UploadRequest struct {
	FileName    string `json:"fileName" validate:"required"`
	ContentType string `json:"contentType" validate:"required,oneof=image/jpeg image/png image/heic image/webp"`
}

// UploadResponse represents the response with pre-signed URL
type UploadResponse struct {
	UploadURL  string `json:"uploadUrl"`
	PhotoID    string `json:"photoId"`
	PhotoURL   string `json:"photoUrl"`
	StorageKey string `json:"storageKey"`
	ExpiresIn  int    `json:"expiresIn"`
}

// PhotoInput is an uploaded photo to attach to a new record
type PhotoInput struct {
	ID           string `json:"id" validate:"required"`
	URL          string `json:"url" validate:"required,http_url"`
	FileName     string `json:"fileName"`
	FaceDetected bool   `json:"faceDetected"`
	StorageKey   string `json:"storageKey,omitempty"`
}

// CreateRecordRequest is the body of record creation
type CreateRecordRequest struct {
	Photos   []PhotoInput           `json:"photos" validate:"required,min=1,max=10,dive"`
	Comments []models.GrowthComment `json:"comments,omitempty"`
}

// RecordService handles growth records and their comments
type RecordService struct {
	records  RecordStore
	shares   ShareLinkStore
	objects  ObjectStore
	comments *CommentService
	loc      *time.Location
	now      func() time.Time
}

// NewRecordService creates a new record service. Months are read in loc;
// a nil loc means UTC.
func NewRecordService(records RecordStore, shares ShareLinkStore, objects ObjectStore, comments *CommentService, loc *time.Location) *RecordService {
	if loc == nil {
		loc = time.UTC
	}
	return &RecordService{
		records:  records,
		shares:   shares,
		objects:  objects,
		comments: comments,
		loc:      loc,
		now:      time.Now,
	}
}

// CurrentMonth returns the current YYYY-MM month in the service location
func (s *RecordService) CurrentMonth() string {
	return s.now().In(s.loc).Format(monthLayout)
}

// GetPreSignedURL generates a pre-signed URL for uploading a photo
func (s *RecordService) GetPreSignedURL(ctx context.Context, userID string, req UploadRequest) (*UploadResponse, error) {
	ext, ok := photoExtensions[req.ContentType]
	if !ok {
		return nil, apperr.Validationf("unsupported content type %q", req.ContentType)
	}

	photoID := uuid.New().String()
	key := fmt.Sprintf("photos/%s/%s%s", userID, photoID, ext)

	uploadURL, err := s.objects.PresignUpload(ctx, key, req.ContentType, uploadURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate pre-signed URL: %w", err)
	}

	return &UploadResponse{
		UploadURL:  uploadURL,
		PhotoID:    photoID,
		PhotoURL:   s.objects.PublicURL(key),
		StorageKey: key,
		ExpiresIn:  int(uploadURLExpiry.Seconds()),
	}, nil
}

// CreateRecord stores a new growth record for userID
func (s *RecordService) CreateRecord(ctx context.Context, userID string, req CreateRecordRequest) (*models.GrowthRecord, error) {
	now := s.now()

	photos := make([]models.Photo, len(req.Photos))
	for i, p := range req.Photos {
		photos[i] = models.Photo{
			ID:           p.ID,
			URL:          p.URL,
			FileName:     p.FileName,
			UploadedAt:   now,
			FaceDetected: p.FaceDetected,
			StorageKey:   p.StorageKey,
		}
	}

	comments := req.Comments
	if comments == nil {
		comments = []models.GrowthComment{}
	}

	record := &models.GrowthRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Photos:    photos,
		Comments:  comments,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	log.Info().Str("user_id", userID).Str("record_id", record.ID).Int("photos", len(photos)).Msg("Record created")
	return record, nil
}

// ListRecords returns the records of userID created in month (YYYY-MM)
func (s *RecordService) ListRecords(ctx context.Context, userID, month string) ([]*models.GrowthRecord, error) {
	from, to, err := monthBounds(month, s.loc)
	if err != nil {
		return nil, apperr.Validationf("invalid month %q", month)
	}
	records, err := s.records.ListByUserBetween(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// GetRecord returns a record owned by userID
func (s *RecordService) GetRecord(ctx context.Context, userID, id string) (*models.GrowthRecord, error) {
	record, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		return nil, apperr.NotFoundf("record %s not found", id)
	}
	return record, nil
}

// DeleteRecord deletes a record owned by userID together with its share links
func (s *RecordService) DeleteRecord(ctx context.Context, userID, id string) error {
	if _, err := s.GetRecord(ctx, userID, id); err != nil {
		return err
	}
	if err := s.shares.DeleteByContent(ctx, models.ContentTypeRecord, id); err != nil {
		return fmt.Errorf("failed to delete share links: %w", err)
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	log.Info().Str("user_id", userID).Str("record_id", id).Msg("Record deleted")
	return nil
}

// UpdateRecordComment edits one comment of a record owned by userID
func (s *RecordService) UpdateRecordComment(ctx context.Context, userID, recordID, commentID, content string) (*models.GrowthRecord, error) {
	record, err := s.GetRecord(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	if !hasComment(record.Comments, commentID) {
		return nil, apperr.NotFoundf("comment %s not found", commentID)
	}
	return s.saveComments(ctx, record, UpdateComment(record.Comments, commentID, content))
}

// DeleteRecordComment removes one comment of a record owned by userID
func (s *RecordService) DeleteRecordComment(ctx context.Context, userID, recordID, commentID string) (*models.GrowthRecord, error) {
	record, err := s.GetRecord(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	if !hasComment(record.Comments, commentID) {
		return nil, apperr.NotFoundf("comment %s not found", commentID)
	}
	return s.saveComments(ctx, record, RemoveComment(record.Comments, commentID))
}

// GenerateRecordComments runs the comment pipeline for a record's photos and
// appends the new comments. analysis may be empty, in which case each photo's
// face flag is used.
func (s *RecordService) GenerateRecordComments(ctx context.Context, userID, recordID string, analysis []map[string]any) (*models.GrowthRecord, *CommentGenerationResult, error) {
	record, err := s.GetRecord(ctx, userID, recordID)
	if err != nil {
		return nil, nil, err
	}

	if len(analysis) > MaxCaptionBatch {
		return nil, nil, apperr.Validationf("at most %d analysis elements are allowed", MaxCaptionBatch)
	}
	if len(analysis) == 0 {
		analysis = make([]map[string]any, len(record.Photos))
		for i, p := range record.Photos {
			analysis[i] = map[string]any{"faceDetected": p.FaceDetected}
		}
	}

	res := s.comments.GenerateCommentsForPhotos(ctx, userID, record.Photos, analysis)
	if !res.Success {
		return nil, &res, apperr.QuotaExceeded("usage limit reached").WithUserMessage(res.Error)
	}

	updated, err := s.saveComments(ctx, record, append(slices.Clone(record.Comments), res.Comments...))
	if err != nil {
		return nil, &res, err
	}
	return updated, &res, nil
}

func (s *RecordService) saveComments(ctx context.Context, record *models.GrowthRecord, comments []models.GrowthComment) (*models.GrowthRecord, error) {
	now := s.now()
	if err := s.records.UpdateComments(ctx, record.ID, comments, now); err != nil {
		return nil, fmt.Errorf("failed to update comments: %w", err)
	}
	record.Comments = comments
	record.UpdatedAt = now
	return record, nil
}

func hasComment(comments []models.GrowthComment, id string) bool {
	return slices.ContainsFunc(comments, func(c models.GrowthComment) bool { return c.ID == id })
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"omoide-backend/internal/middleware"
	"omoide-backend/internal/result"
	"omoide-backend/internal/services"
	"omoide-backend/internal/validation"
)

// CommentHandler handles caption generation requests
type CommentHandler struct {
	commentService *services.CommentService
	recordService  *services.RecordService
	validator      *validation.Validator
}

// NewCommentHandler creates a new comment handler
func NewCommentHandler(
	commentService *services.CommentService,
	recordService *services.RecordService,
	validator *validation.Validator,
) *CommentHandler {
	return &CommentHandler{
		commentService: commentService,
		recordService:  recordService,
		validator:      validator,
	}
}

// GenerateCommentsRequest is the body of POST /generate-comments
type GenerateCommentsRequest struct {
	AnalysisDataArray []map[string]any `json:"analysisDataArray" validate:"required,min=1,max=10"`
}

type generateCommentsResponse struct {
	Success  bool          `json:"success"`
	Comments []string      `json:"comments"`
	Source   result.Source `json:"source,omitempty"`
	Error    string        `json:"error,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// GenerateComments handles POST /api/v1/generate-comments
func (h *CommentHandler) GenerateComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req GenerateCommentsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "解析データがありません")
		return
	}

	res := h.commentService.GenerateCommentsForPhotos(ctx, userID, nil, req.AnalysisDataArray)
	if !res.Success {
		respondJSON(w, http.StatusTooManyRequests, generateCommentsResponse{
			Comments: []string{},
			Error:    "usage limit reached",
			Message:  res.Error,
		})
		return
	}

	comments := make([]string, len(res.Comments))
	for i, c := range res.Comments {
		comments[i] = c.Content
	}

	respondJSON(w, http.StatusOK, generateCommentsResponse{
		Success:  true,
		Comments: comments,
		Source:   res.Source,
	})
}

// GenerateRecordCommentsRequest is the body of POST /records/{id}/generate-comments
type GenerateRecordCommentsRequest struct {
	AnalysisDataArray []map[string]any `json:"analysisDataArray" validate:"max=10"`
}

// GenerateRecordComments handles POST /api/v1/records/{id}/generate-comments
func (h *CommentHandler) GenerateRecordComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	recordID := chi.URLParam(r, "id")

	var req GenerateRecordCommentsRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondAppError(w, r, err, "リクエストの形式が正しくありません")
			return
		}
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "解析データが多すぎます")
		return
	}

	record, res, err := h.recordService.GenerateRecordComments(ctx, userID, recordID, req.AnalysisDataArray)
	if err != nil {
		respondAppError(w, r, err, "コメントの生成に失敗しました")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("record_id", recordID).
		Str("source", string(res.Source)).
		Msg("Record comments generated")

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"record":  record,
		"source":  res.Source,
	})
}

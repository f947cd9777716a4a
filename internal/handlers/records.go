package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"omoide-backend/internal/middleware"
	"omoide-backend/internal/services"
	"omoide-backend/internal/validation"
)

// RecordHandler handles growth record requests
type RecordHandler struct {
	recordService *services.RecordService
	validator     *validation.Validator
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(recordService *services.RecordService, validator *validation.Validator) *RecordHandler {
	return &RecordHandler{
		recordService: recordService,
		validator:     validator,
	}
}

// UploadURL handles POST /api/v1/photos/upload-url
func (h *RecordHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.UploadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "JPEG・PNG・HEIC・WebP形式の写真を選択してください")
		return
	}

	response, err := h.recordService.GetPreSignedURL(ctx, userID, req)
	if err != nil {
		respondAppError(w, r, err, "アップロードの準備に失敗しました")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("photo_id", response.PhotoID).
		Str("filename", req.FileName).
		Msg("Pre-signed URL generated")

	respondJSON(w, http.StatusOK, response)
}

// CreateRecord handles POST /api/v1/records
func (h *RecordHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.CreateRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "写真は1枚から10枚まで追加できます")
		return
	}

	record, err := h.recordService.CreateRecord(ctx, userID, req)
	if err != nil {
		respondAppError(w, r, err, "記録の保存に失敗しました")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "record": record})
}

// ListRecords handles GET /api/v1/records?month=YYYY-MM
func (h *RecordHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	month := r.URL.Query().Get("month")
	if month == "" {
		month = h.recordService.CurrentMonth()
	}

	records, err := h.recordService.ListRecords(ctx, userID, month)
	if err != nil {
		respondAppError(w, r, err, "記録の取得に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "month": month, "records": records})
}

// GetRecord handles GET /api/v1/records/{id}
func (h *RecordHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	record, err := h.recordService.GetRecord(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err, "記録が見つかりません")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "record": record})
}

// DeleteRecord handles DELETE /api/v1/records/{id}
func (h *RecordHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.recordService.DeleteRecord(ctx, userID, chi.URLParam(r, "id")); err != nil {
		respondAppError(w, r, err, "記録の削除に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// UpdateCommentRequest is the body of PUT /records/{id}/comments/{commentId}
type UpdateCommentRequest struct {
	Content string `json:"content" validate:"required,max=200"`
}

// UpdateComment handles PUT /api/v1/records/{id}/comments/{commentId}
func (h *RecordHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req UpdateCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "コメントを入力してください")
		return
	}

	record, err := h.recordService.UpdateRecordComment(ctx, userID, chi.URLParam(r, "id"), chi.URLParam(r, "commentId"), req.Content)
	if err != nil {
		respondAppError(w, r, err, "コメントの更新に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "record": record})
}

// DeleteComment handles DELETE /api/v1/records/{id}/comments/{commentId}
func (h *RecordHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	record, err := h.recordService.DeleteRecordComment(ctx, userID, chi.URLParam(r, "id"), chi.URLParam(r, "commentId"))
	if err != nil {
		respondAppError(w, r, err, "コメントの削除に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "record": record})
}

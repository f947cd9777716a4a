package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"omoide-backend/internal/apperr"
	"omoide-backend/internal/middleware"
	"omoide-backend/internal/services"
	"omoide-backend/internal/validation"
)

// StorybookHandler handles storybook and narration requests
type StorybookHandler struct {
	storybookService *services.StorybookService
	narrationService *services.NarrationService
	validator        *validation.Validator
}

// NewStorybookHandler creates a new storybook handler
func NewStorybookHandler(
	storybookService *services.StorybookService,
	narrationService *services.NarrationService,
	validator *validation.Validator,
) *StorybookHandler {
	return &StorybookHandler{
		storybookService: storybookService,
		narrationService: narrationService,
		validator:        validator,
	}
}

// GenerateStorybookRequest is the body of POST /generate-storybook
type GenerateStorybookRequest struct {
	UserID string `json:"userId,omitempty"`
	Month  string `json:"month" validate:"required,month"`
	services.StorybookOptions
}

// sameUser rejects requests that name a user other than the caller
func sameUser(callerID, requested string) error {
	if requested != "" && requested != callerID {
		return apperr.Forbidden("user mismatch").WithUserMessage("他のユーザーのデータにはアクセスできません")
	}
	return nil
}

// GenerateStorybook handles POST /api/v1/generate-storybook
func (h *StorybookHandler) GenerateStorybook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req GenerateStorybookRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := sameUser(userID, req.UserID); err != nil {
		respondAppError(w, r, err, "")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "月の指定が正しくありません（YYYY-MM形式）")
		return
	}

	start := time.Now()
	book, err := h.storybookService.GenerateStorybook(ctx, userID, req.Month, req.StorybookOptions)
	if err != nil {
		respondAppError(w, r, err, "絵本の作成に失敗しました")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("storybook_id", book.ID).
		Str("month", book.Month).
		Int("pages", len(book.Pages)).
		Dur("elapsed", time.Since(start)).
		Msg("Storybook generated")

	respondJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"storybookId": book.ID,
		"storybook":   book,
	})
}

// StorybookStatus handles GET /api/v1/storybook-status?month=YYYY-MM
func (h *StorybookHandler) StorybookStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	query := r.URL.Query()

	if err := sameUser(userID, query.Get("userId")); err != nil {
		respondAppError(w, r, err, "")
		return
	}

	month := query.Get("month")
	if month == "" {
		month = h.storybookService.CurrentMonth()
	}

	status := h.storybookService.CheckMonthlyStorybookStatus(ctx, userID, month)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

// ListStorybooks handles GET /api/v1/storybooks
func (h *StorybookHandler) ListStorybooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	books, err := h.storybookService.ListStorybooks(ctx, userID)
	if err != nil {
		respondAppError(w, r, err, "絵本の取得に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "storybooks": books})
}

// GetStorybook handles GET /api/v1/storybooks/{id}
func (h *StorybookHandler) GetStorybook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	book, err := h.storybookService.GetStorybook(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err, "絵本が見つかりません")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "storybook": book})
}

// DeleteStorybook handles DELETE /api/v1/storybooks/{id}
func (h *StorybookHandler) DeleteStorybook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.storybookService.DeleteStorybook(ctx, userID, chi.URLParam(r, "id")); err != nil {
		respondAppError(w, r, err, "絵本の削除に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GenerateAudio handles POST /api/v1/generate-audio
func (h *StorybookHandler) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.AudioRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "読み上げるテキストを入力してください")
		return
	}

	audio, err := h.narrationService.GenerateAudio(ctx, userID, req)
	if err != nil {
		respondAppError(w, r, err, "音声の生成に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"audioUrl": audio.AudioURL,
		"fileName": audio.FileName,
	})
}

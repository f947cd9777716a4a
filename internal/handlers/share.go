package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"omoide-backend/internal/middleware"
	"omoide-backend/internal/models"
	"omoide-backend/internal/services"
	"omoide-backend/internal/validation"
)

// ShareHandler handles share link requests
type ShareHandler struct {
	shareService *services.ShareService
	validator    *validation.Validator
}

// NewShareHandler creates a new share handler
func NewShareHandler(shareService *services.ShareService, validator *validation.Validator) *ShareHandler {
	return &ShareHandler{
		shareService: shareService,
		validator:    validator,
	}
}

// CreateShareLinkRequest is the body of POST /create-share-link
type CreateShareLinkRequest struct {
	services.CreateShareLinkRequest
	UserID string `json:"userId,omitempty"`
}

// CreateShareLink handles POST /api/v1/create-share-link
func (h *ShareHandler) CreateShareLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateShareLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := sameUser(userID, req.UserID); err != nil {
		respondAppError(w, r, err, "")
		return
	}
	if err := h.validator.Validate(&req.CreateShareLinkRequest); err != nil {
		respondAppError(w, r, err, "共有する内容を指定してください")
		return
	}

	link, err := h.shareService.CreateShareLink(ctx, userID, req.CreateShareLinkRequest)
	if err != nil {
		respondAppError(w, r, err, "共有リンクの作成に失敗しました")
		return
	}

	respondJSON(w, http.StatusCreated, link)
}

// ListShareLinks handles GET /api/v1/manage-share-link?contentType=&contentId=
func (h *ShareHandler) ListShareLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	query := r.URL.Query()

	contentType := models.ContentType(query.Get("contentType"))
	contentID := query.Get("contentId")
	if contentID == "" {
		respondError(w, "contentId is required", "共有する内容を指定してください", http.StatusBadRequest)
		return
	}

	links, err := h.shareService.ListActiveLinks(ctx, userID, contentType, contentID)
	if err != nil {
		respondAppError(w, r, err, "共有リンクの取得に失敗しました")
		return
	}

	type linkView struct {
		*models.ShareLink
		ShareURL string `json:"shareUrl"`
	}
	views := make([]linkView, len(links))
	for i, l := range links {
		views[i] = linkView{ShareLink: l, ShareURL: h.shareService.ShareURL(l.ID)}
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "links": views})
}

// UpdateShareLinkRequest is the body of PUT /manage-share-link
type UpdateShareLinkRequest struct {
	ShareID  string `json:"shareId" validate:"required"`
	IsActive *bool  `json:"isActive" validate:"required"`
}

// UpdateShareLink handles PUT /api/v1/manage-share-link
func (h *ShareHandler) UpdateShareLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req UpdateShareLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "共有リンクを指定してください")
		return
	}

	link, err := h.shareService.SetShareLinkActive(ctx, userID, req.ShareID, *req.IsActive)
	if err != nil {
		respondAppError(w, r, err, "共有リンクの更新に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "link": link})
}

// DeleteShareLink handles DELETE /api/v1/manage-share-link?shareId=
func (h *ShareHandler) DeleteShareLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	shareID := r.URL.Query().Get("shareId")
	if shareID == "" {
		respondError(w, "shareId is required", "共有リンクを指定してください", http.StatusBadRequest)
		return
	}

	if err := h.shareService.DeleteShareLink(ctx, userID, shareID); err != nil {
		respondAppError(w, r, err, "共有リンクの削除に失敗しました")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// SharedContent handles GET /api/v1/shared-content/{shareId}. It is public.
func (h *ShareHandler) SharedContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.shareService.GetSharedContent(r.Context(), chi.URLParam(r, "shareId"))
	if err != nil {
		respondAppError(w, r, err, "共有リンクが見つかりません")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "content": content})
}

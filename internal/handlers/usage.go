package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"omoide-backend/internal/middleware"
	"omoide-backend/internal/services"
)

// UsageHandler exposes a user's AI usage counters
type UsageHandler struct {
	usage *services.UsageRegistry
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(usage *services.UsageRegistry) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// GetUsage handles GET /api/v1/usage
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	tracker := h.usage.For(middleware.GetUserID(r.Context()))

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"stats":    tracker.GetUsageStats(),
		"decision": tracker.CanMakeRequest(),
	})
}

// ResetUsage handles DELETE /api/v1/usage
func (h *UsageHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	h.usage.For(userID).ResetUsage()

	log.Info().Str("user_id", userID).Msg("Usage reset")
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

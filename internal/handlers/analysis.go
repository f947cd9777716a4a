package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"omoide-backend/internal/apperr"
	"omoide-backend/internal/services"
	"omoide-backend/internal/validation"
)

// AnalysisHandler handles photo analysis requests
type AnalysisHandler struct {
	analysisService *services.AnalysisService
	validator       *validation.Validator
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(analysisService *services.AnalysisService, validator *validation.Validator) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		validator:       validator,
	}
}

// AnalyzePhotosRequest is the body of POST /analyze-photos
type AnalyzePhotosRequest struct {
	PhotoURLs []string `json:"photoUrls" validate:"required,min=1,max=10,dive,http_url"`
}

type analyzePhotosResponse struct {
	Success bool                      `json:"success"`
	Results []services.AnalysisResult `json:"results"`
	Error   string                    `json:"error,omitempty"`
	Message string                    `json:"message,omitempty"`
}

// AnalyzePhotos handles POST /api/v1/analyze-photos
func (h *AnalysisHandler) AnalyzePhotos(w http.ResponseWriter, r *http.Request) {
	var req AnalyzePhotosRequest
	err := decodeJSON(r, &req)
	if err == nil {
		err = h.validator.Validate(&req)
	}
	if err != nil {
		var appErr *apperr.Error
		msg := "Invalid request"
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		respondJSON(w, http.StatusBadRequest, analyzePhotosResponse{
			Results: []services.AnalysisResult{},
			Error:   msg,
			Message: "写真は1枚から10枚まで選択してください",
		})
		return
	}

	results := services.ProcessAnalysisResults(h.analysisService.AnalyzeImages(r.Context(), req.PhotoURLs))

	valid := 0
	for _, res := range results {
		if res.Evaluation != nil && res.Evaluation.IsValid {
			valid++
		}
	}
	log.Info().Int("photos", len(results)).Int("valid", valid).Msg("Photos analyzed")

	respondJSON(w, http.StatusOK, analyzePhotosResponse{Success: true, Results: results})
}

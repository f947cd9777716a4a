package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"omoide-backend/internal/apperr"
)

const maxBodyBytes = 1 << 20

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// respondJSON writes v with the given status
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message, userMessage string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Message: userMessage})
}

// respondAppError maps err to its HTTP status. Internal errors are logged and
// their message is not sent to the client.
func respondAppError(w http.ResponseWriter, r *http.Request, err error, userFallback string) {
	status := apperr.Status(err)
	resp := ErrorResponse{Message: apperr.UserMessage(err, userFallback)}

	var appErr *apperr.Error
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		resp.Error = appErr.Message
		resp.Details = appErr.Details
		log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	} else {
		resp.Error = http.StatusText(status)
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	}

	respondJSON(w, status, resp)
}

// decodeJSON decodes the request body into dst
func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "Invalid request body").
			WithUserMessage("リクエストの形式が正しくありません")
	}
	return nil
}

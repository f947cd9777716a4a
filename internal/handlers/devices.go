package handlers

import (
	"net/http"

	"omoide-backend/internal/middleware"
	"omoide-backend/internal/services"
	"omoide-backend/internal/validation"
)

// DeviceHandler registers push notification tokens
type DeviceHandler struct {
	deviceService *services.DeviceService
	validator     *validation.Validator
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *services.DeviceService, validator *validation.Validator) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		validator:     validator,
	}
}

// DeviceRequest carries an APNs device token
type DeviceRequest struct {
	PushToken string `json:"pushToken" validate:"required,hexadecimal,min=32,max=200"`
}

// RegisterDevice handles POST /api/v1/devices
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	h.withToken(w, r, func(req DeviceRequest) error {
		return h.deviceService.RegisterDevice(r.Context(), middleware.GetUserID(r.Context()), req.PushToken)
	})
}

// UnregisterDevice handles DELETE /api/v1/devices
func (h *DeviceHandler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	h.withToken(w, r, func(req DeviceRequest) error {
		return h.deviceService.UnregisterDevice(r.Context(), middleware.GetUserID(r.Context()), req.PushToken)
	})
}

func (h *DeviceHandler) withToken(w http.ResponseWriter, r *http.Request, fn func(DeviceRequest) error) {
	var req DeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, r, err, "リクエストの形式が正しくありません")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondAppError(w, r, err, "通知の登録に失敗しました")
		return
	}
	if err := fn(req); err != nil {
		respondAppError(w, r, err, "通知の登録に失敗しました")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

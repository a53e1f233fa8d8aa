package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phonelink/server/internal/middleware"
	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/services"
)

// DeviceHandler handles device registry endpoints
type DeviceHandler struct {
	devices *services.DeviceService
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(devices *services.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		devices: devices,
	}
}

// RegisterDevice registers a new device for the authenticated identity
// @Summary Register device
// @Description Register a device under the authenticated identity
// @Tags devices
// @Accept json
// @Produce json
// @Param request body models.RegisterDeviceRequest true "Device info"
// @Success 200 {object} models.DeviceResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/devices [post]
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	device, err := h.devices.Register(r.Context(), userID, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(device.ToResponse())
}

// ListDevices returns all devices for the current user
// @Summary List devices
// @Description List all devices attached to the authenticated identity
// @Tags devices
// @Produce json
// @Success 200 {array} models.DeviceResponse
// @Security BearerAuth
// @Router /api/devices [get]
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	devices, err := h.devices.List(r.Context(), userID)
	if err != nil {
		http.Error(w, "Failed to list devices", http.StatusInternalServerError)
		return
	}

	responses := make([]models.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		responses = append(responses, d.ToResponse())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// UpdatePushToken stores a device's current push delivery token
// @Summary Update push token
// @Description Update a device's push delivery token
// @Tags devices
// @Accept json
// @Produce json
// @Param id path string true "Device ID"
// @Param request body models.UpdatePushTokenRequest true "Push token"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/devices/{id}/push-token [put]
func (h *DeviceHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID := chi.URLParam(r, "id")
	var req models.UpdatePushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PushToken == "" {
		http.Error(w, "Push token is required", http.StatusBadRequest)
		return
	}

	if err := h.devices.UpdatePushToken(r.Context(), userID, deviceID, req.PushToken); err != nil {
		if err == models.ErrDeviceNotFound {
			http.Error(w, "Device not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to update push token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// DeleteDevice unpairs a device
// @Summary Delete device
// @Description Unpair a device from the authenticated identity
// @Tags devices
// @Param id path string true "Device ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/devices/{id} [delete]
func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID := chi.URLParam(r, "id")
	if deviceID == "" {
		http.Error(w, "Device ID is required", http.StatusBadRequest)
		return
	}

	deleted, err := h.devices.Remove(r.Context(), userID, deviceID)
	if err != nil {
		http.Error(w, "Failed to delete device", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

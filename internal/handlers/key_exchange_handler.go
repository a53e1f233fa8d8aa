package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/phonelink/server/internal/middleware"
	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/services"
)

// KeyExchangeRequestBody starts a key exchange with another device.
type KeyExchangeRequestBody struct {
	TargetDevice string `json:"targetDevice"`
}

// KeyExchangeHandler handles E2EE key brokering endpoints. Payloads are
// opaque to the server end to end.
type KeyExchangeHandler struct {
	keyExchange *services.KeyExchangeService
}

// NewKeyExchangeHandler creates a new KeyExchangeHandler
func NewKeyExchangeHandler(keyExchange *services.KeyExchangeService) *KeyExchangeHandler {
	return &KeyExchangeHandler{
		keyExchange: keyExchange,
	}
}

// RequestExchange records that the calling device needs key material
// @Summary Request key exchange
// @Description Request encrypted key material from another device of the same user
// @Tags keys
// @Accept json
// @Produce json
// @Param request body KeyExchangeRequestBody true "Target device"
// @Success 200 {object} models.KeyExchangeRequest
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/request [post]
func (h *KeyExchangeHandler) RequestExchange(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	deviceID := middleware.DeviceIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var body KeyExchangeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TargetDevice == "" {
		http.Error(w, "Target device is required", http.StatusBadRequest)
		return
	}

	req, err := h.keyExchange.Request(r.Context(), userID, deviceID, body.TargetDevice)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// RespondExchange fulfills a pending request with an encrypted payload
// @Summary Respond to key exchange
// @Description Attach the encrypted response to a pending request; exactly once
// @Tags keys
// @Accept json
// @Produce json
// @Param request body models.KeyExchangeResponse true "Encrypted response"
// @Success 200 {object} models.KeyExchangeRequest
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/keys/respond [post]
func (h *KeyExchangeHandler) RespondExchange(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	deviceID := middleware.DeviceIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var resp models.KeyExchangeResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil || resp.RequestID == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	req, err := h.keyExchange.Respond(r.Context(), userID, deviceID, resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// ListPending returns exchanges waiting on the calling device
// @Summary List pending key exchanges
// @Description List requests the calling device still has to respond to
// @Tags keys
// @Produce json
// @Success 200 {array} models.KeyExchangeRequest
// @Security BearerAuth
// @Router /api/keys/pending [get]
func (h *KeyExchangeHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	deviceID := middleware.DeviceIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	pending, err := h.keyExchange.Pending(r.Context(), userID, deviceID)
	if err != nil {
		http.Error(w, "Failed to list pending exchanges", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pending)
}

// ListFulfilled returns completed exchanges the calling device requested
// @Summary List fulfilled key exchanges
// @Description Collect encrypted responses for exchanges this device requested
// @Tags keys
// @Produce json
// @Success 200 {array} models.KeyExchangeRequest
// @Security BearerAuth
// @Router /api/keys/fulfilled [get]
func (h *KeyExchangeHandler) ListFulfilled(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	deviceID := middleware.DeviceIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	fulfilled, err := h.keyExchange.Fulfilled(r.Context(), userID, deviceID)
	if err != nil {
		http.Error(w, "Failed to list fulfilled exchanges", http.StatusInternalServerError)
		return
	}

	responses := make([]map[string]interface{}, 0, len(fulfilled))
	for _, req := range fulfilled {
		responses = append(responses, map[string]interface{}{
			"id":               req.ID,
			"requestingDevice": req.RequestingDevice,
			"targetDevice":     req.TargetDevice,
			"state":            req.State.String(),
			"fulfilledAt":      req.FulfilledAt,
			"encryptedPayload": req.EncryptedResponse,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

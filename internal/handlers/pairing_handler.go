package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/phonelink/server/internal/middleware"
	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/observability"
	"github.com/phonelink/server/internal/services"
)

// CreatePairingRequest is the request body for starting a pairing flow.
type CreatePairingRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

// CreatePairingResponse returns the human-typeable token. The token is shown
// once; only its hash is stored.
type CreatePairingResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// PairingHandler handles the device pairing handshake endpoints
type PairingHandler struct {
	pairing *services.PairingService
	tokens  *services.TokenService
	metrics *observability.SyncMetrics
}

// NewPairingHandler creates a new PairingHandler. metrics may be nil.
func NewPairingHandler(pairing *services.PairingService, tokens *services.TokenService, metrics *observability.SyncMetrics) *PairingHandler {
	return &PairingHandler{
		pairing: pairing,
		tokens:  tokens,
		metrics: metrics,
	}
}

// Create starts a pairing flow for the joining device
// @Summary Create pairing request
// @Description Start a pairing flow; returns a short-lived single-use token
// @Tags pairing
// @Accept json
// @Produce json
// @Param request body CreatePairingRequest true "Joining device info"
// @Success 200 {object} CreatePairingResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/pairing [post]
func (h *PairingHandler) Create(w http.ResponseWriter, r *http.Request) {
	requesterID := middleware.UserIDFromContext(r.Context())
	if requesterID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreatePairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" || req.DeviceName == "" {
		http.Error(w, "Device ID and name are required", http.StatusBadRequest)
		return
	}

	pairing, err := h.pairing.Create(r.Context(), req.DeviceID, req.DeviceName, req.DeviceType, requesterID)
	if err != nil {
		http.Error(w, "Failed to create pairing request", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CreatePairingResponse{
		Token:     pairing.Token,
		ExpiresAt: pairing.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// TokenRequest carries a pairing token in a request body.
type TokenRequest struct {
	Token string `json:"token"`
}

// Approve binds the authenticated user's identity to a pending request
// @Summary Approve pairing request
// @Description Approve a pending pairing request from an already-paired device
// @Tags pairing
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Pairing token"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/pairing/approve [post]
func (h *PairingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "Pairing token is required", http.StatusBadRequest)
		return
	}

	ok, err := h.pairing.Approve(r.Context(), req.Token, userID)
	if h.metrics != nil {
		h.metrics.RecordPairingOutcome(r.Context(), "approve", ok && err == nil)
	}
	if err != nil {
		http.Error(w, "Failed to approve pairing request", http.StatusInternalServerError)
		return
	}
	if !ok {
		// Uniform failure: unknown, expired and already-handled tokens are
		// indistinguishable
		http.Error(w, "Pairing failed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// Redeem completes the handshake from the joining device
// @Summary Redeem pairing request
// @Description Redeem an approved pairing token; yields tokens for the paired identity
// @Tags pairing
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Pairing token"
// @Success 200 {object} ResolveResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/pairing/redeem [post]
func (h *PairingHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "Pairing token is required", http.StatusBadRequest)
		return
	}

	result, err := h.pairing.Redeem(r.Context(), req.Token)
	if h.metrics != nil {
		h.metrics.RecordPairingOutcome(r.Context(), "redeem", err == nil)
	}
	if err != nil {
		if errors.Is(err, models.ErrPairingFailed) {
			http.Error(w, "Pairing failed", http.StatusBadRequest)
			return
		}
		observability.Errorf("pairing redeem failed: %v", err)
		http.Error(w, "Failed to redeem pairing request", http.StatusInternalServerError)
		return
	}

	pair, err := h.tokens.Issue(result.UserID, result.DeviceID, services.IssueOptions{PairedUID: result.UserID})
	if err != nil {
		http.Error(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"userId":   result.UserID,
		"deviceId": result.DeviceID,
		"tokens":   pair,
	})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phonelink/server/internal/middleware"
	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/observability"
	"github.com/phonelink/server/internal/services"
)

// SyncContactsRequest is a batch of contact writes from one device.
type SyncContactsRequest struct {
	Contacts []models.ContactWrite `json:"contacts"`
}

// SyncContactsResponse reports per-write outcomes in request order.
type SyncContactsResponse struct {
	Results []services.SyncOutcome `json:"results"`
}

// ContactHandler handles contact synchronization endpoints
type ContactHandler struct {
	contacts *services.ContactSyncService
	metrics  *observability.SyncMetrics
}

// NewContactHandler creates a new ContactHandler. metrics may be nil.
func NewContactHandler(contacts *services.ContactSyncService, metrics *observability.SyncMetrics) *ContactHandler {
	return &ContactHandler{
		contacts: contacts,
		metrics:  metrics,
	}
}

// SyncContacts applies a batch of contact writes from a device
// @Summary Sync contacts
// @Description Apply a batch of contact writes; stale writes are silent no-ops
// @Tags contacts
// @Accept json
// @Produce json
// @Param request body SyncContactsRequest true "Contact writes"
// @Success 200 {object} SyncContactsResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/contacts/sync [post]
func (h *ContactHandler) SyncContacts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	deviceID := middleware.DeviceIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SyncContactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	results := make([]services.SyncOutcome, 0, len(req.Contacts))
	for _, write := range req.Contacts {
		outcome, err := h.contacts.Apply(r.Context(), userID, deviceID, write)
		if err != nil {
			// A malformed record fails its own slot; the rest of the batch
			// still applies
			results = append(results, services.SyncOutcome{Applied: false})
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordSyncWrite(r.Context(), "contacts", outcome.Applied)
		}
		results = append(results, *outcome)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SyncContactsResponse{Results: results})
}

// ListContacts returns the full contact set for reconnect reconciliation
// @Summary List contacts
// @Description Full pull of the authoritative contact set
// @Tags contacts
// @Produce json
// @Success 200 {array} models.Contact
// @Security BearerAuth
// @Router /api/contacts [get]
func (h *ContactHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	contacts, err := h.contacts.List(r.Context(), userID)
	if err != nil {
		http.Error(w, "Failed to list contacts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contacts)
}

// DeleteContact removes a contact and broadcasts the deletion
// @Summary Delete contact
// @Description Delete a contact by id
// @Tags contacts
// @Param id path string true "Contact ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/contacts/{id} [delete]
func (h *ContactHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	deviceID := middleware.DeviceIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	contactID := chi.URLParam(r, "id")
	if contactID == "" {
		http.Error(w, "Contact ID is required", http.StatusBadRequest)
		return
	}

	deleted, err := h.contacts.Delete(r.Context(), userID, deviceID, contactID)
	if err != nil {
		http.Error(w, "Failed to delete contact", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Contact not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

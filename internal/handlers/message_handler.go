package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/phonelink/server/internal/middleware"
	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/services"
)

// MessageHandler handles mirrored SMS endpoints
type MessageHandler struct {
	messages *services.MessageService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(messages *services.MessageService) *MessageHandler {
	return &MessageHandler{
		messages: messages,
	}
}

// ReportMessage ingests one mirrored message from the phone
// @Summary Report message
// @Description Store a mirrored SMS entry and broadcast it to companions
// @Tags messages
// @Accept json
// @Produce json
// @Param request body models.MessageWrite true "Message"
// @Success 200 {object} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/messages [post]
func (h *MessageHandler) ReportMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	deviceID := middleware.DeviceIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var write models.MessageWrite
	if err := json.NewDecoder(r.Body).Decode(&write); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	message, err := h.messages.Report(r.Context(), userID, deviceID, write)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(message)
}

// ListMessages returns recent messages for reconnect catch-up
// @Summary List messages
// @Description List recent mirrored messages, newest first
// @Tags messages
// @Produce json
// @Param limit query int false "Maximum number of messages"
// @Success 200 {array} models.Message
// @Security BearerAuth
// @Router /api/messages [get]
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.messages.Recent(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

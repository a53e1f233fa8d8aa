package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phonelink/server/internal/middleware"
	"github.com/phonelink/server/internal/observability"
	"github.com/phonelink/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now - can be restricted in production
		return true
	},
}

// WebSocketHandler handles the persistent realtime connection
type WebSocketHandler struct {
	hub     *services.Hub
	devices *services.DeviceService
	metrics *observability.SyncMetrics
}

// NewWebSocketHandler creates a new WebSocketHandler. metrics may be nil.
func NewWebSocketHandler(hub *services.Hub, devices *services.DeviceService, metrics *observability.SyncMetrics) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		devices: devices,
		metrics: metrics,
	}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection. The
// request has already passed bearer auth; identity comes from the verified
// claims in context.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	deviceID := middleware.DeviceIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), userID, deviceID, conn)
	h.hub.Register(client)
	h.devices.Touch(r.Context(), deviceID)

	if h.metrics != nil {
		h.metrics.RecordConnectionChange(r.Context(), 1)
		// The request context is cancelled once the connection drops, so the
		// decrement records against a fresh one.
		defer h.metrics.RecordConnectionChange(context.Background(), -1)
	}

	// Start the write pump before the connected frame so it has a consumer
	go client.WritePump()

	h.sendFrame(client, services.WSMessage{
		Type:     services.WSTypeConnected,
		UserID:   userID,
		DeviceID: deviceID,
	})

	// Run the read pump (blocks until connection closes)
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket frames. An invalid channel name
// yields an error frame; the connection stays open.
func (h *WebSocketHandler) handleMessage(client *services.Client, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendFrame(client, services.WSMessage{
			Type:    services.WSTypeError,
			Message: "invalid message",
		})
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		for _, channel := range h.channelsOf(msg) {
			if !h.hub.Subscribe(client, channel) {
				h.sendFrame(client, services.WSMessage{
					Type:    services.WSTypeError,
					Channel: channel,
					Message: "unknown channel: " + channel,
				})
				continue
			}
			h.sendFrame(client, services.WSMessage{
				Type:    services.WSTypeSubscribed,
				Channel: channel,
			})
		}

	case services.WSTypeUnsubscribe:
		for _, channel := range h.channelsOf(msg) {
			h.hub.Unsubscribe(client, channel)
			h.sendFrame(client, services.WSMessage{
				Type:    services.WSTypeUnsubscribed,
				Channel: channel,
			})
		}

	case services.WSTypePing:
		h.sendFrame(client, services.WSMessage{Type: services.WSTypePong})

	default:
		h.sendFrame(client, services.WSMessage{
			Type:    services.WSTypeError,
			Message: "unknown message type: " + msg.Type,
		})
	}
}

// channelsOf normalizes the single-channel and bulk frame shapes.
func (h *WebSocketHandler) channelsOf(msg services.WSMessage) []string {
	if len(msg.Channels) > 0 {
		return msg.Channels
	}
	if msg.Channel != "" {
		return []string{msg.Channel}
	}
	return nil
}

func (h *WebSocketHandler) sendFrame(client *services.Client, msg services.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

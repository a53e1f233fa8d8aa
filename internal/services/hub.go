package services

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phonelink/server/internal/models"
)

// WSMessage represents a WebSocket frame exchanged with a device connection
type WSMessage struct {
	Type     string      `json:"type"`
	Channel  string      `json:"channel,omitempty"`
	Channels []string    `json:"channels,omitempty"`
	Message  string      `json:"message,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	UserID   string      `json:"userId,omitempty"`
	DeviceID string      `json:"deviceId,omitempty"`
}

// Client represents one live device connection
type Client struct {
	ID         string
	UserID     string
	DeviceID   string
	Channels   map[string]bool
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *Hub
	mu         sync.Mutex
	closedOnce sync.Once
}

// Hub is the connection registry and broadcaster. It is an injected,
// explicitly owned instance so tests can run isolated registries; there is no
// process-wide singleton.
type Hub struct {
	clients    map[*Client]bool
	userConns  map[string]map[*Client]bool // userID -> connections
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg

	heartbeat  time.Duration
	sendBuffer int

	mu sync.RWMutex
}

type broadcastMsg struct {
	userID        string
	channel       string // empty means every connection of the user
	excludeDevice string // skip the originating device to avoid echo
	message       []byte
}

// NewHub creates a hub with the given heartbeat interval and per-client send
// buffer size. Zero values fall back to sane defaults.
func NewHub(heartbeat time.Duration, sendBuffer int) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		userConns:  make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
		heartbeat:  heartbeat,
		sendBuffer: sendBuffer,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.userConns[client.UserID] == nil {
				h.userConns[client.UserID] = make(map[*Client]bool)
			}
			h.userConns[client.UserID][client] = true
			h.mu.Unlock()
			log.Printf("Device connection opened: %s (device %s)", client.ID, client.DeviceID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if userClients, ok := h.userConns[client.UserID]; ok {
					delete(userClients, client)
					if len(userClients) == 0 {
						delete(h.userConns, client.UserID)
					}
				}
				close(client.Send)
			}
			h.mu.Unlock()
			log.Printf("Device connection closed: %s (device %s)", client.ID, client.DeviceID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.userConns[msg.userID] {
				if msg.excludeDevice != "" && client.DeviceID == msg.excludeDevice {
					continue
				}
				if msg.channel != "" && !client.subscribedTo(msg.channel) {
					continue
				}
				select {
				case client.Send <- msg.message:
				default:
					// Client buffer full, drop the connection rather than
					// letting one slow reader stall the fan-out
					go func(c *Client) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a channel. Returns false for unknown channels.
func (h *Hub) Subscribe(client *Client, channel string) bool {
	if !models.IsValidChannel(channel) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Channels[channel] = true
	return true
}

// Unsubscribe removes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.Channels, channel)
}

// subscribedTo reports whether the client's subscription set covers the
// channel. Callers hold at least the hub read lock.
func (c *Client) subscribedTo(channel string) bool {
	return c.Channels[channel] || c.Channels[models.ChannelAll]
}

// BroadcastChange fans a change event out to every live connection of the
// owning user subscribed to the event's channel. excludeDeviceID skips the
// originating device so a write is not echoed back to its author; pass ""
// to deliver to every connection. Delivery is best-effort and at-most-once.
func (h *Hub) BroadcastChange(event models.ChangeEvent, excludeDeviceID string) {
	data, err := json.Marshal(WSMessage{
		Type: event.Type(),
		Data: event.Payload,
	})
	if err != nil {
		log.Printf("Error marshaling change event: %v", err)
		return
	}

	h.broadcast <- &broadcastMsg{
		userID:        event.UserID,
		channel:       event.Channel(),
		excludeDevice: excludeDeviceID,
		message:       data,
	}
}

// SendToUser sends a message to all connections of a user regardless of
// channel subscriptions. Used for connection-level frames.
func (h *Hub) SendToUser(userID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling WebSocket message: %v", err)
		return
	}

	h.broadcast <- &broadcastMsg{
		userID:  userID,
		message: data,
	}
}

// DisconnectUser force-closes every live connection of a user. The session
// tracker calls this when an idle session is invalidated, so an expired user
// is visibly signed out rather than silently dropped from a map.
func (h *Hub) DisconnectUser(userID string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.userConns[userID]))
	for client := range h.userConns[userID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.unregister <- client
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserConnectionCount returns the number of live connections for a user
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID])
}

// NewClient creates a new client connected to this hub
func (h *Hub) NewClient(id, userID, deviceID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		DeviceID: deviceID,
		Channels: make(map[string]bool),
		Conn:     conn,
		Send:     make(chan []byte, h.sendBuffer),
		hub:      h,
	}
}

// Client methods

// Close closes the client connection
func (c *Client) Close() {
	c.closedOnce.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump pumps messages from the hub to the websocket connection and
// drives the heartbeat. A connection that misses a ping cycle is terminated.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.heartbeat)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump pumps messages from the websocket connection into the handler. It
// recovers from handler panics so a fault in one device's channel never
// affects other connections or the registry.
func (c *Client) ReadPump(onMessage func(client *Client, messageType int, data []byte)) {
	defer c.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered panic in connection %s: %v", c.ID, r)
		}
	}()

	c.Conn.SetReadLimit(512 * 1024) // 512KB max message size
	c.Conn.SetReadDeadline(time.Now().Add(2 * c.hub.heartbeat))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(2 * c.hub.heartbeat))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if onMessage != nil {
			onMessage(c, messageType, message)
		}
	}
}

// Wire frame types
const (
	WSTypeConnected    = "connected"
	WSTypeSubscribe    = "subscribe"
	WSTypeUnsubscribe  = "unsubscribe"
	WSTypeSubscribed   = "subscribed"
	WSTypeUnsubscribed = "unsubscribed"
	WSTypeError        = "error"
	WSTypePing         = "ping"
	WSTypePong         = "pong"
	WSTypeRefreshDue   = "refresh_due"
)

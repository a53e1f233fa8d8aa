package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message mirrors an SMS thread entry from the phone. The phone is the source
// of truth; companion clients only read and request sends, so messages do not
// carry conflict-resolution versions.
type Message struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	DeviceID   string    `json:"deviceId"` // Device that reported the message
	RemoteID   string    `json:"remoteId,omitempty"`
	Address    string    `json:"address"` // Other party's phone number
	Body       string    `json:"body"`
	Direction  string    `json:"direction"` // "incoming" or "outgoing"
	OccurredAt time.Time `json:"occurredAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageWrite is an incoming message report from the phone.
type MessageWrite struct {
	RemoteID   string    `json:"remoteId,omitempty"`
	Address    string    `json:"address"`
	Body       string    `json:"body"`
	Direction  string    `json:"direction"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewMessage creates a message record from a device report.
func NewMessage(userID, deviceID string, w MessageWrite) (*Message, error) {
	address := NormalizePhone(w.Address)
	if address == "" {
		return nil, ErrEmptyAddress
	}
	direction := strings.TrimSpace(strings.ToLower(w.Direction))
	if direction != "incoming" && direction != "outgoing" {
		return nil, ErrInvalidDirection
	}
	occurred := w.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	return &Message{
		ID:         uuid.New().String(),
		UserID:     userID,
		DeviceID:   deviceID,
		RemoteID:   strings.TrimSpace(w.RemoteID),
		Address:    address,
		Body:       w.Body,
		Direction:  direction,
		OccurredAt: occurred,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Message errors
var (
	ErrEmptyAddress     = MessageError{"message address cannot be empty"}
	ErrInvalidDirection = MessageError{"direction must be 'incoming' or 'outgoing'"}
)

type MessageError struct {
	Message string
}

func (e MessageError) Error() string {
	return e.Message
}

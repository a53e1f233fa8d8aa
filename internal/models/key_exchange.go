package models

import (
	"time"

	"github.com/google/uuid"
)

// KeyExchangeState is the explicit state of a key exchange request.
type KeyExchangeState int

const (
	KeyExchangePending KeyExchangeState = iota
	KeyExchangeFulfilled
)

func (s KeyExchangeState) String() string {
	switch s {
	case KeyExchangePending:
		return "pending"
	case KeyExchangeFulfilled:
		return "fulfilled"
	default:
		return "unknown"
	}
}

// ParseKeyExchangeState converts a stored status string back to a state.
func ParseKeyExchangeState(s string) (KeyExchangeState, bool) {
	switch s {
	case "pending":
		return KeyExchangePending, true
	case "fulfilled":
		return KeyExchangeFulfilled, true
	default:
		return 0, false
	}
}

// KeyExchangeRequest records that one device needs key material usable with
// another device of the same user. The coordinator never inspects or performs
// cryptography; it only brokers the opaque encrypted payload, and its single
// invariant is 1:1 completion.
type KeyExchangeRequest struct {
	ID                string           `json:"id"`
	UserID            string           `json:"userId"`
	RequestingDevice  string           `json:"requestingDevice"`
	TargetDevice      string           `json:"targetDevice"`
	State             KeyExchangeState `json:"state"`
	CreatedAt         time.Time        `json:"createdAt"`
	FulfilledAt       *time.Time       `json:"fulfilledAt,omitempty"`
	EncryptedResponse []byte           `json:"-"` // Opaque; set once by the fulfilling response
}

// NewKeyExchangeRequest creates a pending request between two devices.
func NewKeyExchangeRequest(userID, requestingDevice, targetDevice string) (*KeyExchangeRequest, error) {
	if requestingDevice == "" || targetDevice == "" {
		return nil, ErrKeyExchangeDevices
	}
	if requestingDevice == targetDevice {
		return nil, ErrKeyExchangeSelf
	}
	return &KeyExchangeRequest{
		ID:               uuid.New().String(),
		UserID:           userID,
		RequestingDevice: requestingDevice,
		TargetDevice:     targetDevice,
		State:            KeyExchangePending,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// KeyExchangeResponse carries already-encrypted key material satisfying one
// pending request.
type KeyExchangeResponse struct {
	RequestID        string `json:"requestId"`
	EncryptedPayload []byte `json:"encryptedPayload"`
}

// Key exchange errors
var (
	ErrKeyExchangeDevices   = KeyExchangeError{"both requesting and target device are required"}
	ErrKeyExchangeSelf      = KeyExchangeError{"cannot request a key exchange with the same device"}
	ErrKeyExchangeNotFound  = KeyExchangeError{"key exchange request not found"}
	ErrKeyExchangeFulfilled = KeyExchangeError{"key exchange request already fulfilled"}
	ErrEmptyKeyPayload      = KeyExchangeError{"encrypted payload cannot be empty"}
)

type KeyExchangeError struct {
	Message string
}

func (e KeyExchangeError) Error() string {
	return e.Message
}

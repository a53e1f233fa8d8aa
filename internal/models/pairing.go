package models

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// PairingState is the explicit state of a pairing request. Transitions are
// validated against a table rather than status-column guards at call sites.
type PairingState int

const (
	PairingPending PairingState = iota
	PairingApproved
	PairingRedeemed
)

func (s PairingState) String() string {
	switch s {
	case PairingPending:
		return "pending"
	case PairingApproved:
		return "approved"
	case PairingRedeemed:
		return "redeemed"
	default:
		return "unknown"
	}
}

// ParsePairingState converts a stored status string back to a PairingState.
func ParsePairingState(s string) (PairingState, bool) {
	switch s {
	case "pending":
		return PairingPending, true
	case "approved":
		return PairingApproved, true
	case "redeemed":
		return PairingRedeemed, true
	default:
		return 0, false
	}
}

// pairingTransitions is the only place a pairing state change is allowed.
var pairingTransitions = map[PairingState]PairingState{
	PairingPending:  PairingApproved,
	PairingApproved: PairingRedeemed,
}

// CanTransition reports whether from -> to is a valid pairing transition.
func CanTransition(from, to PairingState) bool {
	next, ok := pairingTransitions[from]
	return ok && next == to
}

// PairingRequest is a single-use token letting a second device join a first
// device's identity without sharing a password. A token can be redeemed at
// most once and only after approval.
type PairingRequest struct {
	ID          string       `json:"id"`
	Token       string       `json:"token"` // Short human-typeable code, shown once
	TokenHash   string       `json:"-"`     // Only the hash is stored
	DeviceID    string       `json:"deviceId"`
	DeviceName  string       `json:"deviceName"`
	DeviceType  string       `json:"deviceType"`
	RequesterID string       `json:"-"` // Transient identity hosting the flow, deleted on redeem
	ApprovedBy  string       `json:"-"` // Bound on approval
	State       PairingState `json:"state"`
	CreatedAt   time.Time    `json:"createdAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// NewPairingRequest creates a pending pairing request with a short expiry.
func NewPairingRequest(deviceID, deviceName, deviceType, requesterID string, ttl time.Duration) (*PairingRequest, error) {
	token, err := generatePairingToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &PairingRequest{
		ID:          uuid.New().String(),
		Token:       token,
		TokenHash:   HashToken(token),
		DeviceID:    deviceID,
		DeviceName:  deviceName,
		DeviceType:  deviceType,
		RequesterID: requesterID,
		State:       PairingPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

// generatePairingToken produces an 8-character code the user can type on the
// approving device. Ambiguous characters are excluded.
func generatePairingToken() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf), nil
}

// IsExpired checks if the pairing request has expired.
func (p *PairingRequest) IsExpired() bool {
	return time.Now().UTC().After(p.ExpiresAt)
}

// CanApprove reports whether the request is still eligible for approval.
func (p *PairingRequest) CanApprove() bool {
	return p.State == PairingPending && !p.IsExpired()
}

// CanRedeem reports whether the request is eligible for redemption.
func (p *PairingRequest) CanRedeem() bool {
	return p.State == PairingApproved && !p.IsExpired()
}

// ErrPairingFailed is the uniform outward signal for every pairing failure.
// Expired, missing, unapproved and already-redeemed tokens are deliberately
// indistinguishable to avoid leaking token existence.
var ErrPairingFailed = PairingError{"pairing failed"}

type PairingError struct {
	Message string
}

func (e PairingError) Error() string {
	return e.Message
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Contact is a bidirectionally synced entity: it can be created on a desktop
// client and mirrored to the phone, or edited on both. Concurrent writes are
// serialized by the explicit version counter, not wall-clock time, because
// clocks across devices are not trusted.
type Contact struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	RemoteID        string    `json:"remoteId,omitempty"` // Stable id assigned by the originating device
	DisplayName     string    `json:"displayName"`
	Phone           string    `json:"phone,omitempty"`
	NormalizedPhone string    `json:"-"` // Natural key fallback when RemoteID is absent
	Email           string    `json:"email,omitempty"`
	Version         int64     `json:"version"`
	LastUpdatedBy   string    `json:"lastUpdatedBy"` // Device id of the last accepted writer
	LastUpdatedAt   time.Time `json:"lastUpdatedAt"`
	PendingSync     bool      `json:"pendingSync"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ContactWrite is an incoming write from a device.
type ContactWrite struct {
	RemoteID    string `json:"remoteId,omitempty"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Version     int64  `json:"version"`
}

// NewContact creates a contact from an incoming write.
func NewContact(userID, deviceID string, w ContactWrite) (*Contact, error) {
	name := strings.TrimSpace(w.DisplayName)
	if name == "" {
		return nil, ErrEmptyContactName
	}

	version := w.Version
	if version < 1 {
		version = 1
	}

	now := time.Now().UTC()
	return &Contact{
		ID:              uuid.New().String(),
		UserID:          userID,
		RemoteID:        strings.TrimSpace(w.RemoteID),
		DisplayName:     name,
		Phone:           strings.TrimSpace(w.Phone),
		NormalizedPhone: NormalizePhone(w.Phone),
		Email:           strings.TrimSpace(strings.ToLower(w.Email)),
		Version:         version,
		LastUpdatedBy:   deviceID,
		LastUpdatedAt:   now,
		CreatedAt:       now,
	}, nil
}

// Accepts decides whether an incoming write survives against the stored
// contact. Higher versions always win and lower versions are always dropped.
// Equal versions are the authoritative echo case, accepted only with a
// deterministic tie-break on the writing device id so that two genuinely
// concurrent same-version writers converge on the same survivor everywhere.
func (c *Contact) Accepts(incomingVersion int64, incomingDeviceID string) bool {
	if incomingVersion > c.Version {
		return true
	}
	if incomingVersion < c.Version {
		return false
	}
	return incomingDeviceID == c.LastUpdatedBy || incomingDeviceID < c.LastUpdatedBy
}

// ApplyWrite overwrites the mutable fields from an accepted write and stamps
// the writer. The version counter never decreases.
func (c *Contact) ApplyWrite(deviceID string, w ContactWrite) {
	c.DisplayName = strings.TrimSpace(w.DisplayName)
	c.Phone = strings.TrimSpace(w.Phone)
	c.NormalizedPhone = NormalizePhone(w.Phone)
	c.Email = strings.TrimSpace(strings.ToLower(w.Email))
	if w.RemoteID != "" {
		c.RemoteID = strings.TrimSpace(w.RemoteID)
	}
	if w.Version > c.Version {
		c.Version = w.Version
	}
	c.LastUpdatedBy = deviceID
	c.LastUpdatedAt = time.Now().UTC()
	c.PendingSync = false
}

// Contact errors
var (
	ErrEmptyContactName = ContactError{"contact display name cannot be empty"}
	ErrContactNotFound  = ContactError{"contact not found"}
)

type ContactError struct {
	Message string
}

func (e ContactError) Error() string {
	return e.Message
}

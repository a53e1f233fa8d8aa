package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Device represents a physical device owned by exactly one user at a time.
// Re-pairing reassigns ownership, it does not duplicate the record.
type Device struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	DeviceName   string    `json:"deviceName"`
	Platform     string    `json:"platform"` // "android", "ios", "desktop" or "web"
	PushToken    string    `json:"-"`        // Never expose push delivery token
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// DeviceResponse is the safe response format.
type DeviceResponse struct {
	ID           string    `json:"id"`
	DeviceName   string    `json:"deviceName"`
	Platform     string    `json:"platform"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// RegisterDeviceRequest is the request body for registering a device.
type RegisterDeviceRequest struct {
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
	PushToken  string `json:"pushToken,omitempty"`
}

// UpdatePushTokenRequest is for updating a device's push delivery token.
type UpdatePushTokenRequest struct {
	PushToken string `json:"pushToken"`
}

var validPlatforms = map[string]bool{
	"android": true,
	"ios":     true,
	"desktop": true,
	"web":     true,
}

// NewDevice creates a new device registration.
func NewDevice(userID, deviceName, platform string) (*Device, error) {
	deviceName = strings.TrimSpace(deviceName)
	platform = strings.TrimSpace(strings.ToLower(platform))

	if deviceName == "" {
		return nil, ErrEmptyDeviceName
	}
	if !validPlatforms[platform] {
		return nil, ErrInvalidPlatform
	}

	now := time.Now().UTC()
	return &Device{
		ID:           uuid.New().String(),
		UserID:       userID,
		DeviceName:   deviceName,
		Platform:     platform,
		RegisteredAt: now,
		LastSeenAt:   now,
	}, nil
}

// ToResponse converts Device to DeviceResponse (safe for API).
func (d *Device) ToResponse() DeviceResponse {
	return DeviceResponse{
		ID:           d.ID,
		DeviceName:   d.DeviceName,
		Platform:     d.Platform,
		RegisteredAt: d.RegisteredAt,
		LastSeenAt:   d.LastSeenAt,
	}
}

// Device errors
var (
	ErrEmptyDeviceName = DeviceError{"device name cannot be empty"}
	ErrInvalidPlatform = DeviceError{"platform must be 'android', 'ios', 'desktop' or 'web'"}
	ErrDeviceNotFound  = DeviceError{"device not found"}
)

type DeviceError struct {
	Message string
}

func (e DeviceError) Error() string {
	return e.Message
}

package services

import (
	"context"
	"fmt"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/repository"
)

// DeviceService manages the set of devices attached to an identity.
type DeviceService struct {
	deviceRepo repository.DeviceRepo
}

// NewDeviceService creates a new DeviceService
func NewDeviceService(deviceRepo repository.DeviceRepo) *DeviceService {
	return &DeviceService{deviceRepo: deviceRepo}
}

// Register creates a device record owned by userID.
func (s *DeviceService) Register(ctx context.Context, userID string, req models.RegisterDeviceRequest) (*models.Device, error) {
	device, err := models.NewDevice(userID, req.DeviceName, req.Platform)
	if err != nil {
		return nil, err
	}
	device.PushToken = req.PushToken
	if err := s.deviceRepo.Add(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	return device, nil
}

// List returns the user's devices.
func (s *DeviceService) List(ctx context.Context, userID string) ([]*models.Device, error) {
	return s.deviceRepo.GetAllForUser(ctx, userID)
}

// UpdatePushToken stores a device's current push delivery token. Ownership is
// checked so a device cannot update another user's record.
func (s *DeviceService) UpdatePushToken(ctx context.Context, userID, deviceID, pushToken string) error {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil || device.UserID != userID {
		return models.ErrDeviceNotFound
	}
	return s.deviceRepo.UpdatePushToken(ctx, deviceID, pushToken)
}

// Touch updates a device's last-seen timestamp. Failures are not fatal to the
// request that triggered them.
func (s *DeviceService) Touch(ctx context.Context, deviceID string) {
	if deviceID == "" {
		return
	}
	_ = s.deviceRepo.UpdateLastSeen(ctx, deviceID)
}

// Remove unpairs a device from the user's identity.
func (s *DeviceService) Remove(ctx context.Context, userID, deviceID string) (bool, error) {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return false, err
	}
	if device == nil || device.UserID != userID {
		return false, nil
	}
	return s.deviceRepo.Delete(ctx, deviceID)
}

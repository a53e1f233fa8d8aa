package services

import (
	"context"
	"fmt"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/repository"
)

// KeyExchangeService brokers encrypted key material between two devices of
// the same user. The server is a blind coordinator: payloads are opaque bytes
// that pass through untouched, and the only enforced rule is that each
// request is fulfilled by exactly one response.
type KeyExchangeService struct {
	keyExchangeRepo repository.KeyExchangeRepo
	deviceRepo      repository.DeviceRepo
	notifier        *ChangeNotifier
}

// NewKeyExchangeService creates a new KeyExchangeService
func NewKeyExchangeService(
	keyExchangeRepo repository.KeyExchangeRepo,
	deviceRepo repository.DeviceRepo,
	notifier *ChangeNotifier,
) *KeyExchangeService {
	return &KeyExchangeService{
		keyExchangeRepo: keyExchangeRepo,
		deviceRepo:      deviceRepo,
		notifier:        notifier,
	}
}

// Request records that requestingDevice needs key material from targetDevice.
// Both devices must belong to userID; the target learns about the request via
// the keys channel (or by polling Pending while offline).
func (s *KeyExchangeService) Request(ctx context.Context, userID, requestingDevice, targetDevice string) (*models.KeyExchangeRequest, error) {
	if err := s.verifyOwnership(ctx, userID, targetDevice); err != nil {
		return nil, err
	}

	req, err := models.NewKeyExchangeRequest(userID, requestingDevice, targetDevice)
	if err != nil {
		return nil, err
	}
	if err := s.keyExchangeRepo.Add(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save key exchange request: %w", err)
	}

	s.notifier.Publish(ctx, models.ChangeEvent{
		Table:     "key_exchanges",
		Operation: models.OpCreated,
		UserID:    userID,
		EntityID:  req.ID,
		Payload:   req,
	}, requestingDevice)
	return req, nil
}

// Respond attaches the encrypted payload to a pending request. Fulfillment is
// a compare-and-swap on the pending state, so a second response to the same
// request fails no matter how the two race.
func (s *KeyExchangeService) Respond(ctx context.Context, userID, respondingDevice string, resp models.KeyExchangeResponse) (*models.KeyExchangeRequest, error) {
	if len(resp.EncryptedPayload) == 0 {
		return nil, models.ErrEmptyKeyPayload
	}

	req, err := s.keyExchangeRepo.GetByID(ctx, resp.RequestID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.UserID != userID || req.TargetDevice != respondingDevice {
		return nil, models.ErrKeyExchangeNotFound
	}

	ok, err := s.keyExchangeRepo.Fulfill(ctx, req.ID, resp.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to fulfill key exchange: %w", err)
	}
	if !ok {
		return nil, models.ErrKeyExchangeFulfilled
	}

	req, err = s.keyExchangeRepo.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, models.ChangeEvent{
		Table:     "key_exchanges",
		Operation: models.OpUpdated,
		UserID:    userID,
		EntityID:  req.ID,
		Payload:   req,
	}, respondingDevice)
	return req, nil
}

// Pending lists requests waiting on deviceID to respond.
func (s *KeyExchangeService) Pending(ctx context.Context, userID, deviceID string) ([]*models.KeyExchangeRequest, error) {
	return s.keyExchangeRepo.GetPendingForTarget(ctx, userID, deviceID)
}

// Fulfilled lists completed requests deviceID originally made, so the
// requesting device can collect its encrypted payloads after reconnecting.
func (s *KeyExchangeService) Fulfilled(ctx context.Context, userID, deviceID string) ([]*models.KeyExchangeRequest, error) {
	return s.keyExchangeRepo.GetFulfilledForRequester(ctx, userID, deviceID)
}

// verifyOwnership confirms the device exists and belongs to userID. Key
// material must never be requested from a device outside the user's own set.
func (s *KeyExchangeService) verifyOwnership(ctx context.Context, userID, deviceID string) error {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil || device.UserID != userID {
		return models.ErrDeviceNotFound
	}
	return nil
}

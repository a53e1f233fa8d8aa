package services

import (
	"context"
	"fmt"
	"time"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/observability"
	"github.com/phonelink/server/internal/repository"
)

// PairingResult is what a successful redeem resolves to.
type PairingResult struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// PairingService runs the short-lived handshake that lets a second device
// join a first device's identity without sharing a password. State moves
// pending -> approved -> redeemed through compare-and-swap transitions, so a
// token is redeemable exactly once even under concurrent attempts.
type PairingService struct {
	pairingRepo repository.PairingRepo
	deviceRepo  repository.DeviceRepo
	userRepo    repository.UserRepo
	cleanup     *CleanupService
	ttl         time.Duration
}

// NewPairingService creates a new PairingService
func NewPairingService(
	pairingRepo repository.PairingRepo,
	deviceRepo repository.DeviceRepo,
	userRepo repository.UserRepo,
	cleanup *CleanupService,
	ttl time.Duration,
) *PairingService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PairingService{
		pairingRepo: pairingRepo,
		deviceRepo:  deviceRepo,
		userRepo:    userRepo,
		cleanup:     cleanup,
		ttl:         ttl,
	}
}

// Create mints a pending pairing request for the joining device. requesterID
// is the transient identity the device currently operates as; it is deleted
// once the pairing completes.
func (s *PairingService) Create(ctx context.Context, deviceID, deviceName, deviceType, requesterID string) (*models.PairingRequest, error) {
	req, err := models.NewPairingRequest(deviceID, deviceName, deviceType, requesterID, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to create pairing request: %w", err)
	}
	if err := s.pairingRepo.Add(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save pairing request: %w", err)
	}
	return req, nil
}

// Approve binds the approving user's identity to a pending, unexpired
// request. Any other state yields false without revealing which check failed.
func (s *PairingService) Approve(ctx context.Context, token, userID string) (bool, error) {
	req, err := s.pairingRepo.GetByTokenHash(ctx, models.HashToken(token))
	if err != nil {
		return false, err
	}
	if req == nil || !req.CanApprove() {
		return false, nil
	}

	ok, err := s.pairingRepo.Approve(ctx, req.ID, userID)
	if err != nil || !ok {
		return false, err
	}

	observability.WithFields(map[string]interface{}{
		"pairing_id": req.ID,
		"uid":        userID,
	}).Info("pairing request approved")
	return true, nil
}

// Redeem completes the handshake from the joining device. Only an approved,
// unexpired token redeems, and exactly once: the state transition is a
// compare-and-swap, so of two concurrent redeems one wins and one gets the
// uniform pairing failure. On success the device is attached to the approving
// user's identity and the transient requester identity is cleaned up.
func (s *PairingService) Redeem(ctx context.Context, token string) (*PairingResult, error) {
	req, err := s.pairingRepo.GetByTokenHash(ctx, models.HashToken(token))
	if err != nil {
		return nil, err
	}
	if req == nil || !req.CanRedeem() || req.ApprovedBy == "" {
		return nil, models.ErrPairingFailed
	}

	ok, err := s.pairingRepo.Transition(ctx, req.ID, models.PairingApproved, models.PairingRedeemed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrPairingFailed
	}

	if err := s.attachDevice(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to attach device: %w", err)
	}

	// The transient identity existed only to host the pairing flow. Delete
	// it, then sweep any other throwaway identities left by abandoned
	// attempts; abandoned flows otherwise accumulate without bound.
	if req.RequesterID != "" && req.RequesterID != req.ApprovedBy {
		if _, err := s.userRepo.Delete(ctx, req.RequesterID); err != nil {
			observability.WithField("uid", req.RequesterID).
				Errorf("failed to delete transient pairing identity: %v", err)
		}
	}
	s.cleanup.RemoveOrphanIdentities(ctx)

	observability.WithFields(map[string]interface{}{
		"pairing_id": req.ID,
		"uid":        req.ApprovedBy,
		"device_id":  req.DeviceID,
	}).Info("pairing request redeemed")

	return &PairingResult{UserID: req.ApprovedBy, DeviceID: req.DeviceID}, nil
}

// attachDevice reassigns an existing device record to the approving user, or
// registers it fresh. Re-pairing never duplicates the device.
func (s *PairingService) attachDevice(ctx context.Context, req *models.PairingRequest) error {
	device, err := s.deviceRepo.GetByID(ctx, req.DeviceID)
	if err != nil {
		return err
	}
	if device != nil {
		return s.deviceRepo.Reassign(ctx, device.ID, req.ApprovedBy)
	}

	device, err = models.NewDevice(req.ApprovedBy, req.DeviceName, req.DeviceType)
	if err != nil {
		return err
	}
	device.ID = req.DeviceID
	return s.deviceRepo.Add(ctx, device)
}

// SweepExpired removes pairing requests past their expiry window.
func (s *PairingService) SweepExpired(ctx context.Context) (int, error) {
	return s.pairingRepo.DeleteExpired(ctx, time.Now().UTC())
}

package services

import (
	"context"
	"fmt"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/repository"
)

// SyncOutcome describes what an incoming write did.
type SyncOutcome struct {
	Applied bool            `json:"applied"`
	Created bool            `json:"created"`
	Contact *models.Contact `json:"contact,omitempty"`
}

// ContactSyncService is the conflict resolver for bidirectionally synced
// contacts. Last writer wins by the explicit version counter, never by
// wall-clock time: device clocks are not trusted. A stale write is a silent
// no-op, not an error; the writing device converges once the authoritative
// version reaches it over broadcast.
type ContactSyncService struct {
	contactRepo repository.ContactRepo
	notifier    *ChangeNotifier
}

// NewContactSyncService creates a new ContactSyncService
func NewContactSyncService(contactRepo repository.ContactRepo, notifier *ChangeNotifier) *ContactSyncService {
	return &ContactSyncService{
		contactRepo: contactRepo,
		notifier:    notifier,
	}
}

// Apply processes one incoming contact write from a device. Matching tries
// the stable remote identifier first and falls back to the normalized phone
// number, so the same contact arriving through two paths updates in place
// instead of duplicating. The broadcast always reflects the resolved state,
// never a transient one, because it is emitted only after the write persists.
func (s *ContactSyncService) Apply(ctx context.Context, userID, deviceID string, write models.ContactWrite) (*SyncOutcome, error) {
	existing, err := s.match(ctx, userID, write)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		contact, err := models.NewContact(userID, deviceID, write)
		if err != nil {
			return nil, err
		}
		if err := s.contactRepo.Add(ctx, contact); err != nil {
			return nil, fmt.Errorf("failed to insert contact: %w", err)
		}
		s.notifier.Publish(ctx, models.ChangeEvent{
			Table:     "contacts",
			Operation: models.OpCreated,
			UserID:    userID,
			EntityID:  contact.ID,
			Payload:   contact,
		}, deviceID)
		return &SyncOutcome{Applied: true, Created: true, Contact: contact}, nil
	}

	if !existing.Accepts(write.Version, deviceID) {
		// Stale write: dropped silently. The device's local state converges
		// once it receives the authoritative version via broadcast.
		return &SyncOutcome{Applied: false, Contact: existing}, nil
	}

	existing.ApplyWrite(deviceID, write)
	if err := s.contactRepo.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update contact: %w", err)
	}

	s.notifier.Publish(ctx, models.ChangeEvent{
		Table:     "contacts",
		Operation: models.OpUpdated,
		UserID:    userID,
		EntityID:  existing.ID,
		Payload:   existing,
	}, deviceID)
	return &SyncOutcome{Applied: true, Contact: existing}, nil
}

// match finds the local entity an incoming write refers to: by stable remote
// identifier first, then by normalized phone number.
func (s *ContactSyncService) match(ctx context.Context, userID string, write models.ContactWrite) (*models.Contact, error) {
	if write.RemoteID != "" {
		contact, err := s.contactRepo.GetByRemoteID(ctx, userID, write.RemoteID)
		if err != nil {
			return nil, err
		}
		if contact != nil {
			return contact, nil
		}
	}

	if normalized := models.NormalizePhone(write.Phone); normalized != "" {
		return s.contactRepo.GetByNormalizedPhone(ctx, userID, normalized)
	}
	return nil, nil
}

// List returns all contacts for the user, the full-pull path a reconnecting
// device uses to reconcile whatever it missed while offline.
func (s *ContactSyncService) List(ctx context.Context, userID string) ([]*models.Contact, error) {
	return s.contactRepo.GetAllForUser(ctx, userID)
}

// Delete removes a contact and broadcasts the deletion.
func (s *ContactSyncService) Delete(ctx context.Context, userID, deviceID, contactID string) (bool, error) {
	contact, err := s.contactRepo.GetByID(ctx, contactID)
	if err != nil {
		return false, err
	}
	if contact == nil || contact.UserID != userID {
		return false, nil
	}

	deleted, err := s.contactRepo.Delete(ctx, contactID)
	if err != nil || !deleted {
		return deleted, err
	}

	s.notifier.Publish(ctx, models.ChangeEvent{
		Table:     "contacts",
		Operation: models.OpDeleted,
		UserID:    userID,
		EntityID:  contactID,
	}, deviceID)
	return true, nil
}

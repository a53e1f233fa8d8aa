package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/observability"
	"github.com/phonelink/server/internal/repository"
)

// IdentityService turns a raw credential into a canonical durable identity.
// Resolution precedence is the explicit ordered list below, not implicit code
// order: a recovered identity always wins, phone verification supersedes
// fingerprints, and fingerprints reproduce an identity across reinstalls.
type IdentityService struct {
	userRepo    repository.UserRepo
	deviceRepo  repository.DeviceRepo
	messageRepo repository.MessageRepo
	contactRepo repository.ContactRepo

	locks keyedMutex
}

// resolutionOrder is the visible precedence list. Resolve rejects credentials
// whose kind is not in this list.
var resolutionOrder = []models.CredentialKind{
	models.CredentialRecovery,
	models.CredentialPhone,
	models.CredentialFingerprint,
}

// NewIdentityService creates a new IdentityService
func NewIdentityService(
	userRepo repository.UserRepo,
	deviceRepo repository.DeviceRepo,
	messageRepo repository.MessageRepo,
	contactRepo repository.ContactRepo,
) *IdentityService {
	return &IdentityService{
		userRepo:    userRepo,
		deviceRepo:  deviceRepo,
		messageRepo: messageRepo,
		contactRepo: contactRepo,
	}
}

// Resolve maps a credential to its canonical identity, creating one when
// necessary. Mutating resolutions (orphan claiming, identity migration) are
// serialized per credential key so two concurrent authentications cannot
// double-claim the same identity.
func (s *IdentityService) Resolve(ctx context.Context, cred models.Credential) (*models.User, error) {
	var supported bool
	for _, kind := range resolutionOrder {
		if cred.Kind == kind {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("unsupported credential kind %d", cred.Kind)
	}

	unlock := s.locks.Lock(s.lockKey(cred))
	defer unlock()

	var user *models.User
	var err error
	switch cred.Kind {
	case models.CredentialRecovery:
		user, err = s.resolveRecovery(ctx, cred)
	case models.CredentialPhone:
		user, err = s.resolvePhone(ctx, cred)
	case models.CredentialFingerprint:
		user, err = s.resolveFingerprint(ctx, cred)
	}
	if err != nil {
		return nil, err
	}

	// Consistency check: if the caller-presented identity disagrees with the
	// credential-derived one, the credential wins because downstream
	// authorization uses it. The caller is NOT signed out; an anonymous
	// identity cannot be recovered after sign-out.
	if cred.ClaimedUserID != "" && cred.ClaimedUserID != user.ID {
		observability.WithFields(map[string]interface{}{
			"claimed_uid":  cred.ClaimedUserID,
			"resolved_uid": user.ID,
			"kind":         cred.Kind.String(),
		}).Warn("credential subject mismatch, trusting credential")
	}

	return user, nil
}

func (s *IdentityService) lockKey(cred models.Credential) string {
	switch cred.Kind {
	case models.CredentialRecovery:
		return "uid:" + cred.RecoveryUserID
	case models.CredentialPhone:
		return "phone:" + cred.Phone
	default:
		return "fp:" + cred.Fingerprint
	}
}

// resolveRecovery maps a redeemed recovery code to its previously established
// identity. The recovered identity always wins, even over a fresher anonymous
// session: losing it would silently fork the user's data.
func (s *IdentityService) resolveRecovery(ctx context.Context, cred models.Credential) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, cred.RecoveryUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up recovered identity: %w", err)
	}
	if user == nil {
		return nil, models.ErrUserNotFound
	}
	return user, nil
}

// resolvePhone maps a verified phone number to its durable identity, creating
// one on first verification. When the caller previously operated as a
// fingerprint or anonymous identity, everything that identity owns migrates
// to the phone identity and the old identity is deleted, so the user's data
// never forks across two identities.
func (s *IdentityService) resolvePhone(ctx context.Context, cred models.Credential) (*models.User, error) {
	user, err := s.userRepo.GetByPhone(ctx, cred.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to look up phone identity: %w", err)
	}

	if user == nil {
		user, err = models.NewPhoneUser(cred.Phone)
		if err != nil {
			return nil, err
		}
		if err := s.userRepo.Add(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create phone identity: %w", err)
		}
	}

	if cred.ClaimedUserID != "" && cred.ClaimedUserID != user.ID {
		if err := s.absorb(ctx, cred.ClaimedUserID, user.ID); err != nil {
			observability.WithField("from_uid", cred.ClaimedUserID).
				Errorf("failed to migrate prior identity: %v", err)
		}
	}

	return user, nil
}

// resolveFingerprint maps a device fingerprint to its identity. A fresh
// fingerprint first tries to claim an orphaned identity that still holds
// data (typically left behind by an abandoned pairing flow) before minting a
// new one; empty orphans are never revived.
func (s *IdentityService) resolveFingerprint(ctx context.Context, cred models.Credential) (*models.User, error) {
	user, err := s.userRepo.GetByFingerprint(ctx, cred.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to look up fingerprint identity: %w", err)
	}
	if user != nil {
		return user, nil
	}

	orphan, err := s.userRepo.GetClaimableOrphan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up claimable orphan: %w", err)
	}
	if orphan != nil {
		if err := s.userRepo.SetFingerprint(ctx, orphan.ID, cred.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to claim orphan identity: %w", err)
		}
		orphan.FingerprintHash = cred.Fingerprint
		observability.WithField("uid", orphan.ID).Info("claimed orphaned identity for fresh fingerprint")
		return orphan, nil
	}

	user = models.NewFingerprintUser(cred.Fingerprint)
	if err := s.userRepo.Add(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create fingerprint identity: %w", err)
	}
	return user, nil
}

// CreateAnonymous mints a provisional identity with no credential at all.
// Used on first launch before the device has anything to authenticate with.
func (s *IdentityService) CreateAnonymous(ctx context.Context) (*models.User, error) {
	user := models.NewAnonymousUser()
	if err := s.userRepo.Add(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create anonymous identity: %w", err)
	}
	return user, nil
}

// IssueRecoveryCode mints a new recovery code for userID and stores only its
// hash. The plaintext is returned exactly once; it cannot be retrieved later.
func (s *IdentityService) IssueRecoveryCode(ctx context.Context, userID string) (string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", models.ErrUserNotFound
	}

	code, err := models.GenerateRecoveryCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate recovery code: %w", err)
	}
	if err := user.SetRecoveryCode(code); err != nil {
		return "", err
	}
	if err := s.userRepo.SetRecoveryCodeHash(ctx, userID, user.RecoveryCodeHash); err != nil {
		return "", fmt.Errorf("failed to store recovery code: %w", err)
	}
	return code, nil
}

// VerifyRecoveryCode checks a presented code against the stored hash and, on
// success, returns the recovery credential for the identity. Failure is the
// uniform not-found error regardless of which check failed.
func (s *IdentityService) VerifyRecoveryCode(ctx context.Context, userID, code string) (models.Credential, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return models.Credential{}, err
	}
	if user == nil || !user.VerifyRecoveryCode(code) {
		return models.Credential{}, models.ErrUserNotFound
	}
	return models.RecoveryCredential(userID), nil
}

// absorb moves all data owned by fromID to toID and deletes fromID. Used when
// a durable identity supersedes a provisional one.
func (s *IdentityService) absorb(ctx context.Context, fromID, toID string) error {
	from, err := s.userRepo.GetByID(ctx, fromID)
	if err != nil {
		return err
	}
	if from == nil || from.ID == toID {
		return nil
	}
	// Durable identities are never absorbed implicitly.
	if from.Phone != "" {
		return nil
	}

	if err := s.deviceRepo.ReassignAllForUser(ctx, fromID, toID); err != nil {
		return fmt.Errorf("failed to reassign devices: %w", err)
	}
	if err := s.messageRepo.ReassignAllForUser(ctx, fromID, toID); err != nil {
		return fmt.Errorf("failed to reassign messages: %w", err)
	}
	if err := s.contactRepo.ReassignAllForUser(ctx, fromID, toID); err != nil {
		return fmt.Errorf("failed to reassign contacts: %w", err)
	}
	if _, err := s.userRepo.Delete(ctx, fromID); err != nil {
		return fmt.Errorf("failed to delete absorbed identity: %w", err)
	}

	observability.WithFields(map[string]interface{}{
		"from_uid": fromID,
		"to_uid":   toID,
	}).Info("absorbed provisional identity into durable identity")
	return nil
}

// keyedMutex serializes work per string key with refcounted entries so the
// map does not grow unboundedly.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns the release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

package services

import (
	"context"
	"sync"
	"time"

	"github.com/phonelink/server/internal/models"
)

// In-memory repository fakes. Mutations are mutex-guarded so concurrency
// tests exercise the same compare-and-swap semantics the SQL layer provides.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
	env   *orphanEnv
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

// newFakeEnv wires a complete set of fakes whose orphan queries see each
// other, mirroring how the SQL user repository joins across tables.
func newFakeEnv() *orphanEnv {
	env := &orphanEnv{
		users:    newFakeUserRepo(),
		devices:  newFakeDeviceRepo(),
		messages: newFakeMessageRepo(),
		contacts: newFakeContactRepo(),
	}
	env.users.env = env
	return env
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeUserRepo) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone == phone && phone != "" {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) GetByFingerprint(_ context.Context, fingerprintHash string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.FingerprintHash == fingerprintHash && fingerprintHash != "" {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Add(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) SetPhone(_ context.Context, id, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.Phone = phone
		u.Anonymous = false
	}
	return nil
}

func (r *fakeUserRepo) SetFingerprint(_ context.Context, id, fingerprintHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.FingerprintHash = fingerprintHash
	}
	return nil
}

func (r *fakeUserRepo) SetRecoveryCodeHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.RecoveryCodeHash = hash
	}
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return false, nil
	}
	delete(r.users, id)
	return true, nil
}

// orphanEnv lets tests wire the cross-aggregate orphan queries without a
// real database.
type orphanEnv struct {
	users    *fakeUserRepo
	devices  *fakeDeviceRepo
	messages *fakeMessageRepo
	contacts *fakeContactRepo
}

func (r *fakeUserRepo) GetOrphans(_ context.Context, olderThan time.Time) ([]*models.User, error) {
	env := r.env
	r.mu.Lock()
	defer r.mu.Unlock()
	var orphans []*models.User
	for _, u := range r.users {
		if !u.CreatedAt.Before(olderThan) {
			continue
		}
		if env != nil && (env.devices.countForUser(u.ID) > 0 || env.messages.countForUser(u.ID) > 0) {
			continue
		}
		copied := *u
		orphans = append(orphans, &copied)
	}
	return orphans, nil
}

func (r *fakeUserRepo) GetClaimableOrphan(_ context.Context) (*models.User, error) {
	env := r.env
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if !u.Anonymous || u.Phone != "" || u.FingerprintHash != "" {
			continue
		}
		if env == nil {
			continue
		}
		if env.devices.countForUser(u.ID) > 0 {
			continue
		}
		if env.messages.countForUser(u.ID) == 0 && env.contacts.countForUser(u.ID) == 0 {
			continue
		}
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[string]*models.Device)}
}

func (r *fakeDeviceRepo) countForUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.devices {
		if d.UserID == userID {
			n++
		}
	}
	return n
}

func (r *fakeDeviceRepo) GetByID(_ context.Context, id string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeDeviceRepo) GetAllForUser(_ context.Context, userID string) ([]*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Device
	for _, d := range r.devices {
		if d.UserID == userID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) Add(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *device
	r.devices[device.ID] = &copied
	return nil
}

func (r *fakeDeviceRepo) Reassign(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.UserID = userID
	}
	return nil
}

func (r *fakeDeviceRepo) ReassignAllForUser(_ context.Context, fromUserID, toUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.UserID == fromUserID {
			d.UserID = toUserID
		}
	}
	return nil
}

func (r *fakeDeviceRepo) UpdatePushToken(_ context.Context, id, pushToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.PushToken = pushToken
	}
	return nil
}

func (r *fakeDeviceRepo) UpdateLastSeen(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.LastSeenAt = time.Now().UTC()
	}
	return nil
}

func (r *fakeDeviceRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return false, nil
	}
	delete(r.devices, id)
	return true, nil
}

func (r *fakeDeviceRepo) DeleteUnseenSince(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, d := range r.devices {
		if d.LastSeenAt.Before(cutoff) {
			delete(r.devices, id)
			n++
		}
	}
	return n, nil
}

type fakePairingRepo struct {
	mu       sync.Mutex
	requests map[string]*models.PairingRequest
}

func newFakePairingRepo() *fakePairingRepo {
	return &fakePairingRepo{requests: make(map[string]*models.PairingRequest)}
}

func (r *fakePairingRepo) Add(_ context.Context, req *models.PairingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *req
	r.requests[req.ID] = &copied
	return nil
}

func (r *fakePairingRepo) GetByTokenHash(_ context.Context, tokenHash string) (*models.PairingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.TokenHash == tokenHash {
			copied := *req
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakePairingRepo) Transition(_ context.Context, id string, from, to models.PairingState) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.State != from {
		return false, nil
	}
	req.State = to
	return true, nil
}

func (r *fakePairingRepo) Approve(_ context.Context, id, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.State != models.PairingPending {
		return false, nil
	}
	req.State = models.PairingApproved
	req.ApprovedBy = userID
	return true, nil
}

func (r *fakePairingRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, req := range r.requests {
		if now.After(req.ExpiresAt) {
			delete(r.requests, id)
			n++
		}
	}
	return n, nil
}

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts map[string]*models.Contact
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: make(map[string]*models.Contact)}
}

func (r *fakeContactRepo) countForUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.contacts {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

func (r *fakeContactRepo) GetByID(_ context.Context, id string) (*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contacts[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeContactRepo) GetByRemoteID(_ context.Context, userID, remoteID string) (*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.UserID == userID && c.RemoteID == remoteID && remoteID != "" {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeContactRepo) GetByNormalizedPhone(_ context.Context, userID, normalizedPhone string) (*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.UserID == userID && c.NormalizedPhone == normalizedPhone && normalizedPhone != "" {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeContactRepo) GetAllForUser(_ context.Context, userID string) ([]*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Contact
	for _, c := range r.contacts {
		if c.UserID == userID {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeContactRepo) Add(_ context.Context, contact *models.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *contact
	r.contacts[contact.ID] = &copied
	return nil
}

func (r *fakeContactRepo) Update(_ context.Context, contact *models.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *contact
	r.contacts[contact.ID] = &copied
	return nil
}

func (r *fakeContactRepo) ReassignAllForUser(_ context.Context, fromUserID, toUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.UserID == fromUserID {
			c.UserID = toUserID
		}
	}
	return nil
}

func (r *fakeContactRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[id]; !ok {
		return false, nil
	}
	delete(r.contacts, id)
	return true, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*models.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*models.Message)}
}

func (r *fakeMessageRepo) countForUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.UserID == userID {
			n++
		}
	}
	return n
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeMessageRepo) GetRecentForUser(_ context.Context, userID string, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages {
		if m.UserID == userID {
			copied := *m
			out = append(out, &copied)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) CountForUser(ctx context.Context, userID string) (int, error) {
	return r.countForUser(userID), nil
}

func (r *fakeMessageRepo) Add(_ context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *message
	r.messages[message.ID] = &copied
	return nil
}

func (r *fakeMessageRepo) ReassignAllForUser(_ context.Context, fromUserID, toUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.UserID == fromUserID {
			m.UserID = toUserID
		}
	}
	return nil
}

type fakeKeyExchangeRepo struct {
	mu       sync.Mutex
	requests map[string]*models.KeyExchangeRequest
}

func newFakeKeyExchangeRepo() *fakeKeyExchangeRepo {
	return &fakeKeyExchangeRepo{requests: make(map[string]*models.KeyExchangeRequest)}
}

func (r *fakeKeyExchangeRepo) GetByID(_ context.Context, id string) (*models.KeyExchangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.requests[id]; ok {
		copied := *req
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeKeyExchangeRepo) GetPendingForTarget(_ context.Context, userID, targetDevice string) ([]*models.KeyExchangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.KeyExchangeRequest
	for _, req := range r.requests {
		if req.UserID == userID && req.TargetDevice == targetDevice && req.State == models.KeyExchangePending {
			copied := *req
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeKeyExchangeRepo) GetFulfilledForRequester(_ context.Context, userID, requestingDevice string) ([]*models.KeyExchangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.KeyExchangeRequest
	for _, req := range r.requests {
		if req.UserID == userID && req.RequestingDevice == requestingDevice && req.State == models.KeyExchangeFulfilled {
			copied := *req
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeKeyExchangeRepo) Add(_ context.Context, req *models.KeyExchangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *req
	r.requests[req.ID] = &copied
	return nil
}

func (r *fakeKeyExchangeRepo) Fulfill(_ context.Context, id string, payload []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.State != models.KeyExchangePending {
		return false, nil
	}
	now := time.Now().UTC()
	req.State = models.KeyExchangeFulfilled
	req.EncryptedResponse = append([]byte(nil), payload...)
	req.FulfilledAt = &now
	return true, nil
}

func (r *fakeKeyExchangeRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, req := range r.requests {
		if req.CreatedAt.Before(cutoff) {
			delete(r.requests, id)
			n++
		}
	}
	return n, nil
}

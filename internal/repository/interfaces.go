package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/phonelink/server/internal/models"
)

// DB is the query surface repositories run on. Both *sql.DB and the traced
// wrapper satisfy it.
//
// Statement placeholders must be numbered in occurrence order: lib/pq binds
// $N by index, go-sqlite3 assigns $N indexes by first occurrence, and
// database/sql passes args positionally. Occurrence order is the only
// numbering every driver agrees on.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// UserRepo defines persistence operations for identities.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	GetByFingerprint(ctx context.Context, fingerprintHash string) (*models.User, error)
	Add(ctx context.Context, user *models.User) error
	SetPhone(ctx context.Context, id, phone string) error
	SetFingerprint(ctx context.Context, id, fingerprintHash string) error
	SetRecoveryCodeHash(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) (bool, error)
	// GetOrphans returns identities with zero devices and zero messages.
	// This is the single shared definition of "orphan" used by both the
	// inline pairing-redemption cleanup and the background sweep.
	GetOrphans(ctx context.Context, olderThan time.Time) ([]*models.User, error)
	// GetClaimableOrphan returns a device-less anonymous identity that still
	// holds data (messages or contacts), or nil. A fresh fingerprint
	// credential claims such an identity instead of minting a new one;
	// identities with no data are never revived this way.
	GetClaimableOrphan(ctx context.Context) (*models.User, error)
}

// DeviceRepo defines persistence operations for devices.
type DeviceRepo interface {
	GetByID(ctx context.Context, id string) (*models.Device, error)
	GetAllForUser(ctx context.Context, userID string) ([]*models.Device, error)
	Add(ctx context.Context, device *models.Device) error
	// Reassign moves a device to a new owning identity. Re-pairing never
	// duplicates the device record.
	Reassign(ctx context.Context, id, userID string) error
	ReassignAllForUser(ctx context.Context, fromUserID, toUserID string) error
	UpdatePushToken(ctx context.Context, id, pushToken string) error
	UpdateLastSeen(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (bool, error)
	DeleteUnseenSince(ctx context.Context, cutoff time.Time) (int, error)
}

// PairingRepo defines persistence operations for pairing requests.
type PairingRepo interface {
	Add(ctx context.Context, req *models.PairingRequest) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PairingRequest, error)
	// Transition atomically moves a request between states and returns false
	// if the stored state was not `from`. Concurrent redeems of the same
	// token therefore produce exactly one winner.
	Transition(ctx context.Context, id string, from, to models.PairingState) (bool, error)
	// Approve binds the approver and moves a pending request to approved in
	// one compare-and-swap. A racing redeem can never observe an approved
	// request with no approver bound.
	Approve(ctx context.Context, id, userID string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ContactRepo defines persistence operations for synced contacts.
type ContactRepo interface {
	GetByID(ctx context.Context, id string) (*models.Contact, error)
	GetByRemoteID(ctx context.Context, userID, remoteID string) (*models.Contact, error)
	GetByNormalizedPhone(ctx context.Context, userID, normalizedPhone string) (*models.Contact, error)
	GetAllForUser(ctx context.Context, userID string) ([]*models.Contact, error)
	Add(ctx context.Context, contact *models.Contact) error
	Update(ctx context.Context, contact *models.Contact) error
	ReassignAllForUser(ctx context.Context, fromUserID, toUserID string) error
	Delete(ctx context.Context, id string) (bool, error)
}

// MessageRepo defines persistence operations for mirrored messages.
type MessageRepo interface {
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetRecentForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error)
	CountForUser(ctx context.Context, userID string) (int, error)
	Add(ctx context.Context, message *models.Message) error
	ReassignAllForUser(ctx context.Context, fromUserID, toUserID string) error
}

// KeyExchangeRepo defines persistence operations for key exchange brokering.
type KeyExchangeRepo interface {
	GetByID(ctx context.Context, id string) (*models.KeyExchangeRequest, error)
	GetPendingForTarget(ctx context.Context, userID, targetDevice string) ([]*models.KeyExchangeRequest, error)
	GetFulfilledForRequester(ctx context.Context, userID, requestingDevice string) ([]*models.KeyExchangeRequest, error)
	Add(ctx context.Context, req *models.KeyExchangeRequest) error
	// Fulfill atomically attaches the encrypted response to a pending
	// request. It returns false if the request was not pending, enforcing
	// the 1:1 request/response invariant.
	Fulfill(ctx context.Context, id string, payload []byte) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

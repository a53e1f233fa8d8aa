package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is the durable owner of synced data, independent of any one device.
// Anonymous users are provisional: they exist until a phone verification or
// pairing flow attaches them to a durable identity, and they are never
// invalidated by session timeout because no secondary credential exists to
// recover them.
type User struct {
	ID               string     `json:"id"`
	Phone            string     `json:"phone,omitempty"`
	Email            string     `json:"email,omitempty"`
	Anonymous        bool       `json:"anonymous"`
	FingerprintHash  string     `json:"-"` // Never exposed
	RecoveryCodeHash string     `json:"-"` // Never exposed
	CreatedAt        time.Time  `json:"createdAt"`
	DeletionDueAt    *time.Time `json:"deletionDueAt,omitempty"`
}

// UserResponse is the safe response format.
type UserResponse struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone,omitempty"`
	Anonymous bool      `json:"anonymous"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewAnonymousUser creates a provisional identity with no credentials.
func NewAnonymousUser() *User {
	return &User{
		ID:        uuid.New().String(),
		Anonymous: true,
		CreatedAt: time.Now().UTC(),
	}
}

// NewFingerprintUser creates an identity derived from a device fingerprint.
// Reinstalling the client on the same physical device reproduces the same
// fingerprint hash and therefore resolves back to this identity.
func NewFingerprintUser(fingerprintHash string) *User {
	return &User{
		ID:              uuid.New().String(),
		Anonymous:       true,
		FingerprintHash: fingerprintHash,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewPhoneUser creates a durable phone-verified identity.
func NewPhoneUser(phone string) (*User, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, ErrEmptyPhone
	}
	return &User{
		ID:        uuid.New().String(),
		Phone:     phone,
		Anonymous: false,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ToResponse converts User to UserResponse (safe for API).
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Phone:     u.Phone,
		Anonymous: u.Anonymous,
		CreatedAt: u.CreatedAt,
	}
}

// SetRecoveryCode hashes and stores a recovery code using bcrypt (cost 12).
// The plain code is shown to the user exactly once.
func (u *User) SetRecoveryCode(code string) error {
	if len(code) < 8 {
		return ErrRecoveryCodeTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), 12)
	if err != nil {
		return fmt.Errorf("failed to hash recovery code: %w", err)
	}
	u.RecoveryCodeHash = string(hash)
	return nil
}

// VerifyRecoveryCode checks the provided code against the stored hash.
func (u *User) VerifyRecoveryCode(code string) bool {
	if u.RecoveryCodeHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.RecoveryCodeHash), []byte(code)) == nil
}

// GenerateRecoveryCode creates a random human-typeable recovery code.
func GenerateRecoveryCode() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf[:4]) + "-" + string(buf[4:8]) + "-" + string(buf[8:]), nil
}

// FingerprintHash derives a repeatable identity key from stable
// hardware/platform attributes. The raw attributes never leave the device
// unhashed.
func FingerprintHash(attributes string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(attributes)))
	return hex.EncodeToString(hash[:])
}

// HashToken creates a SHA256 hash of an opaque token for storage lookup.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// NormalizePhone strips formatting characters so that the same number written
// differently on two devices still matches. A leading "+" is preserved.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// User errors
var (
	ErrEmptyPhone           = UserError{"phone number cannot be empty"}
	ErrUserNotFound         = UserError{"user not found"}
	ErrPhoneExists          = UserError{"phone number already registered"}
	ErrRecoveryCodeTooShort = UserError{"recovery code must be at least 8 characters"}
)

type UserError struct {
	Message string
}

func (e UserError) Error() string {
	return e.Message
}

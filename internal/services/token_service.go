package services

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the claims. Presenting an access token where a
// refresh token is expected (or vice versa) is an authentication failure.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrUnauthenticated is the uniform outcome for every credential failure.
// Invalid signature, expiry and wrong token type are deliberately
// indistinguishable to the caller.
var ErrUnauthenticated = TokenError{"unauthenticated"}

type TokenError struct {
	Message string
}

func (e TokenError) Error() string {
	return e.Message
}

// TokenClaims are the self-contained signed claims binding a (user, device)
// pair. Verification needs no server-side storage beyond the signing secret.
type TokenClaims struct {
	DeviceID  string `json:"did,omitempty"`
	TokenType string `json:"typ"`
	PairedUID string `json:"puid,omitempty"` // Paired-identity override set on redeem
	Anonymous bool   `json:"ano,omitempty"`
	Admin     bool   `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is an access/refresh credential pair for one device session.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// IssueOptions carries the optional claims of a token pair.
type IssueOptions struct {
	Admin     bool
	Anonymous bool
	PairedUID string
}

// TokenService issues and verifies signed HS256 credentials.
type TokenService struct {
	signKey    []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a TokenService with the given signing secret and
// token lifetimes.
func NewTokenService(signKey []byte, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		signKey:    signKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Issue creates an access/refresh token pair for a (user, device) pair.
func (s *TokenService) Issue(userID, deviceID string, opts IssueOptions) (TokenPair, error) {
	now := time.Now()

	access, accessExp, err := s.sign(userID, deviceID, TokenTypeAccess, now, s.accessTTL, opts)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.sign(userID, deviceID, TokenTypeRefresh, now, s.refreshTTL, opts)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
	}, nil
}

func (s *TokenService) sign(userID, deviceID, tokenType string, now time.Time, ttl time.Duration, opts IssueOptions) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := TokenClaims{
		DeviceID:  deviceID,
		TokenType: tokenType,
		PairedUID: opts.PairedUID,
		Anonymous: opts.Anonymous,
		Admin:     opts.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates a token of the expected type. Every failure
// mode collapses into ErrUnauthenticated.
func (s *TokenService) Verify(token, wantType string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.TokenType != wantType {
		return nil, ErrUnauthenticated
	}
	if claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// EffectiveUserID is the identity the token's bearer operates as: the
// paired-identity override when present, otherwise the subject.
func (c *TokenClaims) EffectiveUserID() string {
	if c.PairedUID != "" {
		return c.PairedUID
	}
	return c.Subject
}

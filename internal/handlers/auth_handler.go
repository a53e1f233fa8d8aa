package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/phonelink/server/internal/middleware"
	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/observability"
	"github.com/phonelink/server/internal/services"
)

// ResolveRequest is the credential envelope for identity resolution.
type ResolveRequest struct {
	Kind string `json:"kind"` // "anonymous", "fingerprint", "phone" or "recovery"

	// Phone is the verified phone number (kind == "phone"). Verification
	// itself happens upstream; this endpoint trusts the number.
	Phone string `json:"phone,omitempty"`

	// FingerprintAttributes are the stable hardware attributes the identity
	// fingerprint is derived from (kind == "fingerprint"). They are hashed
	// immediately and never stored raw.
	FingerprintAttributes string `json:"fingerprintAttributes,omitempty"`

	// RecoveryUserID and RecoveryCode redeem a previously issued recovery
	// code (kind == "recovery").
	RecoveryUserID string `json:"recoveryUserId,omitempty"`
	RecoveryCode   string `json:"recoveryCode,omitempty"`

	// ClaimedUserID is the identity the device believes it operates as.
	ClaimedUserID string `json:"claimedUserId,omitempty"`

	// DeviceID binds the issued tokens to a device.
	DeviceID string `json:"deviceId,omitempty"`
}

// ResolveResponse carries the resolved identity and its session credentials.
type ResolveResponse struct {
	User   models.UserResponse `json:"user"`
	Tokens services.TokenPair  `json:"tokens"`
}

// AuthHandler handles identity resolution and token lifecycle endpoints
type AuthHandler struct {
	identity *services.IdentityService
	tokens   *services.TokenService
	tracker  *services.SessionTracker
	metrics  *observability.SyncMetrics
}

// NewAuthHandler creates a new AuthHandler. metrics may be nil.
func NewAuthHandler(
	identity *services.IdentityService,
	tokens *services.TokenService,
	tracker *services.SessionTracker,
	metrics *observability.SyncMetrics,
) *AuthHandler {
	return &AuthHandler{
		identity: identity,
		tokens:   tokens,
		tracker:  tracker,
		metrics:  metrics,
	}
}

// Resolve maps a credential to its canonical identity and issues tokens
// @Summary Resolve identity
// @Description Resolve a credential to a canonical identity and issue session tokens
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ResolveRequest true "Credential"
// @Success 200 {object} ResolveResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /api/auth/resolve [post]
func (h *AuthHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user *models.User
	var err error

	switch req.Kind {
	case "anonymous":
		user, err = h.identity.CreateAnonymous(r.Context())

	case "fingerprint":
		if req.FingerprintAttributes == "" {
			http.Error(w, "Fingerprint attributes are required", http.StatusBadRequest)
			return
		}
		cred := models.FingerprintCredential(models.FingerprintHash(req.FingerprintAttributes))
		cred.ClaimedUserID = req.ClaimedUserID
		user, err = h.identity.Resolve(r.Context(), cred)

	case "phone":
		if req.Phone == "" {
			http.Error(w, "Phone number is required", http.StatusBadRequest)
			return
		}
		cred := models.PhoneCredential(req.Phone)
		cred.ClaimedUserID = req.ClaimedUserID
		user, err = h.identity.Resolve(r.Context(), cred)

	case "recovery":
		var cred models.Credential
		cred, err = h.identity.VerifyRecoveryCode(r.Context(), req.RecoveryUserID, req.RecoveryCode)
		if err == nil {
			cred.ClaimedUserID = req.ClaimedUserID
			user, err = h.identity.Resolve(r.Context(), cred)
		}

	default:
		http.Error(w, "Unknown credential kind", http.StatusBadRequest)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordAuthAttempt(r.Context(), req.Kind, err == nil)
	}
	if err != nil {
		// Which check failed is never revealed
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	pair, err := h.tokens.Issue(user.ID, req.DeviceID, services.IssueOptions{Anonymous: user.Anonymous})
	if err != nil {
		http.Error(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}

	h.tracker.Touch(user.ID, user.Anonymous, pair.ExpiresAt)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ResolveResponse{
		User:   user.ToResponse(),
		Tokens: pair,
	})
}

// RefreshRequest is the request body for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges a valid refresh token for a new token pair
// @Summary Refresh tokens
// @Description Exchange a refresh token for a new access/refresh pair
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} services.TokenPair
// @Failure 401 {object} models.ErrorResponse
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	claims, err := h.tokens.Verify(req.RefreshToken, services.TokenTypeRefresh)
	if err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	// A session the inactivity sweep has invalidated cannot be silently
	// extended; the user re-authenticates. Anonymous identities are exempt
	// from the sweep, so their refresh always proceeds.
	if !claims.Anonymous && !h.tracker.Active(claims.EffectiveUserID()) {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	pair, err := h.tokens.Issue(claims.Subject, claims.DeviceID, services.IssueOptions{
		Anonymous: claims.Anonymous,
		PairedUID: claims.PairedUID,
		Admin:     claims.Admin,
	})
	if err != nil {
		http.Error(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}

	h.tracker.Touch(claims.EffectiveUserID(), claims.Anonymous, pair.ExpiresAt)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pair)
}

// IssueRecoveryCode mints a recovery code for the authenticated identity
// @Summary Issue recovery code
// @Description Generate a new recovery code; the plaintext is returned exactly once
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Security BearerAuth
// @Router /api/auth/recovery-code [post]
func (h *AuthHandler) IssueRecoveryCode(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	code, err := h.identity.IssueRecoveryCode(r.Context(), userID)
	if err != nil {
		http.Error(w, "Failed to issue recovery code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"recoveryCode": code})
}

// SignOut drops the session state for the authenticated identity
// @Summary Sign out
// @Description Forget the current session
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]bool
// @Security BearerAuth
// @Router /api/auth/signout [post]
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.tracker.Forget(userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

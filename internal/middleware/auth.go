package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/phonelink/server/internal/services"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
)

// GetClaimsFromContext retrieves the verified token claims from request context
func GetClaimsFromContext(ctx context.Context) *services.TokenClaims {
	if claims, ok := ctx.Value(ClaimsContextKey).(*services.TokenClaims); ok {
		return claims
	}
	return nil
}

// UserIDFromContext returns the effective identity of the request's bearer,
// or "" when the request is unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	claims := GetClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.EffectiveUserID()
}

// DeviceIDFromContext returns the device the bearer token was issued to.
func DeviceIDFromContext(ctx context.Context) string {
	claims := GetClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.DeviceID
}

// BearerAuth creates middleware that verifies access tokens. The token comes
// from the Authorization header, with a query parameter fallback for the
// WebSocket upgrade where browsers cannot set headers. Every failure is the
// same 401; which check failed is never revealed.
func BearerAuth(tokens *services.TokenService, tracker *services.SessionTracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				unauthorized(w)
				return
			}

			claims, err := tokens.Verify(raw, services.TokenTypeAccess)
			if err != nil {
				unauthorized(w)
				return
			}

			if tracker != nil {
				tracker.Touch(claims.EffectiveUserID(), claims.Anonymous, claims.ExpiresAt.Time)
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the raw token from the request.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// WebSocket clients pass the token as a query parameter because the
	// browser WebSocket API cannot set request headers.
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "Authentication required."})
}

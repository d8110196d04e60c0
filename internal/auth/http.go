// ABOUTME: HTTP middleware for JWT authentication on API and WebSocket endpoints
// ABOUTME: Extracts the token, verifies it, and confirms the user still exists

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/2389/mulchat-gateway/internal/store"
)

// UserLookup is the store access the middleware needs.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest returns the bearer token, falling back to the token query
// parameter for WebSocket clients that cannot set headers.
func TokenFromRequest(r *http.Request) (string, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg == "" {
		return token, ""
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return q, ""
	}
	return "", errMsg
}

// Authenticate verifies the request's token and loads the user.
// Returns an error message suitable for a 401 response on failure.
func Authenticate(r *http.Request, users UserLookup, verifier TokenVerifier) (*Identity, string) {
	token, errMsg := TokenFromRequest(r)
	if errMsg != "" {
		return nil, errMsg
	}
	userID, err := verifier.Verify(token)
	if err != nil {
		return nil, "invalid token"
	}
	user, err := users.GetUser(r.Context(), userID)
	if err != nil {
		return nil, "user not found"
	}
	return &Identity{UserID: user.ID, Username: user.Username}, ""
}

// HTTPAuthMiddleware rejects requests without a valid token and stores the
// caller's Identity in the request context.
func HTTPAuthMiddleware(users UserLookup, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, errMsg := Authenticate(r, users, verifier)
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

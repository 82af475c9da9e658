/**
 * @description
 * This file contains custom middleware for the HTTP router. The session
 * middleware resolves the bearer session token into an authenticated user id
 * and makes both available to handlers through the request context.
 */

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/app"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	sessionTokenKey contextKey = "sessionToken"
	userIDKey       contextKey = "userID"
)

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}

// SessionAuthMiddleware requires a fully authenticated session (password and
// MFA both completed). Sessions still pending the login code are rejected.
func SessionAuthMiddleware(service *app.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			userID, err := service.AuthenticateToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, app.ErrNotAuthenticated) {
					http.Error(w, "Not authenticated", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Unable to validate session", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), sessionTokenKey, token)
			ctx = context.WithValue(ctx, userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionToken returns the session token placed in the context by the
// middleware.
func GetSessionToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionTokenKey).(string)
	return token, ok
}

// GetUserID returns the authenticated user id placed in the context by the
// middleware.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

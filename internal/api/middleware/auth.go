package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/eldtechnologies/agora/internal/models"
	"github.com/eldtechnologies/agora/internal/store"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// AuthMiddleware resolves session tokens to room identities.
type AuthMiddleware struct {
	identities store.IdentityStore
	sessions   store.LiveStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(identities store.IdentityStore, sessions store.LiveStore) *AuthMiddleware {
	return &AuthMiddleware{identities: identities, sessions: sessions}
}

// RequireAuth rejects requests without a live session. The identity is
// loaded fresh on every request so mutes and departures apply at once.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		name, err := m.sessions.LookupSession(r.Context(), token)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if name == "" {
			jsonError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		identity, err := m.identities.GetIdentity(r.Context(), name)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "database error")
			return
		}
		if identity == nil {
			// Reaped or left; the token is useless now.
			_ = m.sessions.DeleteSession(r.Context(), token)
			jsonError(w, http.StatusUnauthorized, "identity no longer in room, join again")
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetIdentityFromContext retrieves the authenticated identity from the request context.
func GetIdentityFromContext(ctx context.Context) *models.Identity {
	identity, ok := ctx.Value(IdentityContextKey).(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}

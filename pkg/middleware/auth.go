package middleware

import (
	"net/http"
	"strings"

	"github.com/plexcrm/plexcrm/pkg/auth"
	"github.com/plexcrm/plexcrm/pkg/contextkeys"
	"github.com/plexcrm/plexcrm/pkg/permissions"
)

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	authenticator auth.Authenticator
	optional      bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authenticator auth.Authenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		optional:      optional,
	}
}

// Authenticate wraps an HTTP handler with token authentication. On
// success the principal and its effective permission set are added to
// the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract token from Authorization header
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorizedResponse(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorizedResponse(w, "invalid authorization header format")
			return
		}

		principal, err := m.authenticator.Authenticate(r.Context(), parts[1])
		if err != nil {
			unauthorizedResponse(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		ctx = contextkeys.WithPermissions(ctx, principal.Permissions())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal extracts the authenticated principal from the request
func GetPrincipal(r *http.Request) *auth.Principal {
	principal, ok := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal)
	if !ok {
		return nil
	}
	return principal
}

// GetPermissions extracts the effective permission set from the request
func GetPermissions(r *http.Request) permissions.Set {
	perms, ok := r.Context().Value(contextkeys.PermissionsKey).(permissions.Set)
	if !ok {
		return nil
	}
	return perms
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

func forbiddenResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexcrm/plexcrm/pkg/permissions"
)

// RequirePermissions creates middleware that checks the principal's
// effective permissions against the endpoint's requirement. OR
// semantics: any one of the listed permissions satisfies the guard.
//
// MIDDLEWARE ORDERING REQUIREMENT: must run after Authenticate.
func RequirePermissions(required ...permissions.Permission) func(http.Handler) http.Handler {
	var g PermissionGuard
	return g.Require(required...)
}

// RequireAllPermissions is the AND variant for composite operations.
func RequireAllPermissions(required ...permissions.Permission) func(http.Handler) http.Handler {
	var g PermissionGuard
	return g.RequireAll(required...)
}

// PermissionGuard builds permission middlewares that share an optional
// denial counter. The zero value is usable and records nothing.
type PermissionGuard struct {
	denials *prometheus.CounterVec
}

// NewPermissionGuard creates a guard factory whose denials increment
// the given counter with guard="permission".
func NewPermissionGuard(denials *prometheus.CounterVec) *PermissionGuard {
	return &PermissionGuard{denials: denials}
}

// Require is the OR variant; see RequirePermissions.
func (g *PermissionGuard) Require(required ...permissions.Permission) func(http.Handler) http.Handler {
	return g.guard(required, func(granted permissions.Set, req []permissions.Permission) bool {
		return granted.HasAny(req...)
	})
}

// RequireAll is the AND variant; see RequireAllPermissions.
func (g *PermissionGuard) RequireAll(required ...permissions.Permission) func(http.Handler) http.Handler {
	return g.guard(required, func(granted permissions.Set, req []permissions.Permission) bool {
		return granted.HasAll(req...)
	})
}

func (g *PermissionGuard) deny(w http.ResponseWriter, message string) {
	if g.denials != nil {
		g.denials.WithLabelValues("permission").Inc()
	}
	forbiddenResponse(w, message)
}

// denyError renders a typed permission denial. Unknown error types get
// a generic message so internals never leak into responses.
func (g *PermissionGuard) denyError(w http.ResponseWriter, err error) {
	var insufficient *permissions.InsufficientPermissionError
	if errors.As(err, &insufficient) {
		g.deny(w, "missing required permission: "+joinPermissions(insufficient.Missing))
		return
	}
	g.deny(w, "access denied")
}

func (g *PermissionGuard) guard(required []permissions.Permission, check func(permissions.Set, []permissions.Permission) bool) func(http.Handler) http.Handler {
	// A malformed requirement is a programming error. Log loudly and
	// fail closed: the guard denies every request it protects.
	var malformed []string
	for _, p := range required {
		if _, err := permissions.Parse(string(p)); err != nil {
			malformed = append(malformed, string(p))
		}
	}
	if len(malformed) > 0 {
		slog.Error("endpoint declares malformed permissions; guard will deny all requests",
			"permissions", strings.Join(malformed, ","))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(malformed) > 0 {
				g.deny(w, "endpoint permission configuration is invalid")
				return
			}

			granted := GetPermissions(r)
			if granted == nil {
				g.deny(w, "authentication required")
				return
			}

			if !check(granted, required) {
				g.denyError(w, &permissions.InsufficientPermissionError{
					Missing: granted.Missing(required...),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func joinPermissions(perms []permissions.Permission) string {
	strs := make([]string, len(perms))
	for i, p := range perms {
		strs[i] = string(p)
	}
	return strings.Join(strs, ", ")
}

// Package auth defines the authenticated principal model and the token
// boundary the access pipeline consumes. Identity providers themselves
// (SSO, OIDC) are external collaborators; this package only verifies
// bearer tokens and produces principals.
package auth

import (
	"time"

	"github.com/plexcrm/plexcrm/pkg/permissions"
)

// SystemRole is a platform-level role, orthogonal to tenant roles.
type SystemRole string

const (
	// SystemRoleAdmin is platform staff with full cross-tenant access.
	SystemRoleAdmin SystemRole = "platform_admin"
	// SystemRoleSupport is platform staff with cross-tenant read access
	// for support workflows.
	SystemRoleSupport SystemRole = "platform_support"
	// SystemRoleUser is a regular tenant-affiliated user.
	SystemRoleUser SystemRole = "user"
)

// Principal is an authenticated actor making a request.
type Principal struct {
	ID         string                   `json:"id"`
	Email      string                   `json:"email,omitempty"`
	SystemRole SystemRole               `json:"system_role"`
	TenantID   string                   `json:"tenant_id,omitempty"` // empty for platform staff
	TenantRole permissions.Role         `json:"tenant_role,omitempty"`
	Overrides  []permissions.Permission `json:"overrides,omitempty"`
	IsActive   bool                     `json:"is_active"`
	CreatedAt  time.Time                `json:"created_at"`
}

// IsStaff reports whether the principal is platform staff and may act
// across tenant boundaries.
func (p *Principal) IsStaff() bool {
	return p.SystemRole == SystemRoleAdmin || p.SystemRole == SystemRoleSupport
}

// Permissions resolves the principal's effective permission set. Staff
// get the admin defaults; tenant users get their tenant role's defaults
// unioned with their explicit overrides.
func (p *Principal) Permissions() permissions.Set {
	if p.IsStaff() {
		return permissions.Effective(permissions.RoleAdmin, p.Overrides)
	}
	return permissions.Effective(p.TenantRole, p.Overrides)
}

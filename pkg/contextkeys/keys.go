// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/plexcrm/plexcrm/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.PrincipalKey, principal)
//   principal := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.Authenticate (pkg/middleware/auth.go)
	// Required by: tenant access checks, permission guard, handlers
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// PermissionsKey contains permissions.Set
	// Set by: middleware.Authenticate alongside the principal
	// Required by: permission guard, data scope translation
	// Type: permissions.Set
	PermissionsKey Key = "permissions"

	// TenantKey contains *tenants.Tenant
	// Set by: middleware.TenantContext (pkg/middleware/tenant.go)
	// Required by: tenant-scoped endpoints, quota guard
	// Type: *tenants.Tenant
	TenantKey Key = "tenant"

	// TenantDBKey contains *tenantdb.Handle
	// Set by: middleware.TenantContext after router resolution
	// Required by: handlers running tenant-scoped queries
	// Type: *tenantdb.Handle
	TenantDBKey Key = "tenant_db"

	// ScopeKey contains middleware.ScopeFunc
	// Set by: middleware.TenantContext once the principal's permission
	// set is known
	// Required by: handlers building ownership-scoped queries
	// Type: middleware.ScopeFunc
	ScopeKey Key = "scope"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestID middleware
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: httputil.RequestID middleware
	// Used by: Duration calculation for access logs and audit events
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// Helper functions for type-safe context operations

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithPermissions adds the principal's effective permissions to the context
func WithPermissions(ctx context.Context, perms interface{}) context.Context {
	return context.WithValue(ctx, PermissionsKey, perms)
}

// WithTenant adds the resolved tenant to the context
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithTenantDB adds the tenant database handle to the context
func WithTenantDB(ctx context.Context, handle interface{}) context.Context {
	return context.WithValue(ctx, TenantDBKey, handle)
}

// WithScope adds the request's data-scope closure to the context
func WithScope(ctx context.Context, scope interface{}) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime interface{}) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

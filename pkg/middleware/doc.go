// Package middleware implements the request access pipeline: token
// authentication, rate limiting, tenant resolution and access checks,
// permission checks, and quota enforcement.
//
// # CRITICAL: Middleware Ordering Requirements
//
// The pipeline is a fixed, non-reorderable sequence. Incorrect order
// will cause guards to silently skip (no principal or tenant in
// context yet) or waste connection work on traffic that should have
// been refused earlier.
//
// REQUIRED ORDERING (outer to inner):
//  1. Authenticate - establishes the Principal and its effective permissions
//  2. RateLimit - only on sensitive endpoints (login, password reset);
//     runs before any tenant work so abusive traffic never costs a
//     database connection
//  3. TenantContext - extracts the tenant identifier, checks the
//     principal may act on that tenant, resolves the database handle
//  4. RequirePermissions - evaluates the endpoint's required permissions
//  5. EnforceQuota - where declared; platform staff bypass it
//  6. Handler - business logic with the tenant handle and data scope
//
// Example (correct):
//
//	router.Use(authMW.Authenticate)
//	router.Use(tenantMW.TenantContext)
//	router.Handle("/api/v1/tenants/{tenant_id}/customers",
//	    middleware.RequirePermissions(permissions.CRMCustomersCreate)(
//	        quotaMW.EnforceQuota(tenants.QuotaSeats)(handler))).
//	    Methods("POST")
//
// Example (WRONG - will not work):
//
//	router.Use(tenantMW.TenantContext)  // FAILS: no principal in context yet
//	router.Use(authMW.Authenticate)
//
// WHY THIS MATTERS:
//   - TenantContext before Authenticate cannot check tenant access
//     (there is no principal) and fails every request
//   - EnforceQuota before TenantContext finds no tenant in context and
//     silently skips the quota check
//   - RateLimit after TenantContext lets abusive login bursts open
//     tenant database connections before being refused
//
// Every step after authentication may short-circuit the rest of the
// pipeline; no step after a terminal failure executes.
//
// # Related Packages
//
//   - pkg/auth: token validation, Principal
//   - pkg/permissions: permission matching
//   - pkg/tenants: directory lookup, quota checking
//   - pkg/tenantdb: per-tenant database handles
package middleware

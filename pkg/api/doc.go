// Package api wires the HTTP surface of the access-control service.
//
// Every business route passes through the guard pipeline in the order
// documented in pkg/middleware: authentication, rate limiting (login
// only), tenant resolution, permission checks, then quota enforcement.
// The handlers here are deliberately thin; they exist to exercise the
// pipeline end to end, not to be a full CRM.
//
// # Routes
//
//	POST   /api/v1/auth/login                     rate limited, unauthenticated
//	GET    /api/v1/me                             authenticated
//	GET    /api/v1/tenants/{tenant_id}/customers  crm:customers:read, ownership scoped
//	GET    /api/v1/tenants/{tenant_id}/orders     crm:orders:read, ownership scoped
//	GET    /api/v1/admin/tenants                  platform staff
//	GET    /api/v1/admin/tenants/{id}             platform staff
//	DELETE /api/v1/admin/tenants/{id}/handle      platform staff
//	GET    /api/v1/admin/router/stats             platform staff
//	GET    /api/v1/admin/audit                    platform staff
//
// Health and metrics endpoints are registered separately by the
// entrypoint on the health port.
package api

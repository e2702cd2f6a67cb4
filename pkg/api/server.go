package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/plexcrm/plexcrm/pkg/audit"
	"github.com/plexcrm/plexcrm/pkg/auth"
	"github.com/plexcrm/plexcrm/pkg/contextkeys"
	"github.com/plexcrm/plexcrm/pkg/httputil"
	"github.com/plexcrm/plexcrm/pkg/middleware"
	"github.com/plexcrm/plexcrm/pkg/observability"
	"github.com/plexcrm/plexcrm/pkg/permissions"
	"github.com/plexcrm/plexcrm/pkg/tenantdb"
	"github.com/plexcrm/plexcrm/pkg/tenants"
)

// Deps carries everything the server needs. ControlPlane is the shared
// control-plane database; tenant business data is only ever reached
// through TenantRouter.
type Deps struct {
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Authenticator auth.Authenticator
	Directory     tenants.Directory
	TenantRouter  *tenantdb.Router
	Quotas        *tenants.QuotaService
	Auditor       audit.Logger
	AuditStore    *audit.DBLogger // optional; nil disables the audit listing endpoint
	ControlPlane  *sql.DB

	// LoginLimiter wraps the login route. Either the in-memory or the
	// Redis-backed limiter middleware; nil leaves login unthrottled.
	LoginLimiter func(http.Handler) http.Handler

	MaxBodyBytes int64
}

// Server is the HTTP API for the access-control service.
type Server struct {
	deps   Deps
	router *mux.Router
	auth   *middleware.AuthMiddleware
	tenant *middleware.TenantMiddleware
	quota  *middleware.QuotaMiddleware
	perm   *middleware.PermissionGuard
}

// NewServer assembles the router with the full guard pipeline.
func NewServer(deps Deps) *Server {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		auth:   middleware.NewAuthMiddleware(deps.Authenticator, false),
		tenant: middleware.NewTenantMiddleware(deps.Directory, deps.TenantRouter, deps.Auditor),
		quota:  middleware.NewQuotaMiddleware(deps.Quotas, deps.Auditor),
		perm:   &middleware.PermissionGuard{},
	}
	if m := deps.Metrics; m != nil {
		s.perm = middleware.NewPermissionGuard(m.AccessDeniedTotal)
		s.tenant.WithDenialCounter(m.AccessDeniedTotal)
		s.quota.WithMetrics(m.QuotaDeniedTotal, m.QuotaLookupFailsTotal)
	}
	s.setupRoutes()
	return s
}

// routeTemplate resolves the mux route template for metrics labels so
// per-tenant IDs do not explode label cardinality.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestID)
	s.router.Use(httputil.Recovery(s.deps.Logger))
	s.router.Use(httputil.MaxBytes(s.deps.MaxBodyBytes))
	if s.deps.Metrics != nil {
		s.router.Use(s.deps.Metrics.HTTPMiddleware(routeTemplate))
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Login is unauthenticated and rate limited by client IP.
	login := http.Handler(http.HandlerFunc(s.login))
	if s.deps.LoginLimiter != nil {
		login = s.deps.LoginLimiter(login)
	}
	api.Handle("/auth/login", login).Methods("POST")

	// Authenticated, tenant-free.
	api.Handle("/me", s.authed(http.HandlerFunc(s.me))).Methods("GET")
	api.Handle("/auth/tokens", s.authed(http.HandlerFunc(s.createToken))).Methods("POST")
	api.Handle("/auth/tokens/{id}", s.authed(http.HandlerFunc(s.revokeToken))).Methods("DELETE")

	// Tenant-scoped business routes run the full pipeline. API calls
	// are metered against the monthly call quota.
	api.Handle("/tenants/{tenant_id}/customers",
		s.tenantScoped(http.HandlerFunc(s.listCustomers), permissions.CRMCustomersRead)).Methods("GET")
	api.Handle("/tenants/{tenant_id}/orders",
		s.tenantScoped(http.HandlerFunc(s.listOrders), permissions.CRMOrdersRead)).Methods("GET")

	// Operator routes are platform-staff only.
	api.Handle("/admin/tenants", s.staffOnly(http.HandlerFunc(s.adminListTenants))).Methods("GET")
	api.Handle("/admin/tenants/{id}", s.staffOnly(http.HandlerFunc(s.adminGetTenant))).Methods("GET")
	api.Handle("/admin/tenants/{id}/handle", s.staffOnly(http.HandlerFunc(s.adminInvalidateHandle))).Methods("DELETE")
	api.Handle("/admin/router/stats", s.staffOnly(http.HandlerFunc(s.adminRouterStats))).Methods("GET")
	api.Handle("/admin/audit", s.staffOnly(http.HandlerFunc(s.adminListAuditEvents))).Methods("GET")
}

// authed wraps a handler with authentication only.
func (s *Server) authed(h http.Handler) http.Handler {
	return s.auth.Authenticate(h)
}

// tenantScoped wraps a handler with the full guard pipeline in the
// documented order: authenticate, resolve tenant, check permissions,
// enforce the API call quota, then track usage.
func (s *Server) tenantScoped(h http.Handler, required ...permissions.Permission) http.Handler {
	h = s.quota.TrackAPIUsage(h)
	h = s.quota.EnforceQuota(tenants.QuotaMonthlyAPICalls)(h)
	h = s.perm.Require(required...)(h)
	h = s.tenant.TenantContext(h)
	return s.auth.Authenticate(h)
}

// staffOnly wraps a handler with authentication plus a platform-staff
// check. Operator routes never enter tenant context; they act on the
// control plane directly.
func (s *Server) staffOnly(h http.Handler) http.Handler {
	guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := middleware.GetPrincipal(r)
		if principal == nil || !principal.IsStaff() {
			httputil.WriteForbidden(w, "platform staff access required")
			return
		}
		h.ServeHTTP(w, r)
	})
	return s.auth.Authenticate(guarded)
}

// logger returns the request-scoped logger: the base logger with the
// request id attached and, when a span is recording, the trace and
// span ids so log lines correlate with traces.
func (s *Server) logger(r *http.Request) *observability.Logger {
	l := s.deps.Logger
	if id := contextkeys.GetRequestID(r.Context()); id != "" {
		l = l.WithField("request_id", id)
	}
	return observability.UpdateLoggerWithTraceContext(r.Context(), l)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

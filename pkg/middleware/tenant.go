package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexcrm/plexcrm/pkg/audit"
	"github.com/plexcrm/plexcrm/pkg/auth"
	"github.com/plexcrm/plexcrm/pkg/contextkeys"
	"github.com/plexcrm/plexcrm/pkg/datascope"
	"github.com/plexcrm/plexcrm/pkg/tenantdb"
	"github.com/plexcrm/plexcrm/pkg/tenants"
)

// TenantHeader carries an explicit tenant id.
const TenantHeader = "X-Tenant-ID"

// maxBodyPeek bounds how much of a request body the tenant extractor
// will read looking for a tenant_id field.
const maxBodyPeek = 1 << 20

// reservedSubdomains are never treated as tenant slugs.
var reservedSubdomains = map[string]struct{}{
	"www":     {},
	"api":     {},
	"app":     {},
	"admin":   {},
	"status":  {},
	"staging": {},
}

// TenantMiddleware resolves the tenant a request acts on, verifies the
// principal may act on it, and attaches the tenant's database handle.
//
// MIDDLEWARE ORDERING REQUIREMENT:
//   - MUST run after Authenticate (requires the principal in context)
//   - MUST run before RequirePermissions and EnforceQuota
type TenantMiddleware struct {
	directory  tenants.Directory
	router     *tenantdb.Router
	auditor    audit.Logger
	translator *datascope.Translator
	denials    *prometheus.CounterVec
}

// NewTenantMiddleware creates a new tenant context middleware
func NewTenantMiddleware(directory tenants.Directory, router *tenantdb.Router, auditor audit.Logger) *TenantMiddleware {
	return &TenantMiddleware{
		directory:  directory,
		router:     router,
		auditor:    auditor,
		translator: datascope.NewTranslator(),
	}
}

// WithDenialCounter records tenant-guard refusals with guard="tenant".
func (m *TenantMiddleware) WithDenialCounter(c *prometheus.CounterVec) *TenantMiddleware {
	m.denials = c
	return m
}

// WithTranslator replaces the default data-scope translator, e.g. to
// register additional entity kinds.
func (m *TenantMiddleware) WithTranslator(t *datascope.Translator) *TenantMiddleware {
	m.translator = t
	return m
}

// ScopeFunc builds the effective ownership filter for one entity kind.
// The request's granted permission set and principal are already
// bound; extra is the caller's business filter.
type ScopeFunc func(kind string, extra *datascope.Filter) *datascope.Filter

func (m *TenantMiddleware) deny(w http.ResponseWriter, message string) {
	if m.denials != nil {
		m.denials.WithLabelValues("tenant").Inc()
	}
	forbiddenResponse(w, message)
}

// TenantContext wraps an HTTP handler with tenant resolution. The
// tenant identifier is taken from the first non-empty source: route
// parameter, query parameter, JSON body field, the X-Tenant-ID header,
// a subdomain-derived slug, then the principal's own affiliation.
func (m *TenantMiddleware) TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := GetPrincipal(r)
		if principal == nil {
			unauthorizedResponse(w, "authentication required")
			return
		}

		ref := tenantRefFrom(r, principal)
		if ref.value == "" {
			m.writeTenantError(w, tenants.ErrMissingTenantContext)
			return
		}

		// A tenant-affiliated principal may only act on its own tenant;
		// platform staff may act on any tenant. Explicit tenant ids are
		// checked against the affiliation before the directory lookup so
		// a denial never reveals whether the tenant exists.
		if !ref.isSlug && !principal.IsStaff() && principal.TenantID != ref.value {
			m.denyCrossTenant(w, r, principal, ref.value)
			return
		}

		tenant, err := ref.lookup(r.Context(), m.directory)
		if err != nil {
			m.writeTenantError(w, err)
			return
		}

		// Slug-derived tenants can only be checked after resolution.
		if !principal.IsStaff() && principal.TenantID != tenant.ID {
			m.denyCrossTenant(w, r, principal, tenant.ID)
			return
		}

		if !tenant.Available() {
			audit.Record(r.Context(), m.auditor, &audit.Event{
				EventType:   audit.EventTypeTenantSuspendedAccess,
				Status:      audit.EventStatusDenied,
				PrincipalID: principal.ID,
				TenantID:    tenant.ID,
				IPAddress:   ClientIP(r),
				Method:      r.Method,
				Path:        r.URL.Path,
			})
			m.deny(w, "tenant is suspended")
			return
		}

		handle, err := m.router.Resolve(r.Context(), tenant)
		if err != nil {
			m.writeTenantError(w, err)
			return
		}

		granted := GetPermissions(r)
		scope := ScopeFunc(func(kind string, extra *datascope.Filter) *datascope.Filter {
			return m.translator.For(kind, granted, principal.ID, extra)
		})

		ctx := contextkeys.WithTenant(r.Context(), tenant)
		ctx = contextkeys.WithTenantDB(ctx, handle)
		ctx = contextkeys.WithScope(ctx, scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantRef is an unresolved tenant identifier extracted from a
// request: a tenant id, or a slug derived from the host subdomain.
type tenantRef struct {
	value  string
	isSlug bool
}

func (ref tenantRef) lookup(ctx context.Context, dir tenants.Directory) (*tenants.Tenant, error) {
	if ref.isSlug {
		return dir.GetTenantBySlug(ctx, ref.value)
	}
	return dir.GetTenant(ctx, ref.value)
}

// tenantRefFrom takes the first non-empty identifier source: route
// parameter, query parameter, JSON body field, the X-Tenant-ID header,
// a subdomain-derived slug, then the principal's own affiliation.
func tenantRefFrom(r *http.Request, principal *auth.Principal) tenantRef {
	if id := mux.Vars(r)["tenant_id"]; id != "" {
		return tenantRef{value: id}
	}
	if id := r.URL.Query().Get("tenant_id"); id != "" {
		return tenantRef{value: id}
	}
	if id := tenantIDFromBody(r); id != "" {
		return tenantRef{value: id}
	}
	if id := r.Header.Get(TenantHeader); id != "" {
		return tenantRef{value: id}
	}
	if slug := subdomainSlug(r.Host); slug != "" {
		return tenantRef{value: slug, isSlug: true}
	}
	return tenantRef{value: principal.TenantID}
}

func (m *TenantMiddleware) denyCrossTenant(w http.ResponseWriter, r *http.Request, principal *auth.Principal, tenantID string) {
	audit.Record(r.Context(), m.auditor, &audit.Event{
		EventType:   audit.EventTypeTenantAccessDenied,
		Status:      audit.EventStatusDenied,
		PrincipalID: principal.ID,
		TenantID:    tenantID,
		IPAddress:   ClientIP(r),
		RequestID:   contextkeys.GetRequestID(r.Context()),
		Method:      r.Method,
		Path:        r.URL.Path,
		Message:     "cross-tenant access refused",
	})
	m.writeTenantError(w, &tenants.AccessDeniedError{PrincipalID: principal.ID, TenantID: tenantID})
}

func (m *TenantMiddleware) writeTenantError(w http.ResponseWriter, err error) {
	switch {
	case tenants.IsAccessDenied(err):
		m.deny(w, "access to this tenant is not permitted")
	case errors.Is(err, tenants.ErrMissingTenantContext):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"no tenant identifier in request"}`))
	case errors.Is(err, tenants.ErrTenantNotFound):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"tenant not found"}`))
	case errors.Is(err, tenants.ErrTenantSuspended):
		m.deny(w, "tenant is suspended")
	case tenantdb.IsConnectionError(err):
		// Transient: the router evicted the failed entry so the next
		// request retries cleanly. Error payloads never include
		// connection coordinates.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"tenant database unavailable"}`))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"tenant resolution failed"}`))
	}
}

// tenantIDFromBody peeks at a JSON request body for a tenant_id field
// and restores the body for the downstream handler.
func tenantIDFromBody(r *http.Request) string {
	if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	var body struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.TenantID
}

// subdomainSlug derives a tenant slug from the request host. Hosts with
// fewer than three labels and reserved subdomains yield nothing; the
// slug still has to resolve through the directory before it is trusted.
func subdomainSlug(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	slug := strings.ToLower(labels[0])
	if _, reserved := reservedSubdomains[slug]; reserved {
		return ""
	}
	return slug
}

// GetTenant extracts the resolved tenant from the request
func GetTenant(r *http.Request) *tenants.Tenant {
	tenant, ok := r.Context().Value(contextkeys.TenantKey).(*tenants.Tenant)
	if !ok {
		return nil
	}
	return tenant
}

// GetTenantDB extracts the tenant database handle from the request
func GetTenantDB(r *http.Request) *tenantdb.Handle {
	handle, ok := r.Context().Value(contextkeys.TenantDBKey).(*tenantdb.Handle)
	if !ok {
		return nil
	}
	return handle
}

// GetScope extracts the request's data-scope closure. Nil when
// TenantContext has not run.
func GetScope(r *http.Request) ScopeFunc {
	scope, ok := r.Context().Value(contextkeys.ScopeKey).(ScopeFunc)
	if !ok {
		return nil
	}
	return scope
}

package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/plexcrm/plexcrm/pkg/auth"
	"github.com/plexcrm/plexcrm/pkg/contextkeys"
	"github.com/plexcrm/plexcrm/pkg/tenantdb"
	"github.com/plexcrm/plexcrm/pkg/tenants"
)

// Shared fixtures for the middleware tests.

func salesPrincipal() *auth.Principal {
	return &auth.Principal{
		ID:         "usr_sales",
		SystemRole: auth.SystemRoleUser,
		TenantID:   "ten_acme",
		TenantRole: "sales",
		IsActive:   true,
	}
}

func staffPrincipal() *auth.Principal {
	return &auth.Principal{
		ID:         "usr_staff",
		SystemRole: auth.SystemRoleAdmin,
		IsActive:   true,
	}
}

func acmeTenant() *tenants.Tenant {
	return &tenants.Tenant{
		ID:       "ten_acme",
		Slug:     "acme",
		Name:     "Acme Corp",
		Driver:   "postgres",
		Host:     "db-acme.internal",
		Port:     5432,
		Database: "tenant_acme",
		PlanTier: tenants.PlanStandard,
		IsActive: true,
	}
}

type fakeDirectory struct {
	byID   map[string]*tenants.Tenant
	bySlug map[string]*tenants.Tenant
}

func newFakeDirectory(list ...*tenants.Tenant) *fakeDirectory {
	d := &fakeDirectory{
		byID:   make(map[string]*tenants.Tenant),
		bySlug: make(map[string]*tenants.Tenant),
	}
	for _, t := range list {
		d.byID[t.ID] = t
		d.bySlug[t.Slug] = t
	}
	return d
}

func (d *fakeDirectory) GetTenant(_ context.Context, id string) (*tenants.Tenant, error) {
	if t, ok := d.byID[id]; ok {
		return t, nil
	}
	return nil, tenants.ErrTenantNotFound
}

func (d *fakeDirectory) GetTenantBySlug(_ context.Context, slug string) (*tenants.Tenant, error) {
	if t, ok := d.bySlug[slug]; ok {
		return t, nil
	}
	return nil, tenants.ErrTenantNotFound
}

func (d *fakeDirectory) ListTenants(_ context.Context) ([]*tenants.Tenant, error) {
	out := make([]*tenants.Tenant, 0, len(d.byID))
	for _, t := range d.byID {
		out = append(out, t)
	}
	return out, nil
}

func newTestRouter() *tenantdb.Router {
	opener := func(_ context.Context, _, _ string) (*sql.DB, error) {
		db, _, err := sqlmock.New()
		return db, err
	}
	return tenantdb.NewRouter(tenantdb.StaticCredentials{Username: "app"}, tenantdb.WithOpener(opener))
}

// authedRequest builds a request with a principal and its permissions
// already in context, as Authenticate would have left them.
func authedRequest(method, target string, principal *auth.Principal) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	ctx := contextkeys.WithPrincipal(r.Context(), principal)
	ctx = contextkeys.WithPermissions(ctx, principal.Permissions())
	return r.WithContext(ctx)
}

// authedRequestFrom attaches a principal to an existing request.
func authedRequestFrom(r *http.Request, principal *auth.Principal) *http.Request {
	ctx := contextkeys.WithPrincipal(r.Context(), principal)
	ctx = contextkeys.WithPermissions(ctx, principal.Permissions())
	return r.WithContext(ctx)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})
}

package api

import (
	"context"
	"database/sql"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/plexcrm/plexcrm/pkg/audit"
	"github.com/plexcrm/plexcrm/pkg/auth"
	"github.com/plexcrm/plexcrm/pkg/middleware"
	"github.com/plexcrm/plexcrm/pkg/observability"
	"github.com/plexcrm/plexcrm/pkg/permissions"
	"github.com/plexcrm/plexcrm/pkg/tenantdb"
	"github.com/plexcrm/plexcrm/pkg/tenants"
)

type authenticatorFunc func(ctx context.Context, token string) (*auth.Principal, error)

func (f authenticatorFunc) Authenticate(ctx context.Context, token string) (*auth.Principal, error) {
	return f(ctx, token)
}

type fakeDirectory struct {
	byID map[string]*tenants.Tenant
}

func (d *fakeDirectory) GetTenant(_ context.Context, id string) (*tenants.Tenant, error) {
	if t, ok := d.byID[id]; ok {
		return t, nil
	}
	return nil, tenants.ErrTenantNotFound
}

func (d *fakeDirectory) GetTenantBySlug(_ context.Context, slug string) (*tenants.Tenant, error) {
	for _, t := range d.byID {
		if t.Slug == slug {
			return t, nil
		}
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

func acmeTenant() *tenants.Tenant {
	return &tenants.Tenant{
		ID:       "ten_acme",
		Slug:     "acme",
		Name:     "Acme Corp",
		Driver:   "postgres",
		Host:     "db-acme.internal",
		Port:     5432,
		Database: "acme",
		PlanTier: tenants.PlanStandard,
		IsActive: true,
	}
}

func salesPrincipal() *auth.Principal {
	return &auth.Principal{
		ID:         "usr_sales",
		Email:      "sales@acme.test",
		SystemRole: auth.SystemRoleUser,
		TenantID:   "ten_acme",
		TenantRole: permissions.RoleSales,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
}

func managerPrincipal() *auth.Principal {
	return &auth.Principal{
		ID:         "usr_mgr",
		Email:      "mgr@acme.test",
		SystemRole: auth.SystemRoleUser,
		TenantID:   "ten_acme",
		TenantRole: permissions.RoleManager,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
}

func operatorPrincipal() *auth.Principal {
	return &auth.Principal{
		ID:         "usr_op",
		Email:      "ops@acme.test",
		SystemRole: auth.SystemRoleUser,
		TenantID:   "ten_acme",
		TenantRole: permissions.RoleOperator,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
}

func staffPrincipal() *auth.Principal {
	return &auth.Principal{
		ID:         "usr_staff",
		Email:      "staff@plexcrm.test",
		SystemRole: auth.SystemRoleAdmin,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
}

// apiFixture wires a server against mock databases: tenantMock backs
// the routed tenant handle, controlMock backs the control plane.
type apiFixture struct {
	server      *Server
	auditor     *audit.MemoryLogger
	tenantMock  sqlmock.Sqlmock
	controlMock sqlmock.Sqlmock
	router      *tenantdb.Router
	tokens      map[string]*auth.Principal

	// loginPrincipal, when set, is returned for any token outside the
	// fixed map so login tests can authenticate freshly issued tokens.
	loginPrincipal *auth.Principal
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()

	tenantDB, tenantMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { tenantDB.Close() })

	controlDB, controlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { controlDB.Close() })

	router := tenantdb.NewRouter(
		tenantdb.StaticCredentials{Username: "plex", Password: "test"},
		tenantdb.WithOpener(func(ctx context.Context, driver, dsn string) (*sql.DB, error) {
			return tenantDB, nil
		}),
	)

	f := &apiFixture{
		auditor:     audit.NewMemoryLogger(),
		tenantMock:  tenantMock,
		controlMock: controlMock,
		router:      router,
		tokens: map[string]*auth.Principal{
			"plex_sales": salesPrincipal(),
			"plex_mgr":   managerPrincipal(),
			"plex_op":    operatorPrincipal(),
			"plex_staff": staffPrincipal(),
		},
	}

	f.server = NewServer(Deps{
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
		Authenticator: authenticatorFunc(func(_ context.Context, token string) (*auth.Principal, error) {
			if p, ok := f.tokens[token]; ok {
				return p, nil
			}
			if f.loginPrincipal != nil {
				return f.loginPrincipal, nil
			}
			return nil, auth.ErrUnauthenticated
		}),
		Directory:    &fakeDirectory{byID: map[string]*tenants.Tenant{"ten_acme": acmeTenant()}},
		TenantRouter: router,
		Quotas:       tenants.NewQuotaService(controlDB),
		Auditor:      f.auditor,
		ControlPlane: controlDB,
		LoginLimiter: middleware.NewRateLimitMiddleware(
			middleware.NewRateLimiter(&middleware.RateLimitConfig{MaxAttempts: 3, WindowDuration: time.Minute}),
			f.auditor,
		).Handler,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, target, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, body)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RateLimitDeniedTotal.Inc()
	m.TenantHandlesOpen.Set(3)
	m.AccessDeniedTotal.WithLabelValues("tenant").Inc()
	m.QuotaDeniedTotal.WithLabelValues("monthly_emails").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitDeniedTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.TenantHandlesOpen))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AccessDeniedTotal.WithLabelValues("tenant")))
}

func TestMetricsHandlerServesScrape(t *testing.T) {
	m := NewMetrics(nil)
	m.TenantsActive.Set(12)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plexcrm_tenants_active 12")
}

func TestHTTPMiddlewareRecords(t *testing.T) {
	m := NewMetrics(nil)
	handler := m.HTTPMiddleware(func(*http.Request) string { return "/api/v1/customers" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/customers?id=1", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/customers", "418")))
}

func TestHTTPMiddlewareDefaultsToURLPath(t *testing.T) {
	m := NewMetrics(nil)
	handler := m.HTTPMiddleware(nil)(okStub())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))
}

func okStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

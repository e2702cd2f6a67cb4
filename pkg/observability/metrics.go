package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access control metrics
	AccessDeniedTotal     *prometheus.CounterVec
	RateLimitDeniedTotal  prometheus.Counter
	QuotaDeniedTotal      *prometheus.CounterVec
	QuotaLookupFailsTotal prometheus.Counter

	// Tenant router metrics
	TenantHandlesOpen    prometheus.Gauge
	TenantConnectsTotal  *prometheus.CounterVec
	TenantConnectLatency prometheus.Histogram

	// Directory cache metrics
	DirectoryCacheHitsTotal   prometheus.Counter
	DirectoryCacheMissesTotal prometheus.Counter

	// Control-plane database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	TenantsActive  prometheus.Gauge
	APITokensTotal prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexcrm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plexcrm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexcrm_access_denied_total",
				Help: "Requests refused by an access pipeline guard",
			},
			[]string{"guard"},
		),
		RateLimitDeniedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plexcrm_ratelimit_denied_total",
				Help: "Attempts denied by the rate limiter",
			},
		),
		QuotaDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexcrm_quota_denied_total",
				Help: "Requests denied by a quota ceiling breach",
			},
			[]string{"resource"},
		),
		QuotaLookupFailsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plexcrm_quota_lookup_failures_total",
				Help: "Quota lookups that failed and were allowed through",
			},
		),

		TenantHandlesOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plexcrm_tenant_handles_open",
				Help: "Open per-tenant database handles",
			},
		),
		TenantConnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexcrm_tenant_connects_total",
				Help: "Tenant database connection attempts",
			},
			[]string{"status"},
		),
		TenantConnectLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plexcrm_tenant_connect_duration_seconds",
				Help:    "Tenant database open and probe duration",
				Buckets: prometheus.DefBuckets,
			},
		),

		DirectoryCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plexcrm_directory_cache_hits_total",
				Help: "Tenant directory cache hits",
			},
		),
		DirectoryCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plexcrm_directory_cache_misses_total",
				Help: "Tenant directory cache misses",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plexcrm_db_connections_active",
				Help: "Active control-plane database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plexcrm_db_connections_idle",
				Help: "Idle control-plane database connections",
			},
		),

		TenantsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plexcrm_tenants_active",
				Help: "Active tenants in the directory",
			},
		),
		APITokensTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plexcrm_api_tokens_active",
				Help: "Active API tokens",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessDeniedTotal,
		m.RateLimitDeniedTotal,
		m.QuotaDeniedTotal,
		m.QuotaLookupFailsTotal,
		m.TenantHandlesOpen,
		m.TenantConnectsTotal,
		m.TenantConnectLatency,
		m.DirectoryCacheHitsTotal,
		m.DirectoryCacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.TenantsActive,
		m.APITokensTotal,
	)

	return m
}

// Handler returns the Prometheus scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request count and duration per route. Use the
// mux route template as path so cardinality stays bounded.
func (m *Metrics) HTTPMiddleware(pathFor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if pathFor != nil {
				if p := pathFor(r); p != "" {
					path = p
				}
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

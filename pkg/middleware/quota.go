package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexcrm/plexcrm/pkg/audit"
	"github.com/plexcrm/plexcrm/pkg/tenants"
)

// QuotaChecker checks and meters tenant usage ceilings.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, tenant *tenants.Tenant, kind tenants.QuotaKind) error
	IncrementUsage(ctx context.Context, tenantID string, kind tenants.QuotaKind, delta int64) error
}

// QuotaMiddleware enforces tenant usage ceilings for declared
// operations.
//
// IMPORTANT: See package documentation for middleware ordering
// requirements. Quota checks will silently skip if TenantContext has
// not run.
type QuotaMiddleware struct {
	checker     QuotaChecker
	auditor     audit.Logger
	denied      *prometheus.CounterVec
	lookupFails prometheus.Counter
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(checker QuotaChecker, auditor audit.Logger) *QuotaMiddleware {
	return &QuotaMiddleware{
		checker: checker,
		auditor: auditor,
	}
}

// WithMetrics records ceiling denials by resource and lookups that
// failed open.
func (m *QuotaMiddleware) WithMetrics(denied *prometheus.CounterVec, lookupFails prometheus.Counter) *QuotaMiddleware {
	m.denied = denied
	m.lookupFails = lookupFails
	return m
}

// EnforceQuota checks one usage ceiling before the handler runs.
//
// REQUIRES: Authenticate and TenantContext must run before this
// middleware.
//
// Platform staff bypass the check entirely. A genuine ceiling breach
// denies with 429; a quota-lookup infrastructure failure fails OPEN
// and allows the request, trading metering strictness for
// availability. That tradeoff is deliberate and must be preserved.
func (m *QuotaMiddleware) EnforceQuota(kind tenants.QuotaKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r)
			if principal != nil && principal.IsStaff() {
				next.ServeHTTP(w, r)
				return
			}

			tenant := GetTenant(r)
			if tenant == nil {
				// No tenant context, skip quota check
				next.ServeHTTP(w, r)
				return
			}

			if err := m.checker.CheckQuota(r.Context(), tenant, kind); err != nil {
				var qe *tenants.QuotaExceededError
				if errors.As(err, &qe) {
					if m.denied != nil {
						m.denied.WithLabelValues(string(qe.Resource)).Inc()
					}
					audit.Record(r.Context(), m.auditor, &audit.Event{
						EventType: audit.EventTypeQuotaExceeded,
						Status:    audit.EventStatusDenied,
						TenantID:  tenant.ID,
						Method:    r.Method,
						Path:      r.URL.Path,
						Metadata: map[string]interface{}{
							"resource": string(qe.Resource),
							"current":  qe.Current,
							"limit":    qe.Limit,
						},
					})
					quotaExceededResponse(w, qe)
					return
				}
				// Fail open on lookup failures: log and allow.
				if m.lookupFails != nil {
					m.lookupFails.Inc()
				}
				slog.Warn("quota lookup failed, allowing request",
					"tenant_id", tenant.ID, "quota", string(kind), "error", err)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TrackAPIUsage increments the tenant's monthly API call counter after
// tenant resolution. Fire and forget; metering failures never affect
// the request.
func (m *QuotaMiddleware) TrackAPIUsage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant := GetTenant(r); tenant != nil {
			go func(tenantID string) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := m.checker.IncrementUsage(ctx, tenantID, tenants.QuotaMonthlyAPICalls, 1); err != nil {
					slog.Warn("failed to track api usage", "tenant_id", tenantID, "error", err)
				}
			}(tenant.ID)
		}
		next.ServeHTTP(w, r)
	})
}

func quotaExceededResponse(w http.ResponseWriter, qe *tenants.QuotaExceededError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"quota_exceeded","resource":"` + string(qe.Resource) +
		`","current":` + strconv.FormatInt(qe.Current, 10) +
		`,"limit":` + strconv.FormatInt(qe.Limit, 10) + `}`))
}

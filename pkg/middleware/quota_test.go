package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexcrm/plexcrm/pkg/audit"
	"github.com/plexcrm/plexcrm/pkg/contextkeys"
	"github.com/plexcrm/plexcrm/pkg/tenants"
)

type fakeQuotaChecker struct {
	mu         sync.Mutex
	checkErr   error
	increments map[tenants.QuotaKind]int64
}

func (f *fakeQuotaChecker) CheckQuota(_ context.Context, _ *tenants.Tenant, _ tenants.QuotaKind) error {
	return f.checkErr
}

func (f *fakeQuotaChecker) IncrementUsage(_ context.Context, _ string, kind tenants.QuotaKind, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.increments == nil {
		f.increments = make(map[tenants.QuotaKind]int64)
	}
	f.increments[kind] += delta
	return nil
}

func (f *fakeQuotaChecker) incremented(kind tenants.QuotaKind) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.increments[kind]
}

func tenantScopedRequest(principalKind string) *http.Request {
	var r *http.Request
	if principalKind == "staff" {
		r = authedRequest(http.MethodPost, "/api/v1/messages", staffPrincipal())
	} else {
		r = authedRequest(http.MethodPost, "/api/v1/messages", salesPrincipal())
	}
	ctx := contextkeys.WithTenant(r.Context(), acmeTenant())
	return r.WithContext(ctx)
}

func TestEnforceQuotaWithinLimit(t *testing.T) {
	mw := NewQuotaMiddleware(&fakeQuotaChecker{}, audit.NopLogger{})
	handler := mw.EnforceQuota(tenants.QuotaMonthlyMessages)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantScopedRequest("sales"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnforceQuotaExceeded(t *testing.T) {
	checker := &fakeQuotaChecker{checkErr: &tenants.QuotaExceededError{
		Resource: tenants.QuotaMonthlyMessages,
		Current:  100,
		Limit:    100,
	}}
	auditor := audit.NewMemoryLogger()
	mw := NewQuotaMiddleware(checker, auditor)
	handler := mw.EnforceQuota(tenants.QuotaMonthlyMessages)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantScopedRequest("sales"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"resource":"monthly_messages"`)
	assert.Contains(t, w.Body.String(), `"current":100`)
	assert.Contains(t, w.Body.String(), `"limit":100`)

	events := auditor.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeQuotaExceeded, events[0].EventType)
}

func TestEnforceQuotaInfraFailureFailsOpen(t *testing.T) {
	checker := &fakeQuotaChecker{checkErr: errors.New("control plane unreachable")}
	mw := NewQuotaMiddleware(checker, audit.NopLogger{})
	handler := mw.EnforceQuota(tenants.QuotaMonthlyMessages)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantScopedRequest("sales"))

	// Metering failures allow the request through.
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnforceQuotaStaffBypass(t *testing.T) {
	checker := &fakeQuotaChecker{checkErr: &tenants.QuotaExceededError{
		Resource: tenants.QuotaMonthlyMessages, Current: 100, Limit: 100,
	}}
	mw := NewQuotaMiddleware(checker, audit.NopLogger{})
	handler := mw.EnforceQuota(tenants.QuotaMonthlyMessages)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantScopedRequest("staff"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnforceQuotaSkipsWithoutTenant(t *testing.T) {
	checker := &fakeQuotaChecker{checkErr: &tenants.QuotaExceededError{
		Resource: tenants.QuotaSeats, Current: 3, Limit: 3,
	}}
	mw := NewQuotaMiddleware(checker, audit.NopLogger{})
	handler := mw.EnforceQuota(tenants.QuotaSeats)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/messages", salesPrincipal()))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrackAPIUsage(t *testing.T) {
	checker := &fakeQuotaChecker{}
	mw := NewQuotaMiddleware(checker, audit.NopLogger{})
	handler := mw.TrackAPIUsage(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantScopedRequest("sales"))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Eventually(t, func() bool {
		return checker.incremented(tenants.QuotaMonthlyAPICalls) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEnforceQuotaWrappedExceededError(t *testing.T) {
	// QuotaService wraps ceiling breaches when adding context; the
	// guard must still deny with 429 rather than fail open.
	wrapped := fmt.Errorf("monthly check: %w", &tenants.QuotaExceededError{
		Resource: tenants.QuotaMonthlyAPICalls,
		Current:  10001,
		Limit:    10000,
	})
	mw := NewQuotaMiddleware(&fakeQuotaChecker{checkErr: wrapped}, audit.NopLogger{})
	handler := mw.EnforceQuota(tenants.QuotaMonthlyAPICalls)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantScopedRequest("sales"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "quota_exceeded")
}

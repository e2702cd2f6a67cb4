// Package tenantdb routes requests to per-tenant database pools. Each
// tenant has its own database; the router opens a pool lazily on first
// use, caches it, and guarantees a single open attempt per tenant no
// matter how many requests arrive at once.
package tenantdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/plexcrm/plexcrm/pkg/tenants"
)

// Credentials are the secrets for one tenant database, resolved from a
// credential reference at connect time.
type Credentials struct {
	Username string
	Password string
}

// CredentialsResolver exchanges a tenant's credential reference for
// live database credentials.
type CredentialsResolver interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// EnvCredentials resolves credential references from environment
// variables: a ref "tenant-acme" reads PLEX_DB_CRED_TENANT_ACME_USER
// and PLEX_DB_CRED_TENANT_ACME_PASSWORD.
type EnvCredentials struct{}

func (EnvCredentials) Resolve(_ context.Context, ref string) (Credentials, error) {
	key := strings.ToUpper(strings.ReplaceAll(ref, "-", "_"))
	user := os.Getenv("PLEX_DB_CRED_" + key + "_USER")
	pass := os.Getenv("PLEX_DB_CRED_" + key + "_PASSWORD")
	if user == "" {
		return Credentials{}, fmt.Errorf("no credentials found for ref %q", ref)
	}
	return Credentials{Username: user, Password: pass}, nil
}

// StaticCredentials resolves every reference to the same credentials.
// Useful for dev setups and tests.
type StaticCredentials struct {
	Username string
	Password string
}

func (c StaticCredentials) Resolve(context.Context, string) (Credentials, error) {
	return Credentials{Username: c.Username, Password: c.Password}, nil
}

// Opener opens a database pool for a driver and DSN. Swappable in
// tests.
type Opener func(ctx context.Context, driver, dsn string) (*sql.DB, error)

func defaultOpener(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	return db, nil
}

func buildDSN(t *tenants.Tenant, creds Credentials) (string, error) {
	switch t.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d dbname=%s user=%s password=%s sslmode=require",
			t.Host, t.Port, t.Database, creds.Username, creds.Password,
		), nil
	case "sqlite3":
		// Single-file tenants for dev and small deployments; the
		// Database field holds the file path.
		return t.Database, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDriver, t.Driver)
	}
}

// Option configures a Router.
type Option func(*Router)

// WithOpener replaces the pool opener.
func WithOpener(open Opener) Option {
	return func(r *Router) { r.opener = open }
}

// WithPingTimeout bounds the reachability probe on first connect.
func WithPingTimeout(d time.Duration) Option {
	return func(r *Router) { r.pingTimeout = d }
}

// WithGauge exposes the number of open handles as a metric.
func WithGauge(g prometheus.Gauge) Option {
	return func(r *Router) { r.gauge = g }
}

// WithConnectMetrics records connection attempts by outcome and the
// open-plus-probe latency.
func WithConnectMetrics(connects *prometheus.CounterVec, latency prometheus.Histogram) Option {
	return func(r *Router) {
		r.connects = connects
		r.connectLatency = latency
	}
}

// Router caches one Handle per tenant. Concurrent first requests for
// the same tenant are collapsed into a single open attempt; failures
// are not cached, so the next request retries.
type Router struct {
	creds          CredentialsResolver
	opener         Opener
	pingTimeout    time.Duration
	gauge          prometheus.Gauge
	connects       *prometheus.CounterVec
	connectLatency prometheus.Histogram

	mu      sync.RWMutex
	handles map[string]*Handle
	closed  bool

	group singleflight.Group
}

// NewRouter creates a Router resolving credentials through resolver.
func NewRouter(resolver CredentialsResolver, opts ...Option) *Router {
	r := &Router{
		creds:       resolver,
		opener:      defaultOpener,
		pingTimeout: 5 * time.Second,
		handles:     make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the handle for a tenant, opening it on first use.
// Repeated calls for the same tenant return the same handle. Tenants
// that are suspended or inactive are refused before any connection
// work happens.
func (r *Router) Resolve(ctx context.Context, tenant *tenants.Tenant) (*Handle, error) {
	if !tenant.Available() {
		return nil, tenants.ErrTenantSuspended
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrRouterClosed
	}
	if h, ok := r.handles[tenant.ID]; ok {
		r.mu.RUnlock()
		return h, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(tenant.ID, func() (any, error) {
		r.mu.RLock()
		if r.closed {
			r.mu.RUnlock()
			return nil, ErrRouterClosed
		}
		if h, ok := r.handles[tenant.ID]; ok {
			r.mu.RUnlock()
			return h, nil
		}
		r.mu.RUnlock()

		h, err := r.open(ctx, tenant)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			h.Close()
			return nil, ErrRouterClosed
		}
		r.handles[tenant.ID] = h
		r.setGauge(len(r.handles))
		r.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// open builds the DSN and dials the tenant database. The pool is
// detached from the triggering request's cancellation: it outlives the
// request, so an early client disconnect must not abort an open other
// requests are waiting on.
func (r *Router) open(ctx context.Context, tenant *tenants.Tenant) (h *Handle, err error) {
	start := time.Now()
	defer func() {
		if r.connectLatency != nil {
			r.connectLatency.Observe(time.Since(start).Seconds())
		}
		if r.connects != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			r.connects.WithLabelValues(status).Inc()
		}
	}()

	ctx = context.WithoutCancel(ctx)

	creds, err := r.creds.Resolve(ctx, tenant.CredentialsRef)
	if err != nil {
		return nil, &ConnectionError{TenantID: tenant.ID, Err: err}
	}
	dsn, err := buildDSN(tenant, creds)
	if err != nil {
		return nil, &ConnectionError{TenantID: tenant.ID, Err: err}
	}

	db, err := r.opener(ctx, tenant.Driver, dsn)
	if err != nil {
		return nil, &ConnectionError{TenantID: tenant.ID, Err: err}
	}

	h = newHandle(tenant.ID, db)
	pingCtx, cancel := context.WithTimeout(ctx, r.pingTimeout)
	defer cancel()
	if err := h.Healthy(pingCtx); err != nil {
		db.Close()
		return nil, &ConnectionError{TenantID: tenant.ID, Err: err}
	}
	return h, nil
}

// Invalidate closes and evicts a tenant's handle, e.g. after a
// credential rotation or suspension. No-op for unknown tenants.
func (r *Router) Invalidate(tenantID string) error {
	r.mu.Lock()
	h, ok := r.handles[tenantID]
	if ok {
		delete(r.handles, tenantID)
		r.setGauge(len(r.handles))
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return h.Close()
}

// Shutdown closes every cached handle. Further Resolve calls fail with
// ErrRouterClosed. Idempotent.
func (r *Router) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.setGauge(0)
	r.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HandleStats describes one cached handle: when its pool was opened
// and the outcome of the last connectivity probe.
type HandleStats struct {
	TenantID    string    `json:"tenant_id"`
	OpenedAt    time.Time `json:"opened_at"`
	LastChecked time.Time `json:"last_checked"`
	Healthy     bool      `json:"healthy"`
}

// Stats describes the router's current cache.
type Stats struct {
	OpenHandles int           `json:"open_handles"`
	TenantIDs   []string      `json:"tenant_ids"`
	Handles     []HandleStats `json:"handles"`
}

// Stats returns a snapshot of cached handles for operator endpoints.
// It reads recorded probe state only and never touches a database.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]HandleStats, 0, len(ids))
	for _, id := range ids {
		h := r.handles[id]
		checked, ok := h.Status()
		entries = append(entries, HandleStats{
			TenantID:    id,
			OpenedAt:    h.OpenedAt(),
			LastChecked: checked,
			Healthy:     ok,
		})
	}
	return Stats{OpenHandles: len(ids), TenantIDs: ids, Handles: entries}
}

// Peek returns the cached handle for a tenant without opening one.
func (r *Router) Peek(tenantID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[tenantID]
	return h, ok
}

// OpenHandleCount reports the cached handle count without sorting IDs.
// Satisfies the health checker's router interface.
func (r *Router) OpenHandleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (r *Router) setGauge(n int) {
	if r.gauge != nil {
		r.gauge.Set(float64(n))
	}
}

package tenantdb

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// Handle is a live connection pool for one tenant's database. Handles
// are shared across requests; Close is only called by the router on
// eviction or shutdown.
type Handle struct {
	tenantID string
	db       *sql.DB
	openedAt time.Time

	mu          sync.Mutex
	closed      bool
	lastChecked time.Time
	lastOK      bool
}

func newHandle(tenantID string, db *sql.DB) *Handle {
	return &Handle{
		tenantID: tenantID,
		db:       db,
		openedAt: time.Now().UTC(),
	}
}

// TenantID returns the tenant this handle belongs to.
func (h *Handle) TenantID() string {
	return h.tenantID
}

// DB returns the underlying pool for running tenant-scoped queries.
func (h *Handle) DB() *sql.DB {
	return h.db
}

// OpenedAt returns when the pool was first opened.
func (h *Handle) OpenedAt() time.Time {
	return h.openedAt
}

// Healthy pings the pool within the context deadline and records the
// outcome for Status.
func (h *Handle) Healthy(ctx context.Context) error {
	err := h.db.PingContext(ctx)
	h.mu.Lock()
	h.lastChecked = time.Now().UTC()
	h.lastOK = err == nil
	h.mu.Unlock()
	return err
}

// Status reports the last recorded probe outcome without touching the
// database.
func (h *Handle) Status() (lastChecked time.Time, healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastChecked, h.lastOK
}

// Close tears the pool down. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.db.Close()
}

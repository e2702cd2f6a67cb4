package tenants

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
)

// CachedDirectory wraps a Directory with an in-memory TTL'd LRU so hot
// lookups skip the control-plane round trip. Lifecycle flags are only
// as fresh as the TTL; Invalidate forces the next lookup through.
type CachedDirectory struct {
	inner  Directory
	cache  *lru.LRU[string, *Tenant]
	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewCachedDirectory creates a caching wrapper. maxEntries bounds the
// cache (default 1024), ttl bounds staleness (default 30s).
func NewCachedDirectory(inner Directory, maxEntries int, ttl time.Duration) *CachedDirectory {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedDirectory{
		inner: inner,
		cache: lru.NewLRU[string, *Tenant](maxEntries, nil, ttl),
	}
}

// WithCounters attaches hit/miss counters. Either may be nil.
func (d *CachedDirectory) WithCounters(hits, misses prometheus.Counter) *CachedDirectory {
	d.hits = hits
	d.misses = misses
	return d
}

func (d *CachedDirectory) countHit() {
	if d.hits != nil {
		d.hits.Inc()
	}
}

func (d *CachedDirectory) countMiss() {
	if d.misses != nil {
		d.misses.Inc()
	}
}

// GetTenant returns the tenant by id, from cache when fresh.
func (d *CachedDirectory) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	if t, ok := d.cache.Get("id:" + id); ok {
		d.countHit()
		return t, nil
	}
	d.countMiss()
	t, err := d.inner.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	d.store(t)
	return t, nil
}

// GetTenantBySlug returns the tenant by slug, from cache when fresh.
func (d *CachedDirectory) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	if t, ok := d.cache.Get("slug:" + slug); ok {
		d.countHit()
		return t, nil
	}
	d.countMiss()
	t, err := d.inner.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	d.store(t)
	return t, nil
}

// ListTenants always passes through; listing is an operator path, not
// a hot path.
func (d *CachedDirectory) ListTenants(ctx context.Context) ([]*Tenant, error) {
	return d.inner.ListTenants(ctx)
}

// Invalidate drops both cache entries for a tenant, e.g. after a
// suspension event.
func (d *CachedDirectory) Invalidate(t *Tenant) {
	d.cache.Remove("id:" + t.ID)
	d.cache.Remove("slug:" + t.Slug)
}

// Purge clears the whole cache.
func (d *CachedDirectory) Purge() {
	d.cache.Purge()
}

func (d *CachedDirectory) store(t *Tenant) {
	d.cache.Add("id:"+t.ID, t)
	d.cache.Add("slug:"+t.Slug, t)
}

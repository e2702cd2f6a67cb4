package tenantdb

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexcrm/plexcrm/pkg/tenants"
)

func testTenant(id string) *tenants.Tenant {
	return &tenants.Tenant{
		ID:             id,
		Slug:           "acme",
		Name:           "Acme Corp",
		Driver:         "postgres",
		Host:           "db-acme.internal",
		Port:           5432,
		Database:       "tenant_acme",
		CredentialsRef: "tenant-acme",
		PlanTier:       tenants.PlanStandard,
		IsActive:       true,
	}
}

// countingOpener hands out sqlmock pools and counts open attempts.
func countingOpener(t *testing.T, calls *atomic.Int64) Opener {
	t.Helper()
	return func(_ context.Context, _, _ string) (*sql.DB, error) {
		calls.Add(1)
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		mock.ExpectClose()
		return db, nil
	}
}

func TestResolveCachesHandle(t *testing.T) {
	var calls atomic.Int64
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(countingOpener(t, &calls)))
	defer r.Shutdown()

	ten := testTenant("ten_1")
	first, err := r.Resolve(context.Background(), ten)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), ten)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "ten_1", first.TenantID())
}

func TestResolveConcurrentSingleOpen(t *testing.T) {
	var calls atomic.Int64
	slow := func(ctx context.Context, driver, dsn string) (*sql.DB, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		return db, err
	}
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(slow))
	defer r.Shutdown()

	ten := testTenant("ten_1")
	const workers = 16
	handles := make([]*Handle, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Resolve(context.Background(), ten)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
}

func TestResolveRefusesSuspendedTenant(t *testing.T) {
	var calls atomic.Int64
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(countingOpener(t, &calls)))
	defer r.Shutdown()

	ten := testTenant("ten_1")
	ten.IsSuspended = true
	_, err := r.Resolve(context.Background(), ten)
	assert.ErrorIs(t, err, tenants.ErrTenantSuspended)
	assert.Zero(t, calls.Load())

	inactive := testTenant("ten_2")
	inactive.IsActive = false
	_, err = r.Resolve(context.Background(), inactive)
	assert.ErrorIs(t, err, tenants.ErrTenantSuspended)
}

func TestResolveFailureNotCached(t *testing.T) {
	var calls atomic.Int64
	flaky := func(ctx context.Context, driver, dsn string) (*sql.DB, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		return db, err
	}
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(flaky))
	defer r.Shutdown()

	ten := testTenant("ten_1")
	_, err := r.Resolve(context.Background(), ten)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))

	h, err := r.Resolve(context.Background(), ten)
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Equal(t, int64(2), calls.Load())
}

func TestResolvePingFailureEvicts(t *testing.T) {
	opener := func(ctx context.Context, driver, dsn string) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		mock.ExpectPing().WillReturnError(errors.New("no route to host"))
		mock.ExpectClose()
		return db, err
	}
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(opener))
	defer r.Shutdown()

	_, err := r.Resolve(context.Background(), testTenant("ten_1"))
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Zero(t, r.Stats().OpenHandles)
}

func TestConnectionErrorIdentifiesTenantOnly(t *testing.T) {
	opener := func(ctx context.Context, driver, dsn string) (*sql.DB, error) {
		return nil, errors.New("connection refused")
	}
	r := NewRouter(StaticCredentials{Username: "app", Password: "s3cret"}, WithOpener(opener))
	defer r.Shutdown()

	_, err := r.Resolve(context.Background(), testTenant("ten_1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ten_1")
	assert.NotContains(t, err.Error(), "s3cret")
	assert.NotContains(t, err.Error(), "db-acme.internal")
}

func TestInvalidateReopens(t *testing.T) {
	var calls atomic.Int64
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(countingOpener(t, &calls)))
	defer r.Shutdown()

	ten := testTenant("ten_1")
	first, err := r.Resolve(context.Background(), ten)
	require.NoError(t, err)

	require.NoError(t, r.Invalidate(ten.ID))
	require.NoError(t, r.Invalidate("ten_unknown"))

	second, err := r.Resolve(context.Background(), ten)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), calls.Load())
}

func TestShutdownIdempotent(t *testing.T) {
	var calls atomic.Int64
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(countingOpener(t, &calls)))

	_, err := r.Resolve(context.Background(), testTenant("ten_1"))
	require.NoError(t, err)

	require.NoError(t, r.Shutdown())
	require.NoError(t, r.Shutdown())

	_, err = r.Resolve(context.Background(), testTenant("ten_2"))
	assert.ErrorIs(t, err, ErrRouterClosed)
	assert.Zero(t, r.Stats().OpenHandles)
}

func TestStats(t *testing.T) {
	var calls atomic.Int64
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(countingOpener(t, &calls)))
	defer r.Shutdown()

	_, err := r.Resolve(context.Background(), testTenant("ten_b"))
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), testTenant("ten_a"))
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 2, stats.OpenHandles)
	assert.Equal(t, []string{"ten_a", "ten_b"}, stats.TenantIDs)

	require.Len(t, stats.Handles, 2)
	for i, id := range []string{"ten_a", "ten_b"} {
		entry := stats.Handles[i]
		assert.Equal(t, id, entry.TenantID)
		assert.False(t, entry.OpenedAt.IsZero())
		assert.False(t, entry.LastChecked.IsZero(), "open probe must be recorded")
		assert.True(t, entry.Healthy)
	}
}

func TestPeek(t *testing.T) {
	var calls atomic.Int64
	r := NewRouter(StaticCredentials{Username: "app"}, WithOpener(countingOpener(t, &calls)))
	defer r.Shutdown()

	_, ok := r.Peek("ten_a")
	assert.False(t, ok)
	assert.Zero(t, calls.Load(), "Peek must never open a handle")

	_, err := r.Resolve(context.Background(), testTenant("ten_a"))
	require.NoError(t, err)

	h, ok := r.Peek("ten_a")
	require.True(t, ok)
	assert.Equal(t, "ten_a", h.TenantID())
	assert.Equal(t, int64(1), calls.Load())
}

func TestBuildDSN(t *testing.T) {
	creds := Credentials{Username: "app", Password: "pw"}

	dsn, err := buildDSN(testTenant("ten_1"), creds)
	require.NoError(t, err)
	assert.Contains(t, dsn, "host=db-acme.internal")
	assert.Contains(t, dsn, "dbname=tenant_acme")
	assert.Contains(t, dsn, "sslmode=require")

	lite := testTenant("ten_2")
	lite.Driver = "sqlite3"
	lite.Database = "/var/lib/plexcrm/tenant_acme.db"
	dsn, err = buildDSN(lite, creds)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/plexcrm/tenant_acme.db", dsn)

	bad := testTenant("ten_3")
	bad.Driver = "oracle"
	_, err = buildDSN(bad, creds)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv("PLEX_DB_CRED_TENANT_ACME_USER", "acme_app")
	t.Setenv("PLEX_DB_CRED_TENANT_ACME_PASSWORD", "pw")

	creds, err := EnvCredentials{}.Resolve(context.Background(), "tenant-acme")
	require.NoError(t, err)
	assert.Equal(t, "acme_app", creds.Username)
	assert.Equal(t, "pw", creds.Password)

	_, err = EnvCredentials{}.Resolve(context.Background(), "tenant-missing")
	assert.Error(t, err)
}

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/plexcrm/plexcrm/pkg/api"
	"github.com/plexcrm/plexcrm/pkg/audit"
	"github.com/plexcrm/plexcrm/pkg/auth"
	"github.com/plexcrm/plexcrm/pkg/config"
	"github.com/plexcrm/plexcrm/pkg/middleware"
	"github.com/plexcrm/plexcrm/pkg/observability"
	"github.com/plexcrm/plexcrm/pkg/tenantdb"
	"github.com/plexcrm/plexcrm/pkg/tenants"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "plexcrm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.ParseLevel(cfg.Observability.LogLevel), os.Stdout)
	logger.WithField("version", version).Info("starting plexcrm access-control service")

	ctx := context.Background()

	// OpenTelemetry (optional).
	var telemetry *observability.Telemetry
	if cfg.Observability.OTelEnabled {
		telemetry, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("initializing OpenTelemetry: %w", err)
		}
	}

	// Control-plane database.
	controlDB, err := sql.Open("postgres", cfg.ControlPlane.URL)
	if err != nil {
		return fmt.Errorf("opening control-plane database: %w", err)
	}
	controlDB.SetMaxOpenConns(cfg.ControlPlane.MaxOpenConns)
	controlDB.SetMaxIdleConns(cfg.ControlPlane.MaxIdleConns)
	controlDB.SetConnMaxLifetime(cfg.ControlPlane.ConnMaxLifetime)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = controlDB.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("pinging control-plane database: %w", err)
	}

	// Redis backs the distributed rate limiter; without it the
	// in-memory limiter applies per instance.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup, rate limiting falls back to in-memory")
		}
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	// Tenant directory with a read-through cache in front of the
	// control plane.
	directory := tenants.NewCachedDirectory(
		tenants.NewPostgresDirectory(controlDB),
		cfg.Directory.CacheMaxEntries,
		cfg.Directory.CacheTTL,
	)
	if metrics != nil {
		directory.WithCounters(metrics.DirectoryCacheHitsTotal, metrics.DirectoryCacheMissesTotal)
	}

	// Tenant database router. Credentials come from the environment by
	// ref, never from the directory rows.
	routerOpts := []tenantdb.Option{}
	if metrics != nil {
		routerOpts = append(routerOpts,
			tenantdb.WithGauge(metrics.TenantHandlesOpen),
			tenantdb.WithConnectMetrics(metrics.TenantConnectsTotal, metrics.TenantConnectLatency),
		)
	}
	tenantRouter := tenantdb.NewRouter(tenantdb.EnvCredentials{}, routerOpts...)

	quotas := tenants.NewQuotaService(controlDB)

	auditStore, err := audit.NewDBLogger(controlDB)
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}

	authenticator := auth.NewTokenAuthenticator(auth.NewPostgresSource(controlDB))

	// Login rate limiting: Redis-backed when available so the window
	// holds across instances, otherwise per-instance in memory.
	rlConfig := &middleware.RateLimitConfig{
		MaxAttempts:    cfg.RateLimit.MaxAttempts,
		WindowDuration: cfg.RateLimit.Window,
	}
	var loginLimiter func(http.Handler) http.Handler
	var memoryLimiter *middleware.RateLimiter
	if redisClient != nil {
		limiter := middleware.NewDistributedRateLimiter(redisClient, rlConfig, "plexcrm:ratelimit:login")
		mw := middleware.NewDistributedRateLimitMiddleware(limiter, auditStore)
		if metrics != nil {
			mw.WithDenialCounter(metrics.RateLimitDeniedTotal)
		}
		loginLimiter = mw.Handler
	} else {
		memoryLimiter = middleware.NewRateLimiter(rlConfig)
		mw := middleware.NewRateLimitMiddleware(memoryLimiter, auditStore)
		if metrics != nil {
			mw.WithDenialCounter(metrics.RateLimitDeniedTotal)
		}
		loginLimiter = mw.Handler
	}

	server := api.NewServer(api.Deps{
		Logger:        logger,
		Metrics:       metrics,
		Authenticator: authenticator,
		Directory:     directory,
		TenantRouter:  tenantRouter,
		Quotas:        quotas,
		Auditor:       auditStore,
		AuditStore:    auditStore,
		ControlPlane:  controlDB,
		LoginLimiter:  loginLimiter,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	})

	// Health and metrics on their own port for probes and scraping.
	healthChecker := observability.NewHealthChecker(controlDB, redisClient, tenantRouter)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	// Housekeeping jobs.
	scheduler := cron.New()
	if memoryLimiter != nil {
		if _, err := scheduler.AddFunc("*/5 * * * *", memoryLimiter.Purge); err != nil {
			return fmt.Errorf("scheduling rate-window purge: %w", err)
		}
	}
	if _, err := scheduler.AddFunc("0 * * * *", directory.Purge); err != nil {
		return fmt.Errorf("scheduling directory cache purge: %w", err)
	}
	if metrics != nil {
		if _, err := scheduler.AddFunc("*/1 * * * *", func() {
			refreshTenantGauges(ctx, controlDB, metrics, logger)
		}); err != nil {
			return fmt.Errorf("scheduling gauge refresh: %w", err)
		}
	}
	scheduler.Start()

	var apiHandler http.Handler = server
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(apiHandler, "plexcrm-api")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		healthServer.Shutdown(ctx)
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		scheduler.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return tenantRouter.Shutdown()
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return controlDB.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}
	if telemetry != nil {
		shutdown.RegisterShutdownFunc(telemetry.Shutdown)
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}

// refreshTenantGauges updates the coarse control-plane gauges exposed
// to Prometheus.
func refreshTenantGauges(ctx context.Context, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "tenant gauge refresh")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var activeTenants, tokens float64
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tenants WHERE is_active = true AND is_suspended = false`).
		Scan(&activeTenants); err != nil {
		logger.WithError(err).Warn("tenant gauge refresh failed")
		return
	}
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_tokens WHERE revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())`).
		Scan(&tokens); err != nil {
		logger.WithError(err).Warn("token gauge refresh failed")
		return
	}

	metrics.TenantsActive.Set(activeTenants)
	metrics.APITokensTotal.Set(tokens)

	stats := db.Stats()
	metrics.DBConnectionsActive.Set(float64(stats.InUse))
	metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}

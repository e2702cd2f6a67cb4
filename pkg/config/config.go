package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	ControlPlane  ControlPlaneConfig  `yaml:"control_plane"`
	Redis         RedisConfig         `yaml:"redis"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Directory     DirectoryConfig     `yaml:"directory"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// ControlPlaneConfig holds the control-plane PostgreSQL settings. The
// control plane stores tenants, principals, tokens, quotas, and audit
// events; per-tenant databases are reached through the tenant router.
type ControlPlaneConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis settings for the distributed rate limiter.
// An empty Addr disables Redis and falls back to the in-memory limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RateLimitConfig holds login rate limiting settings
type RateLimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// DirectoryConfig holds tenant directory cache settings
type DirectoryConfig struct {
	CacheMaxEntries int           `yaml:"cache_max_entries"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		ControlPlane: ControlPlaneConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Directory: DirectoryConfig{
			CacheMaxEntries: 1024,
			CacheTTL:        30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "plexcrm",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load resolves configuration from defaults, the optional YAML file
// named by PLEX_CONFIG_FILE, and PLEX_* environment variables, in that
// order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PLEX_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays settings from a YAML file onto the receiver.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays PLEX_* environment variables onto the receiver.
func (c *Config) applyEnv() {
	setString(&c.Server.Host, "PLEX_HOST")
	setString(&c.Server.Port, "PLEX_PORT")
	setDuration(&c.Server.ReadTimeout, "PLEX_READ_TIMEOUT")
	setDuration(&c.Server.WriteTimeout, "PLEX_WRITE_TIMEOUT")
	setDuration(&c.Server.IdleTimeout, "PLEX_IDLE_TIMEOUT")
	setDuration(&c.Server.ShutdownTimeout, "PLEX_SHUTDOWN_TIMEOUT")
	setInt64(&c.Server.MaxBodyBytes, "PLEX_MAX_BODY_BYTES")
	setString(&c.Server.HealthPort, "PLEX_HEALTH_PORT")

	setString(&c.ControlPlane.URL, "PLEX_CONTROL_PLANE_URL")
	setInt(&c.ControlPlane.MaxOpenConns, "PLEX_CONTROL_PLANE_MAX_CONNS")
	setInt(&c.ControlPlane.MaxIdleConns, "PLEX_CONTROL_PLANE_IDLE_CONNS")
	setDuration(&c.ControlPlane.ConnMaxLifetime, "PLEX_CONTROL_PLANE_CONN_LIFETIME")

	setString(&c.Redis.Addr, "PLEX_REDIS_ADDR")
	setString(&c.Redis.Password, "PLEX_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "PLEX_REDIS_DB")
	setInt(&c.Redis.PoolSize, "PLEX_REDIS_POOL_SIZE")

	setInt(&c.RateLimit.MaxAttempts, "PLEX_RATE_LIMIT_MAX_ATTEMPTS")
	setDuration(&c.RateLimit.Window, "PLEX_RATE_LIMIT_WINDOW")

	setInt(&c.Directory.CacheMaxEntries, "PLEX_DIRECTORY_CACHE_SIZE")
	setDuration(&c.Directory.CacheTTL, "PLEX_DIRECTORY_CACHE_TTL")

	setString(&c.Observability.LogLevel, "PLEX_LOG_LEVEL")
	setBool(&c.Observability.MetricsEnabled, "PLEX_METRICS_ENABLED")
	setBool(&c.Observability.OTelEnabled, "PLEX_OTEL_ENABLED")
	setString(&c.Observability.OTelEndpoint, "PLEX_OTEL_ENDPOINT")
	setString(&c.Observability.OTelServiceName, "PLEX_OTEL_SERVICE_NAME")
	setString(&c.Observability.OTelServiceVersion, "PLEX_OTEL_SERVICE_VERSION")
	setBool(&c.Observability.OTelInsecure, "PLEX_OTEL_INSECURE")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.ControlPlane.URL == "" {
		return fmt.Errorf("control-plane database URL is required")
	}

	if c.RateLimit.MaxAttempts <= 0 {
		return fmt.Errorf("rate limit max attempts must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	if c.Directory.CacheMaxEntries <= 0 {
		return fmt.Errorf("directory cache size must be positive")
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// setString overrides dest when the environment variable is set
func setString(dest *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}

// setBool overrides dest when the environment variable is set
func setBool(dest *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dest = strings.ToLower(value) == "true" || value == "1"
	}
}

// setInt overrides dest when the environment variable parses
func setInt(dest *int, key string) {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			*dest = intVal
		}
	}
}

// setInt64 overrides dest when the environment variable parses
func setInt64(dest *int64, key string) {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			*dest = intVal
		}
	}
}

// setDuration overrides dest when the environment variable parses
func setDuration(dest *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			*dest = duration
		}
	}
}

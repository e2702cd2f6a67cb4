// Package config loads application configuration for the PlexCRM
// access-control service.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML file named by PLEX_CONFIG_FILE
//  3. PLEX_* environment variables
//
// Environment variables always win so deployments can override a shared
// config file per instance.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatalf("config: %v", err)
//	}
//
// # Key Variables
//
//	PLEX_HOST, PLEX_PORT          HTTP bind address
//	PLEX_CONTROL_PLANE_URL        control-plane PostgreSQL DSN (required)
//	PLEX_REDIS_ADDR               Redis address; empty disables the
//	                              distributed rate limiter
//	PLEX_RATE_LIMIT_MAX_ATTEMPTS  login attempts per window (default 5)
//	PLEX_RATE_LIMIT_WINDOW        window duration (default 15m)
//	PLEX_LOG_LEVEL                debug, info, warn, error
package config

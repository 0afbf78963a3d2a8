// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package config

import (
	"slices"
	"time"
)

// Built-in strategy names. A route's auth= list may use any of these that
// the configuration enables, plus "default" when DefaultStrategy is set.
const (
	StrategyAnonymous  = "anonymous"
	StrategySession    = "session"
	StrategyRole       = "role"
	StrategyPermission = "permission"
	StrategyAPIKey     = "apikey"
	StrategyBearer     = "bearer"
	StrategyBasic      = "basic"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Security SecurityConfig `koanf:"security"`
	Audit    AuditConfig    `koanf:"audit"`
	Routes   []RouteConfig  `koanf:"routes" validate:"dive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`

	// Environment is development or production.
	Environment string `koanf:"environment" validate:"oneof=development production"`

	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gte=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SecurityConfig configures the pipeline and its strategies.
type SecurityConfig struct {
	// LoginPath is where browsers are redirected after an authentication failure.
	LoginPath string `koanf:"login_path" validate:"startswith=/"`

	// DefaultStrategy is what auth=default resolves to. Empty disables the alias.
	DefaultStrategy string `koanf:"default_strategy"`

	// APIKeyHeader carries "<id>.<secret>" API keys.
	APIKeyHeader string `koanf:"api_key_header"`

	// APIKeyCacheTTL keeps verified API keys in memory to skip repeat bcrypt
	// checks. Zero disables the cache.
	APIKeyCacheTTL time.Duration `koanf:"api_key_cache_ttl" validate:"gte=0"`

	Session SessionConfig `koanf:"session"`
	CSRF    CSRFConfig    `koanf:"csrf"`
	JWT     JWTConfig     `koanf:"jwt"`
	Breaker BreakerConfig `koanf:"breaker"`

	APIKeys []APIKeyConfig `koanf:"api_keys" validate:"dive"`
	Users   []UserConfig   `koanf:"users" validate:"dive"`

	// RoleHierarchy maps a role to the roles it inherits.
	RoleHierarchy map[string][]string `koanf:"role_hierarchy"`

	// RoleGrants maps a role to the permissions it carries.
	RoleGrants map[string][]string `koanf:"role_grants"`
}

// SessionConfig configures session storage and the session cookie.
type SessionConfig struct {
	// Store is memory, badger or none.
	Store string `koanf:"store" validate:"oneof=memory badger none"`

	// Path is the badger directory; empty runs badger in memory.
	Path string `koanf:"path"`

	CookieName      string        `koanf:"cookie_name" validate:"required"`
	CookieSecure    bool          `koanf:"cookie_secure"`
	TTL             time.Duration `koanf:"ttl" validate:"gt=0"`
	Sliding         bool          `koanf:"sliding"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gte=0"`
}

// CSRFConfig configures anti-forgery tokens.
type CSRFConfig struct {
	// Key signs tokens; a random key is generated at startup when empty.
	Key string `koanf:"key" validate:"omitempty,min=32"`

	CookieName   string   `koanf:"cookie_name"`
	CookieSecure bool     `koanf:"cookie_secure"`
	ExemptPaths  []string `koanf:"exempt_paths" validate:"dive,startswith=/"`
}

// JWTConfig configures the bearer strategy. Bearer is enabled when Secret is set.
type JWTConfig struct {
	Secret   string        `koanf:"secret" validate:"omitempty,min=32"`
	Issuer   string        `koanf:"issuer"`
	Audience string        `koanf:"audience"`
	Leeway   time.Duration `koanf:"leeway" validate:"gte=0"`
	// TTL is the default lifetime of issued tokens.
	TTL time.Duration `koanf:"ttl" validate:"gte=0"`
}

// BreakerConfig wraps the named strategies in a circuit breaker.
type BreakerConfig struct {
	Strategies       []string      `koanf:"strategies"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	MaxRequests      uint32        `koanf:"max_requests"`
	Timeout          time.Duration `koanf:"timeout" validate:"gte=0"`
	Interval         time.Duration `koanf:"interval" validate:"gte=0"`
}

// APIKeyConfig is one machine credential.
type APIKeyConfig struct {
	ID          string   `koanf:"id" validate:"required,excludes=."`
	Name        string   `koanf:"name"`
	SecretHash  string   `koanf:"secret_hash" validate:"required"`
	Roles       []string `koanf:"roles"`
	Permissions []string `koanf:"permissions"`
}

// UserConfig is one HTTP Basic / form login user.
type UserConfig struct {
	Username     string   `koanf:"username" validate:"required"`
	PasswordHash string   `koanf:"password_hash" validate:"required"`
	Roles        []string `koanf:"roles"`
	Permissions  []string `koanf:"permissions"`
}

// AuditConfig configures the security event stream.
type AuditConfig struct {
	Enabled      bool   `koanf:"enabled"`
	LogLevel     string `koanf:"log_level" validate:"oneof=debug info warning error critical"`
	BufferSize   int    `koanf:"buffer_size" validate:"gte=0"`
	IncludeDebug bool   `koanf:"include_debug"`

	// LogEvents writes every published event to the service log.
	LogEvents bool `koanf:"log_events"`
}

// RouteConfig binds a method and path to a route declaration.
type RouteConfig struct {
	Method      string `koanf:"method" validate:"oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	Path        string `koanf:"path" validate:"startswith=/"`
	Declaration string `koanf:"declaration" validate:"required"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// EnabledStrategies lists the built-in strategies this configuration can
// construct, sorted.
func (s *SecurityConfig) EnabledStrategies() []string {
	names := []string{StrategyAnonymous}
	if s.Session.Store != "none" {
		names = append(names, StrategySession, StrategyRole, StrategyPermission)
	}
	if len(s.APIKeys) > 0 {
		names = append(names, StrategyAPIKey)
	}
	if s.JWT.Secret != "" {
		names = append(names, StrategyBearer)
	}
	if len(s.Users) > 0 {
		names = append(names, StrategyBasic)
	}
	slices.Sort(names)
	return names
}

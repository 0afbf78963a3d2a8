// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config files searched in order. The first
// file found is used.
var DefaultConfigPaths = []string{
	"routeguard.yaml",
	"routeguard.yml",
	"/etc/routeguard/routeguard.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "ROUTEGUARD_"

// Default returns the built-in defaults, for callers
// that assemble a configuration in code.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns the built-in defaults. They are loaded first and
// then overridden by the config file and the environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			Environment:       "development",
			CORSOrigins:       []string{},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			LoginPath:       "/signin",
			DefaultStrategy: StrategySession,
			APIKeyHeader:    "X-API-Key",
			APIKeyCacheTTL:  5 * time.Minute,
			Session: SessionConfig{
				Store:           "memory",
				CookieName:      "routeguard_session",
				CookieSecure:    true,
				TTL:             24 * time.Hour,
				Sliding:         true,
				CleanupInterval: 10 * time.Minute,
			},
			CSRF: CSRFConfig{
				CookieName:   "_csrf_sid",
				CookieSecure: true,
				ExemptPaths:  []string{},
			},
			JWT: JWTConfig{
				Leeway: 30 * time.Second,
				TTL:    time.Hour,
			},
			Breaker: BreakerConfig{
				Strategies:       []string{},
				FailureThreshold: 5,
				MaxRequests:      1,
				Timeout:          30 * time.Second,
				Interval:         time.Minute,
			},
		},
		Audit: AuditConfig{
			Enabled:    true,
			LogLevel:   "info",
			BufferSize: 1000,
			LogEvents:  true,
		},
		Routes: defaultRoutes(),
	}
}

// defaultRoutes is the demo route table used when none is configured.
func defaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Method: "GET", Path: "/api/whoami", Declaration: "whoami auth=session,apikey,bearer response=json"},
		{Method: "GET", Path: "/api/csrf-token", Declaration: "csrf_token response=json"},
		{Method: "POST", Path: "/signin", Declaration: "signin"},
		{Method: "POST", Path: "/signout", Declaration: "signout auth=session"},
		{Method: "GET", Path: "/admin", Declaration: "whoami auth=session,bearer role=admin"},
	}
}

// Load reads configuration from defaults, the first config file found and
// the environment, then validates it.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file. An empty path skips the
// file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults. Routes are applied after unmarshalling so a
	// configured table replaces the demo routes instead of merging into them.
	defaults := defaultConfig()
	defaults.Routes = nil
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment (highest priority)
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = defaultRoutes()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are parsed from comma separated strings when they come
// from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"security.csrf.exempt_paths",
	"security.breaker.strategies",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}

		trimmed := make([]string, 0)
		for _, p := range strings.Split(strVal, ",") {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps ROUTEGUARD_SECURITY__JWT__SECRET to
// security.jwt.secret. Variables without a section are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

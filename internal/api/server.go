// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/routeguard/internal/audit"
	"github.com/tomtom215/routeguard/internal/auth"
	"github.com/tomtom215/routeguard/internal/authz"
	"github.com/tomtom215/routeguard/internal/cache"
	"github.com/tomtom215/routeguard/internal/config"
	"github.com/tomtom215/routeguard/internal/csrf"
	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/pipeline"
	"github.com/tomtom215/routeguard/internal/respond"
	"github.com/tomtom215/routeguard/internal/session"
)

// defaultBadgerPath is used when the badger store has no path configured.
const defaultBadgerPath = "./data/sessions"

// Server owns every component behind the HTTP handler.
type Server struct {
	config    *config.Config
	pipeline  *pipeline.Pipeline
	sessions  *session.Manager
	store     session.Store
	users     *auth.BasicStrategy
	bearer    *auth.BearerStrategy
	audit     *audit.Logger
	consumer  *audit.Consumer
	security  *logging.SecurityLogger
	router    http.Handler
	startTime time.Time
}

// New builds a server from cfg. cfg must already be validated.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		config:    cfg,
		security:  logging.NewSecurityLogger(),
		startTime: time.Now(),
	}

	store, err := openStore(&cfg.Security.Session)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.sessions = session.NewManager(store, &session.Config{
		CookieName:     cfg.Security.Session.CookieName,
		TTL:            cfg.Security.Session.TTL,
		Sliding:        cfg.Security.Session.Sliding,
		CookiePath:     "/",
		CookieSecure:   cfg.Security.Session.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteLaxMode,
	})

	strategies, err := s.buildStrategies(&cfg.Security)
	if err != nil {
		s.closeStore()
		return nil, err
	}

	hierarchy, err := authz.NewHierarchy(authz.HierarchyConfig{
		Inherits: cfg.Security.RoleHierarchy,
		Grants:   cfg.Security.RoleGrants,
	})
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("role hierarchy: %w", err)
	}

	csrfService, err := csrf.NewService(&csrf.Config{
		Key:            []byte(cfg.Security.CSRF.Key),
		CookieName:     cfg.Security.CSRF.CookieName,
		CookieSecure:   cfg.Security.CSRF.CookieSecure,
		CookieSameSite: http.SameSiteLaxMode,
		ExemptPaths:    cfg.Security.CSRF.ExemptPaths,
	},
		csrf.WithNegotiator(respond.NewNegotiator(cfg.Security.LoginPath)),
		csrf.WithSecurityLogger(s.security),
	)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("csrf service: %w", err)
	}

	if cfg.Audit.Enabled {
		s.openAudit(&cfg.Audit)
	}

	s.pipeline, err = pipeline.New(pipeline.Config{
		Strategies:      strategies,
		DefaultStrategy: cfg.Security.DefaultStrategy,
		LoginPath:       cfg.Security.LoginPath,
		CSRF:            csrfService,
		Hierarchy:       hierarchy,
		Logger:          s.security,
		Audit:           s.audit,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	for _, name := range cfg.UnknownRouteStrategies() {
		logging.Warn().Str("requirement", name).
			Msg("Route references a strategy that is not configured; requests to it will be rejected")
	}

	s.router, err = s.newRouter()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func openStore(cfg *config.SessionConfig) (session.Store, error) {
	switch cfg.Store {
	case "none":
		return nil, nil
	case "badger":
		path := cfg.Path
		if path == "" {
			path = defaultBadgerPath
		}
		store, err := session.OpenBadgerStore(path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		logging.Info().Str("path", path).Msg("Using badger session store")
		return store, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

func (s *Server) buildStrategies(sec *config.SecurityConfig) (map[string]auth.Strategy, error) {
	strategies := map[string]auth.Strategy{
		config.StrategyAnonymous: auth.AnonymousStrategy(),
	}
	if s.store != nil {
		strategies[config.StrategySession] = auth.SessionStrategy()
		strategies[config.StrategyRole] = auth.RoleStrategy()
		strategies[config.StrategyPermission] = auth.PermissionStrategy()
	}

	if len(sec.APIKeys) > 0 {
		keys := make([]auth.APIKey, 0, len(sec.APIKeys))
		for _, k := range sec.APIKeys {
			keys = append(keys, auth.APIKey{
				ID:          k.ID,
				Name:        k.Name,
				SecretHash:  k.SecretHash,
				Roles:       k.Roles,
				Permissions: k.Permissions,
			})
		}
		apikey := auth.NewAPIKeyStrategy(keys, sec.APIKeyHeader)
		if sec.APIKeyCacheTTL > 0 {
			apikey = apikey.WithVerifiedCache(cache.NewLRU[string](1024, sec.APIKeyCacheTTL))
		}
		strategies[config.StrategyAPIKey] = apikey
	}

	if sec.JWT.Secret != "" {
		bearer, err := auth.NewBearerStrategy(auth.BearerConfig{
			Secret:   []byte(sec.JWT.Secret),
			Issuer:   sec.JWT.Issuer,
			Audience: sec.JWT.Audience,
			Leeway:   sec.JWT.Leeway,
			TTL:      sec.JWT.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("bearer strategy: %w", err)
		}
		s.bearer = bearer
		strategies[config.StrategyBearer] = bearer
	}

	// The user table backs form sign-in even when Basic auth is not offered.
	users := make([]auth.User, 0, len(sec.Users))
	for _, u := range sec.Users {
		users = append(users, auth.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Roles:        u.Roles,
			Permissions:  u.Permissions,
		})
	}
	s.users = auth.NewBasicStrategy(users, "RouteGuard")
	if len(users) > 0 {
		strategies[config.StrategyBasic] = s.users
	}

	breaker := auth.BreakerConfig{
		FailureThreshold: sec.Breaker.FailureThreshold,
		MaxRequests:      sec.Breaker.MaxRequests,
		Timeout:          sec.Breaker.Timeout,
		Interval:         sec.Breaker.Interval,
	}
	for _, name := range sec.Breaker.Strategies {
		if inner, ok := strategies[name]; ok {
			strategies[name] = auth.WithCircuitBreaker(name, inner, breaker)
		}
	}

	return strategies, nil
}

func (s *Server) openAudit(cfg *config.AuditConfig) {
	pubsub := audit.NewPubSub(int64(cfg.BufferSize))
	s.audit = audit.NewLogger(pubsub, &audit.Config{
		Enabled:      true,
		LogLevel:     audit.Severity(cfg.LogLevel),
		BufferSize:   cfg.BufferSize,
		IncludeDebug: cfg.IncludeDebug,
	})

	opts := []audit.ConsumerOption{}
	if !cfg.LogEvents {
		opts = append(opts, audit.WithConsumerLogger(zerolog.Nop()))
	}
	s.consumer = audit.NewConsumer(pubsub, opts...)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Pipeline returns the route pipeline.
func (s *Server) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Consumer returns the audit consumer to supervise, or nil when audit is
// disabled.
func (s *Server) Consumer() *audit.Consumer { return s.consumer }

// SessionStore returns the session store, or nil when sessions are disabled.
func (s *Server) SessionStore() session.Store { return s.store }

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// HTTPServer returns an http.Server for the handler with the configured
// timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.config.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.Server.WriteTimeout,
	}
}

// Close flushes the audit stream and closes the session store.
func (s *Server) Close() error {
	var errs []error
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit logger: %w", err))
		}
	}
	if err := s.closeStore(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) closeStore() error {
	closer, ok := s.store.(interface{ Close() error })
	if !ok {
		return nil
	}
	if err := closer.Close(); err != nil {
		return fmt.Errorf("close session store: %w", err)
	}
	return nil
}

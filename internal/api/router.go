// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/routeguard/internal/descriptor"
	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/middleware"
	"github.com/tomtom215/routeguard/internal/respond"
)

// handlerFactory builds the handler for a route from its descriptor.
type handlerFactory func(desc *descriptor.Descriptor) http.Handler

func (s *Server) handlerFactories() map[string]handlerFactory {
	return map[string]handlerFactory{
		"whoami":     s.whoami,
		"csrf_token": s.csrfToken,
		"signin":     s.signin,
		"signout":    s.signout,
		"health":     func(*descriptor.Descriptor) http.Handler { return http.HandlerFunc(s.health) },
	}
}

func (s *Server) newRouter() (http.Handler, error) {
	srv := s.config.Server
	chiCfg := middleware.DefaultChiConfig()
	chiCfg.CORSAllowedOrigins = srv.CORSOrigins
	chiCfg.CORSAllowedHeaders = append(chiCfg.CORSAllowedHeaders, s.config.Security.APIKeyHeader)
	chiCfg.RateLimitRequests = srv.RateLimitRequests
	chiCfg.RateLimitWindow = srv.RateLimitWindow
	chiCfg.RateLimitDisabled = srv.RateLimitDisabled
	mw := middleware.NewChi(chiCfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS()) // global so OPTIONS preflight is answered

	// Health and metrics are outside the pipeline and the rate limiter.
	r.Group(func(r chi.Router) {
		r.Use(respond.SecurityHeaders)
		r.Get("/healthz", s.health)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	factories := s.handlerFactories()
	var routeErr error
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(middleware.PrometheusMetrics)
		r.Use(respond.SecurityHeaders)
		r.Use(s.sessions.Middleware)

		for _, route := range s.config.Routes {
			desc := descriptor.Parse(route.Declaration)
			factory, ok := factories[desc.Target()]
			if !ok {
				routeErr = fmt.Errorf("route %s %s: unknown handler %q", route.Method, route.Path, desc.Target())
				return
			}
			r.Method(route.Method, route.Path, s.pipeline.Protect(desc, factory(desc)))
			logging.Debug().
				Str("method", route.Method).
				Str("path", route.Path).
				Str("descriptor", desc.String()).
				Msg("Route registered")
		}
	})
	if routeErr != nil {
		return nil, routeErr
	}

	return r, nil
}

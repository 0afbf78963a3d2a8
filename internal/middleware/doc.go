// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

/*
Package middleware provides the infrastructure middleware mounted in front of
the route pipeline: request and correlation IDs, Prometheus instrumentation,
CORS and rate limiting.

The server stack, outermost first:

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(m.CORS())
	r.Use(m.RateLimit())
	r.Use(middleware.PrometheusMetrics)
	r.Use(respond.SecurityHeaders)

Metrics are labelled with the chi route pattern, not the raw path, so
/api/items/{id} stays one series.
*/
package middleware

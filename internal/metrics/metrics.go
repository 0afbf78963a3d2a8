// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package metrics holds the Prometheus collectors for the security pipeline
// and the HTTP server in front of it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Strategy outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

var (
	// AuthAttempts counts strategy invocations.
	// Labels:
	//   - strategy: resolved registry name
	//   - outcome: "success", "failure", "error"
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeguard_auth_attempts_total",
			Help: "Total number of authentication strategy attempts",
		},
		[]string{"strategy", "outcome"},
	)

	// StrategyDuration measures how long each strategy takes.
	StrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routeguard_strategy_duration_seconds",
			Help:    "Duration of authentication strategy calls in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"strategy"},
	)

	// ChainDecisions counts terminal chain states
	// ("anonymous", "succeeded", "unknown_strategy", "exhausted").
	ChainDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeguard_chain_decisions_total",
			Help: "Total number of authentication chain outcomes by terminal state",
		},
		[]string{"state"},
	)

	// AuthzDenials counts authorization gate denials by claim kind.
	AuthzDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeguard_authz_denials_total",
			Help: "Total number of role/permission denials",
		},
		[]string{"kind"},
	)

	// CSRFFailures counts rejected unsafe requests ("missing", "invalid").
	CSRFFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeguard_csrf_failures_total",
			Help: "Total number of CSRF verification failures",
		},
		[]string{"reason"},
	)

	// CSRFTokensIssued counts generated anti-forgery tokens.
	CSRFTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routeguard_csrf_tokens_issued_total",
			Help: "Total number of CSRF tokens generated",
		},
	)

	// BreakerState tracks circuit breaker state per strategy
	// (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routeguard_strategy_breaker_state",
			Help: "Circuit breaker state per strategy (0=closed, 1=half-open, 2=open)",
		},
		[]string{"strategy"},
	)

	// AuditEventsPublished counts security events handed to the event stream.
	AuditEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeguard_audit_events_published_total",
			Help: "Total number of security audit events published",
		},
		[]string{"type", "outcome"},
	)

	// HTTP server metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routeguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routeguard_http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeguard_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)

// RecordStrategy records one strategy attempt.
func RecordStrategy(strategy, outcome string, duration time.Duration) {
	AuthAttempts.WithLabelValues(strategy, outcome).Inc()
	StrategyDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordChainDecision records the terminal state of one chain run.
func RecordChainDecision(state string) {
	ChainDecisions.WithLabelValues(state).Inc()
}

// RecordAuthzDenial records a gate denial.
func RecordAuthzDenial(kind string) {
	AuthzDenials.WithLabelValues(kind).Inc()
}

// RecordCSRFFailure records a rejected token.
func RecordCSRFFailure(reason string) {
	CSRFFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records a served request against its route pattern.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}

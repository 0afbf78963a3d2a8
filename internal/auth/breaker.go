// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/metrics"
)

// BreakerConfig configures WithCircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}
}

var errBackendUnavailable = errors.New("backend unavailable")

type breakerStrategy struct {
	name  string
	inner Strategy
	cb    *gobreaker.CircuitBreaker[*Result]
}

// WithCircuitBreaker wraps s so that repeated unavailable failures open a
// breaker. While open the strategy returns an unavailable failure without
// calling s, and the chain moves on to the next requirement. Errors from s
// are defects: they always propagate and never count toward a trip.
func WithCircuitBreaker(name string, s Strategy, cfg BreakerConfig) Strategy {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	b := &breakerStrategy{name: name, inner: s}

	b.cb = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Defects are neither successes nor failures for the breaker.
		IsExcluded: func(err error) bool {
			return err != nil && !errors.Is(err, errBackendUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("strategy", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Strategy circuit breaker state changed")
		},
	})
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return b
}

// Authenticate implements Strategy.
func (b *breakerStrategy) Authenticate(ctx context.Context, r *http.Request, requirement string) (*Result, error) {
	res, err := b.cb.Execute(func() (*Result, error) {
		res, err := b.inner.Authenticate(ctx, r, requirement)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Failure != nil && res.Failure.Kind == FailureUnavailable {
			return res, errBackendUnavailable
		}
		return res, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Unavailable(b.name + " unavailable: circuit open"), nil
	case errors.Is(err, errBackendUnavailable):
		return res, nil
	case err != nil:
		return nil, err
	}
	return res, nil
}

// WWWAuthenticate forwards the wrapped strategy's challenge, if any.
func (b *breakerStrategy) WWWAuthenticate() string {
	if c, ok := b.inner.(Challenger); ok {
		return c.WWWAuthenticate()
	}
	return ""
}

// State returns the breaker state, for diagnostics.
func (b *breakerStrategy) State() gobreaker.State {
	return b.cb.State()
}

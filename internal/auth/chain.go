// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/metrics"
	"github.com/tomtom215/routeguard/internal/session"
)

const tracerName = "github.com/tomtom215/routeguard/internal/auth"

// State is the terminal state of a chain run.
type State string

// Chain states.
const (
	StateAnonymous       State = "anonymous"
	StateSucceeded       State = "succeeded"
	StateUnknownStrategy State = "unknown_strategy"
	StateExhausted       State = "exhausted"
)

// Outcome is the single value a chain run produces.
type Outcome struct {
	State  State
	Result *Result
}

// Authenticated reports whether the run ended in a success state.
func (o *Outcome) Authenticated() bool {
	return o.State == StateAnonymous || o.State == StateSucceeded
}

// Chain runs a route's requirements against a Registry.
type Chain struct {
	registry *Registry
	log      *logging.SecurityLogger
	tracer   trace.Tracer
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithSecurityLogger sets the logger for strategy events.
func WithSecurityLogger(l *logging.SecurityLogger) ChainOption {
	return func(c *Chain) { c.log = l }
}

// WithTracer sets the tracer for per-strategy spans.
func WithTracer(t trace.Tracer) ChainOption {
	return func(c *Chain) { c.tracer = t }
}

// NewChain creates a chain over registry.
func NewChain(registry *Registry, opts ...ChainOption) *Chain {
	c := &Chain{registry: registry}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.NewSecurityLogger()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

// Registry returns the registry the chain resolves against.
func (c *Chain) Registry() *Registry { return c.registry }

// Run tries requirements in order. Expected failures come back in the
// Outcome; the error is only set when a strategy is defective.
func (c *Chain) Run(ctx context.Context, r *http.Request, requirements []string) (*Outcome, error) {
	ip := ClientIP(r)
	sess := session.FromContext(ctx)

	if len(requirements) == 0 {
		metrics.RecordChainDecision(string(StateAnonymous))
		return &Outcome{State: StateAnonymous, Result: Anonymous(ip, sess)}, nil
	}

	ctx, span := c.tracer.Start(ctx, "auth.chain",
		trace.WithAttributes(attribute.StringSlice("auth.requirements", requirements)))
	defer span.End()

	attempted := make([]string, 0, len(requirements))
	reasons := make([]string, 0, len(requirements))
	allUnavailable := true

	for _, req := range requirements {
		strategy, name, ok := c.registry.Resolve(req)
		if !ok {
			c.log.UnknownStrategy(ctx, req, r.URL.Path)
			span.SetAttributes(attribute.String("auth.state", string(StateUnknownStrategy)))
			span.SetStatus(codes.Error, "strategy not configured")
			metrics.RecordChainDecision(string(StateUnknownStrategy))

			res := &Result{
				Session: sess,
				Failure: &Failure{
					Reason:       "strategy not configured: " + req,
					StrategyName: req,
					Kind:         FailureUnknownStrategy,
				},
			}
			res.setMeta(MetaIP, ip)
			res.setMeta(MetaAttemptedStrategies, attempted)
			res.setMeta(MetaFailureReasons, reasons)
			return &Outcome{State: StateUnknownStrategy, Result: res}, nil
		}

		attempted = append(attempted, req)
		res, err := c.attempt(ctx, r, strategy, req, name, ip)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if res.Succeeded() {
			res.StrategyName = name
			if res.Session == nil {
				res.Session = sess
			}
			res.setMeta(MetaIP, ip)
			res.setMeta(MetaAttemptedStrategies, attempted)
			span.SetAttributes(
				attribute.String("auth.state", string(StateSucceeded)),
				attribute.String("auth.strategy", name),
			)
			span.SetStatus(codes.Ok, "")
			metrics.RecordChainDecision(string(StateSucceeded))
			return &Outcome{State: StateSucceeded, Result: res}, nil
		}

		reason := res.Reason()
		if reason == "" {
			reason = "authentication failed"
		}
		reasons = append(reasons, reason)
		if res.Failure.Kind != FailureUnavailable {
			allUnavailable = false
		}
	}

	kind := FailureCredentials
	if allUnavailable {
		kind = FailureUnavailable
	}
	res := &Result{
		Session: sess,
		Failure: &Failure{
			Reason:       strings.Join(reasons, "; "),
			StrategyName: attempted[len(attempted)-1],
			Kind:         kind,
		},
	}
	res.setMeta(MetaIP, ip)
	res.setMeta(MetaAttemptedStrategies, attempted)
	res.setMeta(MetaFailureReasons, reasons)

	span.SetAttributes(attribute.String("auth.state", string(StateExhausted)))
	metrics.RecordChainDecision(string(StateExhausted))
	return &Outcome{State: StateExhausted, Result: res}, nil
}

// attempt invokes one strategy and records it. A nil result with a nil
// error is treated as a defect.
func (c *Chain) attempt(ctx context.Context, r *http.Request, s Strategy, req, name, ip string) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "auth.strategy", trace.WithAttributes(
		attribute.String("auth.requirement", req),
		attribute.String("auth.strategy", name),
	))
	defer span.End()

	c.log.StrategyTried(ctx, req, name, ip)
	start := time.Now()

	res, err := s.Authenticate(ctx, r, req)
	if err == nil && res == nil {
		err = errors.New("returned no result")
	}
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordStrategy(name, metrics.OutcomeError, elapsed)
		logging.Ctx(ctx).Error().Err(err).Str("requirement", req).Str("strategy", name).Msg("Strategy failed with an error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %s: %w", ErrStrategyDefect, req, err)
	}

	if res.Succeeded() {
		metrics.RecordStrategy(name, metrics.OutcomeSuccess, elapsed)
		span.SetStatus(codes.Ok, "")
	} else {
		metrics.RecordStrategy(name, metrics.OutcomeFailure, elapsed)
		span.SetAttributes(attribute.String("auth.failure", res.Reason()))
	}
	span.SetAttributes(attribute.Bool("auth.success", res.Succeeded()))
	c.log.StrategyResult(ctx, req, name, res.Succeeded(), res.Reason(), elapsed)
	return res, nil
}

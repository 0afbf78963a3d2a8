// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package pipeline ties authentication, authorization, response negotiation
// and CSRF protection into one per-route evaluation.
//
// A route declares what it needs in a descriptor:
//
//	p, _ := pipeline.New(pipeline.Config{Strategies: map[string]auth.Strategy{
//		"session": auth.SessionStrategy(),
//	}})
//	r.Method(http.MethodPost, "/admin/users",
//		p.Protect(descriptor.Parse("create_user auth=session role=admin"), handler))
//
// Unsafe methods are checked for a valid anti-forgery token before any
// strategy runs. Safe methods are authenticated first and then receive a
// token for the page they render.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomtom215/routeguard/internal/audit"
	"github.com/tomtom215/routeguard/internal/auth"
	"github.com/tomtom215/routeguard/internal/authz"
	"github.com/tomtom215/routeguard/internal/csrf"
	"github.com/tomtom215/routeguard/internal/descriptor"
	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/respond"
)

const tracerName = "github.com/tomtom215/routeguard/internal/pipeline"

// DefaultAlias is the route-facing name of the configured default strategy.
const DefaultAlias = "default"

// Config wires a Pipeline. Only Strategies is required for routes that
// declare auth; everything else has a working default.
type Config struct {
	// Strategies are registered by name before the registry is sealed.
	Strategies map[string]auth.Strategy

	// DefaultStrategy, when set, makes auth=default resolve to it.
	DefaultStrategy string

	// LoginPath is the browser redirect target for authentication failures.
	LoginPath string

	// CSRF defaults to a service with a random key.
	CSRF *csrf.Service

	Hierarchy *authz.Hierarchy
	Logger    *logging.SecurityLogger

	// Audit receives pipeline decisions. Nil disables audit events.
	Audit *audit.Logger

	Tracer trace.Tracer
}

// Decision is the result of evaluating a request. Either Proceed is true and
// Result is set, or Response holds the reply to send instead.
type Decision struct {
	Proceed  bool
	Result   *auth.Result
	Response *respond.Response

	// State is the authentication chain state, empty for CSRF decisions.
	State auth.State
}

// Pipeline evaluates requests against route descriptors. It is immutable
// after New and safe for concurrent use.
type Pipeline struct {
	registry   *auth.Registry
	chain      *auth.Chain
	gate       *authz.Gate
	negotiator *respond.Negotiator
	csrf       *csrf.Service
	audit      *audit.Logger
	tracer     trace.Tracer
}

// New builds a pipeline from cfg and seals its strategy registry.
func New(cfg Config) (*Pipeline, error) {
	security := cfg.Logger
	if security == nil {
		security = logging.NewSecurityLogger()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	registry := auth.NewRegistry()
	names := make([]string, 0, len(cfg.Strategies))
	for name := range cfg.Strategies {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := registry.Register(name, cfg.Strategies[name]); err != nil {
			return nil, fmt.Errorf("register strategy: %w", err)
		}
	}
	if cfg.DefaultStrategy != "" {
		if err := registry.Alias(DefaultAlias, cfg.DefaultStrategy); err != nil {
			return nil, fmt.Errorf("default strategy: %w", err)
		}
	}
	registry.Seal()

	negotiator := respond.NewNegotiator(cfg.LoginPath)

	csrfService := cfg.CSRF
	if csrfService == nil {
		var err error
		csrfService, err = csrf.NewService(nil, csrf.WithNegotiator(negotiator), csrf.WithSecurityLogger(security))
		if err != nil {
			return nil, fmt.Errorf("csrf service: %w", err)
		}
	}

	gateOpts := []authz.GateOption{authz.WithSecurityLogger(security)}
	if cfg.Hierarchy != nil {
		gateOpts = append(gateOpts, authz.WithHierarchy(cfg.Hierarchy))
	}

	return &Pipeline{
		registry:   registry,
		chain:      auth.NewChain(registry, auth.WithSecurityLogger(security), auth.WithTracer(tracer)),
		gate:       authz.NewGate(gateOpts...),
		negotiator: negotiator,
		csrf:       csrfService,
		audit:      cfg.Audit,
		tracer:     tracer,
	}, nil
}

// Registry returns the sealed strategy registry.
func (p *Pipeline) Registry() *auth.Registry { return p.registry }

// Negotiator returns the response negotiator.
func (p *Pipeline) Negotiator() *respond.Negotiator { return p.negotiator }

// CSRF returns the anti-forgery token service.
func (p *Pipeline) CSRF() *csrf.Service { return p.csrf }

// Evaluate authenticates r against desc and then authorizes the result.
// The returned error is only set for defective strategies.
func (p *Pipeline) Evaluate(ctx context.Context, r *http.Request, desc *descriptor.Descriptor) (*Decision, error) {
	desc = orEmpty(desc)

	ctx, span := p.tracer.Start(ctx, "pipeline.evaluate",
		trace.WithAttributes(attribute.String("route.target", desc.Target())))
	defer span.End()

	outcome, err := p.chain.Run(ctx, r, desc.Auth())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "strategy defect")
		return nil, err
	}

	res := outcome.Result
	if !outcome.Authenticated() {
		span.SetAttributes(attribute.String("pipeline.decision", "unauthenticated"))
		p.auditUnauthenticated(ctx, r, desc, outcome)
		resp := p.negotiator.Unauthenticated(r, desc, res.Reason())
		if resp.Status == http.StatusUnauthorized && outcome.State == auth.StateExhausted {
			for _, challenge := range p.registry.Challenges(res.AttemptedStrategies()) {
				resp.Header.Add("WWW-Authenticate", challenge)
			}
		}
		return &Decision{
			State:    outcome.State,
			Result:   res,
			Response: resp,
		}, nil
	}

	if denial := p.gate.Check(ctx, res, desc); denial != nil {
		span.SetAttributes(attribute.String("pipeline.decision", "forbidden"))
		if p.audit != nil {
			p.audit.AuthzDenied(ctx, actorFor(res), audit.SourceFromRequest(r), desc.Target(),
				string(denial.Kind), denial.Required, denial.Actual)
		}
		return &Decision{
			State:    outcome.State,
			Result:   res,
			Response: p.negotiator.Forbidden(r, desc, denial),
		}, nil
	}

	span.SetAttributes(attribute.String("pipeline.decision", "proceed"))
	if p.audit != nil && !res.IsAnonymous() {
		p.audit.AuthSuccess(ctx, actorFor(res), audit.SourceFromRequest(r), desc.Target())
	}
	return &Decision{Proceed: true, State: outcome.State, Result: res}, nil
}

func (p *Pipeline) auditUnauthenticated(ctx context.Context, r *http.Request, desc *descriptor.Descriptor, outcome *auth.Outcome) {
	if p.audit == nil {
		return
	}
	src := audit.SourceFromRequest(r)
	if outcome.State == auth.StateUnknownStrategy {
		p.audit.UnknownStrategy(ctx, src, desc.Target(), outcome.Result.Failure.StrategyName)
		return
	}
	p.audit.AuthFailure(ctx, src, desc.Target(),
		outcome.Result.AttemptedStrategies(), outcome.Result.FailureReasons())
}

// CSRFGuard checks the anti-forgery token for r. On safe methods it issues
// a token and always proceeds.
func (p *Pipeline) CSRFGuard(w http.ResponseWriter, r *http.Request, desc *descriptor.Descriptor) *Decision {
	err := p.csrf.Check(w, r, orEmpty(desc))
	if err == nil {
		return &Decision{Proceed: true}
	}
	if p.audit != nil {
		p.audit.CSRFRejected(r.Context(), audit.SourceFromRequest(r), orEmpty(desc).Target(), err.Error())
	}
	return &Decision{Response: p.csrf.Reject(r, err)}
}

// Protect wraps next with the full pipeline for desc.
func (p *Pipeline) Protect(desc *descriptor.Descriptor, next http.Handler) http.Handler {
	desc = orEmpty(desc)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = csrf.Prepare(r)
		safe := isSafeMethod(r.Method)

		if !safe {
			if d := p.CSRFGuard(w, r, desc); !d.Proceed {
				d.Response.Write(w)
				return
			}
		}

		d, err := p.Evaluate(r.Context(), r, desc)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).
				Str("route", desc.Target()).
				Str("path", r.URL.Path).
				Msg("Authentication strategy failed")
			p.negotiator.InternalError(r, desc).Write(w)
			return
		}
		if !d.Proceed {
			d.Response.Write(w)
			return
		}

		if safe {
			p.CSRFGuard(w, r, desc)
		}
		respond.ApplySecurityHeaders(w.Header(), r)
		next.ServeHTTP(w, r.WithContext(auth.ContextWithResult(r.Context(), d.Result)))
	})
}

func actorFor(res *auth.Result) audit.Actor {
	actor := audit.Actor{
		ID:         res.UserID(),
		Roles:      authz.Claims(res, authz.KindRoles),
		AuthMethod: res.StrategyName,
	}
	if name, ok := res.Identity["username"].(string); ok {
		actor.Name = name
	}
	if res.Session != nil {
		actor.SessionID = logging.SanitizeSessionID(res.Session.ID)
	}
	return actor
}

var emptyDescriptor = descriptor.Parse("")

func orEmpty(desc *descriptor.Descriptor) *descriptor.Descriptor {
	if desc == nil {
		return emptyDescriptor
	}
	return desc
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

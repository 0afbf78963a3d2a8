// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package authz is the route-level authorization gate. It runs after a
// successful authentication and checks the caller's roles and permissions
// against the route's requirements. Ownership of individual resources is
// left to handlers.
package authz

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tomtom215/routeguard/internal/auth"
	"github.com/tomtom215/routeguard/internal/descriptor"
	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/metrics"
)

// Kind names a claim set.
type Kind string

// Claim kinds.
const (
	KindRoles       Kind = "roles"
	KindPermissions Kind = "permissions"
)

func (k Kind) singular() string {
	if k == KindRoles {
		return "role"
	}
	return "permission"
}

// Denial is a failed claim check. It maps to HTTP 403.
type Denial struct {
	Kind     Kind
	Required []string
	Actual   []string
}

// Message describes the denial, naming the required claims.
func (d *Denial) Message() string {
	if len(d.Required) == 1 {
		return fmt.Sprintf("Access denied: requires %s %s", d.Kind.singular(), d.Required[0])
	}
	return fmt.Sprintf("Access denied: requires one of %s %s", d.Kind, strings.Join(d.Required, ", "))
}

// Error implements error.
func (d *Denial) Error() string { return d.Message() }

// Gate checks claim sets with OR semantics within each set.
type Gate struct {
	hierarchy *Hierarchy
	log       *logging.SecurityLogger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithHierarchy expands caller roles through h before checking.
func WithHierarchy(h *Hierarchy) GateOption {
	return func(g *Gate) { g.hierarchy = h }
}

// WithSecurityLogger sets the logger for denials.
func WithSecurityLogger(l *logging.SecurityLogger) GateOption {
	return func(g *Gate) { g.log = l }
}

// NewGate creates a gate.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logging.NewSecurityLogger()
	}
	return g
}

// Authorize checks one claim set. An empty required set always passes.
func (g *Gate) Authorize(res *auth.Result, kind Kind, required []string) *Denial {
	if len(required) == 0 {
		return nil
	}

	actual := g.callerClaims(res, kind)
	for _, want := range required {
		if slices.Contains(actual, want) {
			return nil
		}
	}
	return &Denial{Kind: kind, Required: slices.Clone(required), Actual: actual}
}

// Check runs the descriptor's role requirements and then its permission
// requirements. Both must pass when both are declared.
func (g *Gate) Check(ctx context.Context, res *auth.Result, desc *descriptor.Descriptor) *Denial {
	d := g.Authorize(res, KindRoles, desc.Roles())
	if d == nil {
		d = g.Authorize(res, KindPermissions, desc.Permissions())
	}
	if d != nil {
		metrics.RecordAuthzDenial(string(d.Kind))
		g.log.AuthzDenied(ctx, string(d.Kind), res.UserID(), desc.Target(), d.Required, d.Actual)
	}
	return d
}

func (g *Gate) callerClaims(res *auth.Result, kind Kind) []string {
	claims := Claims(res, kind)
	if g.hierarchy == nil {
		return claims
	}
	switch kind {
	case KindRoles:
		return g.hierarchy.ExpandRoles(claims)
	case KindPermissions:
		return g.hierarchy.ExpandPermissions(Claims(res, KindRoles), claims)
	}
	return claims
}

// Claims extracts the caller's claims of kind. Sources are checked in order:
// the result's dedicated accessor, the identity map, then metadata. The
// first source that carries the claim wins, even when it is empty.
func Claims(res *auth.Result, kind Kind) []string {
	if res == nil {
		return nil
	}

	var accessor []string
	if kind == KindRoles {
		accessor = res.Roles
	} else {
		accessor = res.Permissions
	}
	if accessor != nil {
		return slices.Clone(accessor)
	}

	if v, ok := res.Identity[string(kind)]; ok {
		if claims, ok := claimValues(v); ok {
			return claims
		}
	}
	if v, ok := res.Metadata[string(kind)]; ok {
		if claims, ok := claimValues(v); ok {
			return claims
		}
	}
	return nil
}

func claimValues(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, true
	}
	return nil, false
}

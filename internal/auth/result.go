// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"context"
	"fmt"
	"maps"
	"net"
	"net/http"
	"slices"

	"github.com/tomtom215/routeguard/internal/session"
)

// Metadata keys set by the chain.
const (
	MetaIP                  = "ip"
	MetaAttemptedStrategies = "attempted_strategies"
	MetaFailureReasons      = "failure_reasons"
)

// AnonymousName is the StrategyName of results for routes without
// authentication requirements.
const AnonymousName = "anonymous"

// Identity is the opaque attribute map of an authenticated caller.
type Identity map[string]any

// FailureKind classifies a failed attempt.
type FailureKind string

// Failure kinds.
const (
	// FailureCredentials means credentials were missing, wrong or expired.
	FailureCredentials FailureKind = "credentials"

	// FailureUnknownStrategy means a route named a strategy that is not registered.
	FailureUnknownStrategy FailureKind = "unknown_strategy"

	// FailureUnavailable means the strategy's backend could not be reached.
	FailureUnavailable FailureKind = "unavailable"
)

// Failure describes why an attempt, or a whole chain, did not authenticate.
type Failure struct {
	Reason       string
	StrategyName string
	Kind         FailureKind
}

// Result is the outcome of one authentication attempt. Exactly one of
// success and Failure holds. A success with a nil Identity is anonymous.
type Result struct {
	Identity Identity

	// Session is the request's session handle, shared by pointer with the
	// session middleware that persists it.
	Session *session.Session

	// StrategyName is the registry name that produced the result.
	StrategyName string

	// Roles and Permissions are dedicated claim accessors. Nil means the
	// strategy did not set them and the gate falls back to Identity.
	Roles       []string
	Permissions []string

	Metadata map[string]any

	Failure *Failure
}

// Success returns a successful result for identity.
func Success(identity Identity, s *session.Session) *Result {
	return &Result{
		Identity: identity,
		Session:  s,
		Metadata: make(map[string]any),
	}
}

// Anonymous returns the result used for routes without requirements.
func Anonymous(ip string, s *session.Session) *Result {
	return &Result{
		Session:      s,
		StrategyName: AnonymousName,
		Metadata:     map[string]any{MetaIP: ip},
	}
}

// Fail returns a credential failure.
func Fail(reason string) *Result {
	return &Result{
		Failure:  &Failure{Reason: reason, Kind: FailureCredentials},
		Metadata: make(map[string]any),
	}
}

// Failf is Fail with formatting.
func Failf(format string, args ...any) *Result {
	return Fail(fmt.Sprintf(format, args...))
}

// Unavailable returns a soft failure for a strategy whose backend is down.
func Unavailable(reason string) *Result {
	r := Fail(reason)
	r.Failure.Kind = FailureUnavailable
	return r
}

// WithClaims sets the dedicated role and permission accessors.
func (r *Result) WithClaims(roles, permissions []string) *Result {
	r.Roles = slices.Clone(roles)
	r.Permissions = slices.Clone(permissions)
	return r
}

// Succeeded reports whether the attempt authenticated (anonymously or not).
func (r *Result) Succeeded() bool {
	return r != nil && r.Failure == nil
}

// IsAnonymous reports an identity-less success.
func (r *Result) IsAnonymous() bool {
	return r.Succeeded() && r.Identity == nil
}

// Reason returns the failure reason, or "" on success.
func (r *Result) Reason() string {
	if r == nil || r.Failure == nil {
		return ""
	}
	return r.Failure.Reason
}

// UserID returns identity["id"] when it is a string.
func (r *Result) UserID() string {
	if r == nil || r.Identity == nil {
		return ""
	}
	id, _ := r.Identity["id"].(string)
	return id
}

// IP returns the client address recorded by the chain.
func (r *Result) IP() string {
	ip, _ := r.Metadata[MetaIP].(string)
	return ip
}

// AttemptedStrategies returns the requirements tried, in order.
func (r *Result) AttemptedStrategies() []string {
	v, _ := r.Metadata[MetaAttemptedStrategies].([]string)
	return slices.Clone(v)
}

// FailureReasons returns the per-attempt reasons, aligned with
// AttemptedStrategies on exhaustion.
func (r *Result) FailureReasons() []string {
	v, _ := r.Metadata[MetaFailureReasons].([]string)
	return slices.Clone(v)
}

func (r *Result) setMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Snapshot returns a JSON-friendly view of the result for diagnostics.
func (r *Result) Snapshot() map[string]any {
	out := map[string]any{
		"authenticated": r.Succeeded() && !r.IsAnonymous(),
		"strategy":      r.StrategyName,
		"metadata":      maps.Clone(r.Metadata),
	}
	if r.Identity != nil {
		out["identity"] = maps.Clone(map[string]any(r.Identity))
	}
	if r.Roles != nil {
		out["roles"] = slices.Clone(r.Roles)
	}
	if r.Permissions != nil {
		out["permissions"] = slices.Clone(r.Permissions)
	}
	if r.Failure != nil {
		out["failure"] = r.Failure.Reason
	}
	return out
}

type resultKey struct{}

// ContextWithResult stores the successful result for downstream handlers.
func ContextWithResult(ctx context.Context, r *Result) context.Context {
	return context.WithValue(ctx, resultKey{}, r)
}

// ResultFromContext returns the result stored by the pipeline, or nil.
func ResultFromContext(ctx context.Context) *Result {
	r, _ := ctx.Value(resultKey{}).(*Result)
	return r
}

// ClientIP returns the host part of r.RemoteAddr. RealIP-style middleware
// is expected to have rewritten RemoteAddr from forwarding headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

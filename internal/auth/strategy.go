// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"context"
	"errors"
	"net/http"
)

// Standard authentication errors
var (
	// ErrDuplicateStrategy is returned when a name is registered twice.
	ErrDuplicateStrategy = errors.New("strategy already registered")

	// ErrRegistrySealed is returned when registering after the registry was sealed.
	ErrRegistrySealed = errors.New("strategy registry is sealed")

	// ErrStrategyDefect wraps errors returned by strategies. It is never
	// turned into an authentication failure.
	ErrStrategyDefect = errors.New("strategy defect")

	// ErrUnknownStrategy is returned by Alias for unregistered targets.
	ErrUnknownStrategy = errors.New("strategy not configured")
)

// Strategy authenticates a request for one requirement.
//
// requirement is the full string from the route (for example "role:admin"),
// so one implementation can branch on its suffix. Expected outcomes, such as
// missing or wrong credentials, are returned as a failed Result. A non-nil
// error means the strategy itself is broken.
type Strategy interface {
	Authenticate(ctx context.Context, r *http.Request, requirement string) (*Result, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, r *http.Request, requirement string) (*Result, error)

// Authenticate implements Strategy.
func (f StrategyFunc) Authenticate(ctx context.Context, r *http.Request, requirement string) (*Result, error) {
	return f(ctx, r, requirement)
}

// Challenger is implemented by strategies that name an HTTP authentication
// scheme. The value is sent in WWW-Authenticate on 401 responses.
type Challenger interface {
	WWWAuthenticate() string
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

/*
Package auth implements named authentication strategies and the chain that
tries them for a route.

Strategies are registered once on a Registry during setup. The first
Resolve seals the registry; later registrations fail with
ErrRegistrySealed.

	reg := auth.NewRegistry()
	_ = reg.Register("session", auth.SessionStrategy())
	_ = reg.Register("role", auth.RoleStrategy())
	_ = reg.Register("apikey", auth.NewAPIKeyStrategy(keys, "X-API-Key"))

	chain := auth.NewChain(reg)
	outcome, err := chain.Run(ctx, r, []string{"session", "apikey"})

Requirement names resolve by exact match and then by the part before the
first colon, so "role:admin" runs the "role" strategy with the full
requirement as its argument.

The chain tries requirements in declared order:

  - no requirements: anonymous success, no strategy runs
  - unresolvable name: immediate failure ("strategy not configured")
  - success: stop, StrategyName is the resolved registry name
  - failure: record the reason and try the next requirement

A strategy that returns an error is broken, not unsuccessful. The chain
stops and returns the error wrapped in ErrStrategyDefect.
*/
package auth

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

/*
Package config loads and validates RouteGuard configuration.

# Configuration Sources

Configuration is layered with koanf, later layers overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, then routeguard.yaml, routeguard.yml,
    /etc/routeguard/routeguard.yaml
 3. Environment variables prefixed with ROUTEGUARD_; a double underscore
    separates nesting levels

Examples:

	ROUTEGUARD_SERVER__PORT=9090                   -> server.port
	ROUTEGUARD_SECURITY__DEFAULT_STRATEGY=session  -> security.default_strategy
	ROUTEGUARD_SECURITY__JWT__SECRET=...           -> security.jwt.secret
	ROUTEGUARD_SERVER__CORS_ORIGINS=a.com,b.com    -> server.cors_origins (list)

# Routes

Each entry under routes binds a method and path to a route declaration:

	routes:
	  - method: GET
	    path: /admin
	    declaration: "whoami auth=session,bearer role=admin response=json"

The first token of the declaration names the handler. The remaining tokens
select strategies (auth=), required roles and permissions, CSRF exemption
and the failure response format.

# Validation

Validate runs go-playground/validator struct tags first and then the
cross-field rules: strategies referenced by routes, the default strategy and
the breaker must be configurable, bearer needs a JWT secret of at least 32
bytes, and production deployments must use secure cookies.

# Secrets

Password and API key hashes are bcrypt, produced by
`routeguard hash-secret`. Plaintext secrets never appear in configuration
except the JWT and CSRF signing keys.
*/
package config

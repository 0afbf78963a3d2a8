// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/tomtom215/routeguard/internal/session"
)

// AnonymousStrategy always succeeds without an identity. Listing it last
// lets a route fall back to anonymous access.
func AnonymousStrategy() Strategy {
	return StrategyFunc(func(ctx context.Context, _ *http.Request, _ string) (*Result, error) {
		return Success(nil, session.FromContext(ctx)), nil
	})
}

// SessionStrategy authenticates the signed-in user of the request's session.
func SessionStrategy() Strategy {
	return StrategyFunc(func(ctx context.Context, _ *http.Request, _ string) (*Result, error) {
		s, res := signedIn(ctx)
		if res != nil {
			return res, nil
		}
		return sessionResult(s), nil
	})
}

// RoleStrategy authenticates a session user holding the role named after
// the colon, as in "role:admin".
func RoleStrategy() Strategy {
	return claimStrategy("role", func(s *session.Session) []string { return s.Roles })
}

// PermissionStrategy authenticates a session user holding the permission
// named after the colon, as in "permission:posts:write".
func PermissionStrategy() Strategy {
	return claimStrategy("permission", func(s *session.Session) []string { return s.Permissions })
}

func claimStrategy(kind string, claims func(*session.Session) []string) Strategy {
	return StrategyFunc(func(ctx context.Context, _ *http.Request, requirement string) (*Result, error) {
		_, want, _ := strings.Cut(requirement, ":")
		if want == "" {
			return Failf("%s requirement %q names no %s", kind, requirement, kind), nil
		}

		s, res := signedIn(ctx)
		if res != nil {
			return res, nil
		}
		if !slices.Contains(claims(s), want) {
			return Failf("missing %s %s", kind, want), nil
		}
		return sessionResult(s), nil
	})
}

func signedIn(ctx context.Context) (*session.Session, *Result) {
	s := session.FromContext(ctx)
	switch {
	case s == nil:
		return nil, Fail("no session")
	case !s.Authenticated():
		return nil, Fail("not signed in")
	case s.IsExpired():
		return nil, Fail("session expired")
	}
	return s, nil
}

func sessionResult(s *session.Session) *Result {
	identity := Identity{
		"id":          s.UserID,
		"username":    s.Username,
		"roles":       slices.Clone(s.Roles),
		"permissions": slices.Clone(s.Permissions),
	}
	res := Success(identity, s).WithClaims(s.Roles, s.Permissions)
	res.Metadata["session_id"] = s.ID
	return res
}

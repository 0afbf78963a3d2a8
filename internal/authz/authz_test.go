// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package authz

import (
	"context"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/tomtom215/routeguard/internal/auth"
	"github.com/tomtom215/routeguard/internal/descriptor"
	"github.com/tomtom215/routeguard/internal/logging"
)

func quietGate(opts ...GateOption) *Gate {
	opts = append(opts, WithSecurityLogger(logging.NewSecurityLoggerWithLogger(logging.NewTestLogger(io.Discard))))
	return NewGate(opts...)
}

func withRoles(roles ...string) *auth.Result {
	return auth.Success(auth.Identity{"id": "u1", "roles": roles}, nil)
}

func TestGate_Authorize_ORSemantics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		roles    []string
		required []string
		allowed  bool
	}{
		{"no requirement", []string{"user"}, nil, true},
		{"missing role", []string{"user"}, []string{"admin"}, false},
		{"any intersection", []string{"admin", "user"}, []string{"admin", "editor"}, true},
		{"second required matches", []string{"editor"}, []string{"admin", "editor"}, true},
		{"no caller roles", nil, []string{"admin"}, false},
	}

	g := quietGate()
	for _, tt := range tests {
		d := g.Authorize(withRoles(tt.roles...), KindRoles, tt.required)
		if (d == nil) != tt.allowed {
			t.Errorf("%s: denial = %+v, allowed want %v", tt.name, d, tt.allowed)
		}
		if d != nil {
			if !slices.Equal(d.Required, tt.required) || !slices.Equal(d.Actual, tt.roles) {
				t.Errorf("%s: denial = %+v", tt.name, d)
			}
		}
	}
}

func TestClaims_SourceOrder(t *testing.T) {
	t.Parallel()

	accessor := auth.Success(auth.Identity{"roles": []string{"from-identity"}}, nil).WithClaims([]string{"from-accessor"}, nil)
	accessor.Metadata["roles"] = []string{"from-metadata"}

	identity := auth.Success(auth.Identity{"roles": []any{"a", "b", 3}}, nil)
	identity.Metadata["roles"] = []string{"from-metadata"}

	meta := auth.Success(auth.Identity{"id": "x"}, nil)
	meta.Metadata["roles"] = "admin, editor,"

	tests := []struct {
		name string
		res  *auth.Result
		want []string
	}{
		{"accessor wins", accessor, []string{"from-accessor"}},
		{"identity []any", identity, []string{"a", "b"}},
		{"metadata comma string", meta, []string{"admin", "editor"}},
		{"anonymous", auth.Anonymous("1.1.1.1", nil), nil},
		{"nil result", nil, nil},
	}

	for _, tt := range tests {
		if got := Claims(tt.res, KindRoles); !slices.Equal(got, tt.want) {
			t.Errorf("%s: Claims() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGate_Check_RolesThenPermissions(t *testing.T) {
	t.Parallel()

	res := auth.Success(auth.Identity{"id": "u1"}, nil).WithClaims([]string{"editor"}, []string{"posts:read"})
	g := quietGate()
	ctx := context.Background()

	if d := g.Check(ctx, res, descriptor.Parse("posts role=editor permission=posts:read")); d != nil {
		t.Errorf("both satisfied: %+v", d)
	}
	d := g.Check(ctx, res, descriptor.Parse("posts role=editor permission=posts:write"))
	if d == nil || d.Kind != KindPermissions {
		t.Errorf("permission denial = %+v", d)
	}
	d = g.Check(ctx, res, descriptor.Parse("admin role=admin permission=posts:read"))
	if d == nil || d.Kind != KindRoles {
		t.Errorf("role denial = %+v", d)
	}
}

func TestDenial_MessageNamesClaims(t *testing.T) {
	t.Parallel()

	one := &Denial{Kind: KindRoles, Required: []string{"admin"}}
	if !strings.Contains(one.Message(), "admin") || !strings.Contains(one.Message(), "role") {
		t.Errorf("Message() = %q", one.Message())
	}
	many := &Denial{Kind: KindPermissions, Required: []string{"a", "b"}}
	if msg := many.Error(); !strings.Contains(msg, "a, b") || !strings.Contains(msg, "permissions") {
		t.Errorf("Error() = %q", msg)
	}
}

func testHierarchy(t *testing.T) *Hierarchy {
	t.Helper()
	h, err := NewHierarchy(HierarchyConfig{
		Inherits: map[string][]string{
			"admin":  {"editor"},
			"editor": {"viewer"},
		},
		Grants: map[string][]string{
			"viewer": {"posts:read"},
			"editor": {"posts:write"},
		},
	})
	if err != nil {
		t.Fatalf("NewHierarchy() error = %v", err)
	}
	return h
}

func TestHierarchy_ExpandRoles(t *testing.T) {
	t.Parallel()

	h := testHierarchy(t)
	got := h.ExpandRoles([]string{"admin"})
	for _, want := range []string{"admin", "editor", "viewer"} {
		if !slices.Contains(got, want) {
			t.Errorf("ExpandRoles(admin) = %v, missing %s", got, want)
		}
	}
	if got := h.ExpandRoles([]string{"viewer"}); !slices.Equal(got, []string{"viewer"}) {
		t.Errorf("ExpandRoles(viewer) = %v", got)
	}
}

func TestHierarchy_ExpandPermissions(t *testing.T) {
	t.Parallel()

	h := testHierarchy(t)
	got := h.ExpandPermissions([]string{"editor"}, []string{"comments:moderate"})
	for _, want := range []string{"comments:moderate", "posts:write", "posts:read"} {
		if !slices.Contains(got, want) {
			t.Errorf("ExpandPermissions = %v, missing %s", got, want)
		}
	}
	if !h.Allows([]string{"admin"}, "posts:read") {
		t.Error("admin should inherit posts:read")
	}
	if h.Allows([]string{"viewer"}, "posts:write") {
		t.Error("viewer must not hold posts:write")
	}
	if len(h.Rules()) != 2 {
		t.Errorf("Rules() = %v", h.Rules())
	}
}

func TestNewHierarchy_EmptyIsNil(t *testing.T) {
	t.Parallel()

	h, err := NewHierarchy(HierarchyConfig{})
	if err != nil || h != nil {
		t.Errorf("NewHierarchy(empty) = %v, %v", h, err)
	}
}

func TestGate_WithHierarchy(t *testing.T) {
	t.Parallel()

	g := quietGate(WithHierarchy(testHierarchy(t)))
	ctx := context.Background()

	if d := g.Check(ctx, withRoles("admin"), descriptor.Parse("x role=viewer")); d != nil {
		t.Errorf("admin should satisfy role=viewer through inheritance: %+v", d)
	}
	if d := g.Check(ctx, withRoles("editor"), descriptor.Parse("x permission=posts:read")); d != nil {
		t.Errorf("editor should hold posts:read through viewer: %+v", d)
	}
	if d := g.Check(ctx, withRoles("viewer"), descriptor.Parse("x role=admin")); d == nil {
		t.Error("viewer must not satisfy role=admin")
	}
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package descriptor

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		decl        string
		target      string
		auth        []string
		roles       []string
		permissions []string
		exempt      bool
		format      Format
	}{
		{
			name:   "target only",
			decl:   "index",
			target: "index",
		},
		{
			name:   "ordered auth list",
			decl:   "dashboard auth=session,apikey",
			target: "dashboard",
			auth:   []string{"session", "apikey"},
		},
		{
			name:   "empty elements dropped",
			decl:   "x auth=,session,,apikey, role=admin,,",
			target: "x",
			auth:   []string{"session", "apikey"},
			roles:  []string{"admin"},
		},
		{
			name:        "roles permissions and flags",
			decl:        "admin auth=session role=admin,editor permission=posts:write csrf=exempt response=json",
			target:      "admin",
			auth:        []string{"session"},
			roles:       []string{"admin", "editor"},
			permissions: []string{"posts:write"},
			exempt:      true,
			format:      FormatJSON,
		},
		{
			name:   "tokens without equals discarded",
			decl:   "x garbage auth=session junk",
			target: "x",
			auth:   []string{"session"},
		},
		{
			name:   "unknown response format unset",
			decl:   "x response=xml",
			target: "x",
			format: FormatUnset,
		},
		{
			name:   "csrf other value not exempt",
			decl:   "x csrf=required",
			target: "x",
		},
		{
			name:   "colon requirement kept whole",
			decl:   "x auth=role:admin",
			target: "x",
			auth:   []string{"role:admin"},
		},
		{
			name: "empty declaration",
			decl: "   ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Parse(tt.decl)

			if d.Target() != tt.target {
				t.Errorf("Target() = %q, want %q", d.Target(), tt.target)
			}
			if !slices.Equal(d.Auth(), tt.auth) {
				t.Errorf("Auth() = %v, want %v", d.Auth(), tt.auth)
			}
			if !slices.Equal(d.Roles(), tt.roles) {
				t.Errorf("Roles() = %v, want %v", d.Roles(), tt.roles)
			}
			if !slices.Equal(d.Permissions(), tt.permissions) {
				t.Errorf("Permissions() = %v, want %v", d.Permissions(), tt.permissions)
			}
			if d.CSRFExempt() != tt.exempt {
				t.Errorf("CSRFExempt() = %v, want %v", d.CSRFExempt(), tt.exempt)
			}
			if d.Format() != tt.format {
				t.Errorf("Format() = %q, want %q", d.Format(), tt.format)
			}
		})
	}
}

func TestParse_ValueWithEquals(t *testing.T) {
	t.Parallel()

	d := Parse("x redirect=/next?a=b empty=")
	if v, _ := d.Option("redirect"); v != "/next?a=b" {
		t.Errorf("redirect = %q", v)
	}
	v, ok := d.Option("empty")
	if !ok || v != "" {
		t.Errorf("empty = %q, %v", v, ok)
	}
}

func TestParse_Idempotent(t *testing.T) {
	t.Parallel()

	decls := []string{
		"",
		"index",
		"dashboard auth=session,apikey role=admin",
		"api auth=bearer,apikey permission=read,write csrf=exempt response=auto key=a=b",
	}
	for _, decl := range decls {
		a, b := Parse(decl), Parse(decl)
		if !a.Equal(b) {
			t.Errorf("Parse(%q) not equal to itself", decl)
		}
		if rt := Parse(a.String()); !rt.Equal(a) {
			t.Errorf("round trip of %q via %q not equal", decl, a.String())
		}
	}
}

func TestDescriptor_AccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	d := Parse("x auth=session,apikey")
	auth := d.Auth()
	auth[0] = "anonymous"

	if d.Auth()[0] != "session" {
		t.Error("mutating Auth() result changed the descriptor")
	}
	opts := d.Options()
	opts["auth"] = "changed"
	if v, _ := d.Option("auth"); v != "session,apikey" {
		t.Error("mutating Options() result changed the descriptor")
	}
}

func TestDescriptor_EqualDiffers(t *testing.T) {
	t.Parallel()

	if Parse("x auth=a,b").Equal(Parse("x auth=b,a")) {
		t.Error("order must matter for auth requirements")
	}
	if Parse("x role=admin").Equal(Parse("y role=admin")) {
		t.Error("targets differ")
	}
	var nilD *Descriptor
	if !nilD.Equal(nil) {
		t.Error("nil descriptors should be equal")
	}
}

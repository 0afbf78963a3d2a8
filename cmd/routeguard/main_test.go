// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/routeguard/internal/auth"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDescribe(t *testing.T) {
	out, err := run(t, "", "describe", "dashboard auth=session,apikey role=admin response=json")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}

	var got describeOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Target != "dashboard" || got.Anonymous {
		t.Errorf("target = %q anonymous = %v", got.Target, got.Anonymous)
	}
	if !slices.Equal(got.Auth, []string{"session", "apikey"}) || !slices.Equal(got.Roles, []string{"admin"}) {
		t.Errorf("auth = %v roles = %v", got.Auth, got.Roles)
	}
	if got.Response != "json" || got.Permissions == nil {
		t.Errorf("response = %q permissions = %v", got.Response, got.Permissions)
	}
}

func TestDescribe_UnknownStrategies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routeguard.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "describe", "--config", path, "reports auth=default,ldap,role:admin")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	var got describeOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !slices.Equal(got.Unknown, []string{"ldap"}) {
		t.Errorf("unknown = %v, want [ldap]", got.Unknown)
	}
}

func TestDescribe_RequiresDeclaration(t *testing.T) {
	if _, err := run(t, "", "describe"); err == nil {
		t.Error("expected an argument error")
	}
}

func TestHashSecret(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		args    []string
		wantErr bool
	}{
		{"password from stdin", "hunter2\n", []string{"--kind", "password"}, false},
		{"password flag", "", []string{"--value", "hunter2"}, false},
		{"apikey", "s3cret\n", []string{"--kind", "apikey"}, false},
		{"unknown kind", "x\n", []string{"--kind", "pgp"}, true},
		{"empty stdin", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"hash-secret", "--cost", "4"}, tt.args...)
			out, err := run(t, tt.stdin, args...)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got output %q", out)
				}
				return
			}
			if err != nil {
				t.Fatalf("hash-secret: %v", err)
			}
			hash := strings.TrimSpace(out)
			if cost, err := bcrypt.Cost([]byte(hash)); err != nil || cost != 4 {
				t.Errorf("output %q is not a cost-4 bcrypt hash (%v)", hash, err)
			}
		})
	}
}

func TestIssueToken(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	path := filepath.Join(t.TempDir(), "routeguard.yaml")
	yaml := "logging:\n  level: error\nsecurity:\n  jwt:\n    secret: " + secret + "\n    issuer: routeguard\n    ttl: 15m\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "issue-token", "--config", path, "--subject", "svc-deploy", "--role", "deployer,viewer")
	if err != nil {
		t.Fatalf("issue-token: %v", err)
	}

	bearer, err := auth.NewBearerStrategy(auth.BearerConfig{Secret: []byte(secret), Issuer: "routeguard"})
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+strings.TrimSpace(out))
	res, err := bearer.Authenticate(context.Background(), r, "bearer")
	if err != nil || !res.Succeeded() {
		t.Fatalf("issued token rejected: %+v, %v", res, err)
	}
	if res.UserID() != "svc-deploy" || !slices.Equal(res.Roles, []string{"deployer", "viewer"}) {
		t.Errorf("claims = %q %v", res.UserID(), res.Roles)
	}
	exp, _ := res.Metadata["token_expires_at"].(int64)
	if want := time.Now().Add(15 * time.Minute).Unix(); exp < want-5 || exp > want+5 {
		t.Errorf("expires at %d, want about %d", exp, want)
	}
}

func TestIssueToken_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routeguard.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "", "issue-token", "--config", path, "--subject", "svc"); err == nil || !strings.Contains(err.Error(), "jwt.secret") {
		t.Errorf("missing secret error = %v", err)
	}
	if _, err := run(t, "", "issue-token", "--config", path); err == nil {
		t.Error("missing --subject should fail")
	}
}

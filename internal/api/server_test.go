// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package api

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/routeguard/internal/auth"
	"github.com/tomtom215/routeguard/internal/config"
)

const testAPIKey = "ci.s3cret-value"

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Server.RateLimitDisabled = true
	cfg.Security.Session.CookieSecure = false
	cfg.Security.CSRF.CookieSecure = false
	cfg.Security.CSRF.Key = strings.Repeat("k", 32)
	cfg.Security.JWT.Secret = strings.Repeat("j", 32)
	cfg.Audit.LogEvents = false

	alice, err := auth.HashPassword("wonderland", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	bob, _ := auth.HashPassword("builder", bcrypt.MinCost)
	cfg.Security.Users = []config.UserConfig{
		{Username: "alice", PasswordHash: alice, Roles: []string{"admin"}},
		{Username: "bob", PasswordHash: bob, Roles: []string{"viewer"}},
	}

	secret, err := auth.HashAPIKeySecret("s3cret-value", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashAPIKeySecret: %v", err)
	}
	cfg.Security.APIKeys = []config.APIKeyConfig{{ID: "ci", Name: "CI", SecretHash: secret, Roles: []string{"deployer"}}}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *client) {
	t.Helper()

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	jar, _ := cookiejar.New(nil)
	return srv, &client{
		t:    t,
		base: ts.URL,
		http: &http.Client{
			Jar:     jar,
			Timeout: 5 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *client) do(method, path string, form url.Values, header map[string]string) (*http.Response, []byte) {
	c.t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		c.t.Fatalf("NewRequest: %v", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (c *client) csrfToken() string {
	c.t.Helper()
	resp, body := c.do(http.MethodGet, "/api/csrf-token", nil, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("csrf-token status = %d: %s", resp.StatusCode, body)
	}
	var tok CSRFTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		c.t.Fatalf("decode token: %v", err)
	}
	if tok.Token == "" || tok.Header != "X-CSRF-Token" || tok.FormField != "authenticity_token" {
		c.t.Fatalf("unexpected token response %+v", tok)
	}
	return tok.Token
}

func (c *client) signIn(username, password string) *http.Response {
	c.t.Helper()
	form := url.Values{
		"username":           {username},
		"password":           {password},
		"authenticity_token": {c.csrfToken()},
	}
	resp, _ := c.do(http.MethodPost, "/signin", form, nil)
	return resp
}

func TestSignInFlow(t *testing.T) {
	_, c := newTestServer(t, testConfig(t))

	resp, body := c.do(http.MethodGet, "/api/whoami", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous whoami = %d, want 401", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Authentication Required") {
		t.Errorf("401 body = %s", body)
	}

	if resp := c.signIn("alice", "wonderland"); resp.StatusCode != http.StatusOK {
		t.Fatalf("sign-in = %d, want 200", resp.StatusCode)
	}

	resp, body = c.do(http.MethodGet, "/api/whoami", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("whoami after sign-in = %d: %s", resp.StatusCode, body)
	}
	var snap struct {
		Authenticated bool           `json:"authenticated"`
		Strategy      string         `json:"strategy"`
		Identity      map[string]any `json:"identity"`
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode whoami: %v", err)
	}
	if !snap.Authenticated || snap.Strategy != "session" || snap.Identity["username"] != "alice" {
		t.Errorf("whoami = %+v", snap)
	}

	token := resp.Header.Get("X-CSRF-Token")
	if token == "" {
		t.Fatal("safe request should carry a fresh token")
	}

	if resp, _ := c.do(http.MethodGet, "/admin", nil, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("admin for alice = %d, want 200", resp.StatusCode)
	}

	resp, _ = c.do(http.MethodPost, "/signout", url.Values{}, map[string]string{"X-CSRF-Token": token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign-out = %d, want 200", resp.StatusCode)
	}
	if resp, _ := c.do(http.MethodGet, "/api/whoami", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("whoami after sign-out = %d, want 401", resp.StatusCode)
	}
}

func TestSignInRejections(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		withToken  bool
		wantStatus int
	}{
		{"wrong password", url.Values{"username": {"alice"}, "password": {"nope"}}, true, http.StatusUnauthorized},
		{"unknown user", url.Values{"username": {"mallory"}, "password": {"x"}}, true, http.StatusUnauthorized},
		{"missing csrf token", url.Values{"username": {"alice"}, "password": {"wonderland"}}, false, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, testConfig(t))
			if tt.withToken {
				tt.form.Set("authenticity_token", c.csrfToken())
			}
			resp, _ := c.do(http.MethodPost, "/signin", tt.form, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestAdminRoleRequired(t *testing.T) {
	_, c := newTestServer(t, testConfig(t))
	if resp := c.signIn("bob", "builder"); resp.StatusCode != http.StatusOK {
		t.Fatalf("sign-in = %d", resp.StatusCode)
	}

	resp, body := c.do(http.MethodGet, "/admin", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin for bob = %d, want 403", resp.StatusCode)
	}
	if !strings.Contains(string(body), "admin") {
		t.Errorf("403 body should name the missing role: %s", body)
	}
}

func TestMachineCredentials(t *testing.T) {
	srv, c := newTestServer(t, testConfig(t))

	adminToken, err := srv.bearer.Issue("svc-1", "deploy-bot", []string{"admin"}, nil, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	viewerToken, _ := srv.bearer.Issue("svc-2", "reader", []string{"viewer"}, nil, time.Minute)

	tests := []struct {
		name       string
		path       string
		header     map[string]string
		wantStatus int
	}{
		{"api key on whoami", "/api/whoami", map[string]string{"X-API-Key": testAPIKey}, http.StatusOK},
		{"bad api key", "/api/whoami", map[string]string{"X-API-Key": "ci.wrong"}, http.StatusUnauthorized},
		{"bearer admin", "/admin", map[string]string{"Authorization": "Bearer " + adminToken}, http.StatusOK},
		{"bearer viewer", "/admin", map[string]string{"Authorization": "Bearer " + viewerToken}, http.StatusForbidden},
		{"api key not accepted on admin", "/admin", map[string]string{"X-API-Key": testAPIKey}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := c.do(http.MethodGet, tt.path, nil, tt.header)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestBrowserRedirect(t *testing.T) {
	_, c := newTestServer(t, testConfig(t))

	resp, _ := c.do(http.MethodGet, "/admin", nil, map[string]string{"Accept": "text/html"})
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/signin" {
		t.Errorf("Location = %q, want /signin", loc)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, c := newTestServer(t, testConfig(t))
	c.do(http.MethodGet, "/api/whoami", nil, nil)

	resp, body := c.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	var health struct {
		Data HealthStatus `json:"data"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Data.Status != "healthy" || health.Data.SessionStore != "memory" || !health.Data.AuditEnabled {
		t.Errorf("health = %+v", health.Data)
	}
	if health.Data.Aliases["default"] != "session" {
		t.Errorf("aliases = %v", health.Data.Aliases)
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing on /healthz")
	}

	resp, body = c.do(http.MethodGet, "/metrics", nil, map[string]string{"Accept": "text/plain"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "routeguard_http_requests_total") {
		t.Errorf("metrics = %d, missing routeguard series", resp.StatusCode)
	}
}

func TestNew_UnknownHandler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Routes = append(cfg.Routes, config.RouteConfig{Method: "GET", Path: "/x", Declaration: "launch_missiles"})

	if _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "launch_missiles") {
		t.Errorf("New() error = %v, want unknown handler", err)
	}
}

func TestUnknownRouteStrategyRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Routes = append(cfg.Routes, config.RouteConfig{Method: "GET", Path: "/ldap", Declaration: "whoami auth=ldap"})
	_, c := newTestServer(t, cfg)

	resp, body := c.do(http.MethodGet, "/ldap", nil, map[string]string{"X-API-Key": testAPIKey})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if !strings.Contains(string(body), "strategy not configured") {
		t.Errorf("body = %s", body)
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/dashboard":           "/dashboard",
		"//evil.example":       "/",
		"https://evil.example": "/",
		"/\\evil":              "/",
	}
	for in, want := range tests {
		if got := safeRedirect(in); got != want {
			t.Errorf("safeRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package csrf

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/routeguard/internal/descriptor"
	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/session"
)

var testKey = bytes.Repeat([]byte("k"), 32)

func newTestService(t *testing.T, cfg *Config) *Service {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Key == nil {
		cfg.Key = testKey
	}
	svc, err := NewService(cfg, WithSecurityLogger(logging.NewSecurityLoggerWithLogger(logging.NewTestLogger(io.Discard))))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func withSession(r *http.Request, s *session.Session) *http.Request {
	return r.WithContext(session.NewContext(r.Context(), s))
}

func TestNewService_Key(t *testing.T) {
	if _, err := NewService(&Config{Key: []byte("short")}); err == nil {
		t.Error("expected error for short key")
	}

	a, err := NewService(nil)
	if err != nil {
		t.Fatalf("NewService(nil): %v", err)
	}
	b, err := NewService(nil)
	if err != nil {
		t.Fatalf("NewService(nil): %v", err)
	}
	token, err := a.Generate("sid")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if b.Verify(token, "sid") {
		t.Error("randomly keyed services should not accept each other's tokens")
	}
}

func TestGenerateVerify(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		name      string
		sessionID string
	}{
		{"with session", "3f2a9c"},
		{"empty session uses no-session base", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.Generate(tt.sessionID)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			secret, sig, ok := strings.Cut(token, ":")
			if !ok || len(secret) != 64 || len(sig) != 64 {
				t.Fatalf("token shape = %q", token)
			}
			if !svc.Verify(token, tt.sessionID) {
				t.Error("token should verify for its own session")
			}
			if svc.Verify(token, tt.sessionID+"x") {
				t.Error("token should not verify for another session")
			}
		})
	}

	t.Run("empty id equals sentinel", func(t *testing.T) {
		token, _ := svc.Generate("")
		if !svc.Verify(token, NoSessionBase) {
			t.Error("empty session id should bind to the no-session base")
		}
	})
}

func TestVerify_Tampering(t *testing.T) {
	svc := newTestService(t, nil)
	token, err := svc.Generate("sid-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// every single-character mutation must fail
	for i := range len(token) {
		if token[i] == ':' {
			continue
		}
		b := []byte(token)
		if b[i] == 'a' {
			b[i] = 'b'
		} else {
			b[i] = 'a'
		}
		if svc.Verify(string(b), "sid-1") {
			t.Fatalf("mutation at %d verified", i)
		}
	}

	malformed := []string{"", ":", "abc", "abc:", ":abc", token + "0", token[:len(token)-1]}
	for _, m := range malformed {
		if svc.Verify(m, "sid-1") {
			t.Errorf("Verify(%q) = true", m)
		}
	}
}

func TestSessionID(t *testing.T) {
	svc := newTestService(t, nil)

	t.Run("session handle id", func(t *testing.T) {
		s := session.New(time.Hour)
		r := withSession(httptest.NewRequest(http.MethodGet, "/", nil), s)
		if got := svc.SessionID(httptest.NewRecorder(), r); got != s.ID {
			t.Errorf("SessionID = %q, want %q", got, s.ID)
		}
		if !s.Dirty() {
			t.Error("new session should be marked for saving so the binding survives")
		}
	})

	t.Run("stored binding value", func(t *testing.T) {
		s := &session.Session{}
		s.Set(SessionValueKey, "bound-id")
		r := withSession(httptest.NewRequest(http.MethodGet, "/", nil), s)
		if got := svc.SessionID(nil, r); got != "bound-id" {
			t.Errorf("SessionID = %q", got)
		}
	})

	t.Run("minted into handle", func(t *testing.T) {
		s := &session.Session{}
		r := withSession(httptest.NewRequest(http.MethodGet, "/", nil), s)
		first := svc.SessionID(nil, r)
		if len(first) != 32 {
			t.Fatalf("minted id = %q", first)
		}
		if v, _ := s.Get(SessionValueKey); v != first {
			t.Errorf("stored value = %q, want %q", v, first)
		}
		if again := svc.SessionID(nil, r); again != first {
			t.Errorf("second call = %q, want %q", again, first)
		}
	})

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "_csrf_sid", Value: "cookie-id"})
		if got := svc.SessionID(nil, r); got != "cookie-id" {
			t.Errorf("SessionID = %q", got)
		}
	})

	t.Run("minted into cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		first := svc.SessionID(rec, r)
		if first == "" {
			t.Fatal("expected minted id")
		}
		cookies := rec.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Name != "_csrf_sid" || cookies[0].Value != first {
			t.Errorf("cookies = %v", cookies)
		}
		if again := svc.SessionID(rec, r); again != first {
			t.Errorf("second call = %q, want %q", again, first)
		}
	})

	t.Run("nowhere to persist", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if got := svc.SessionID(nil, r); got != "" {
			t.Errorf("SessionID = %q, want empty", got)
		}
	})
}

func TestGuard_SafeMethodsIssueToken(t *testing.T) {
	svc := newTestService(t, nil)
	desc := descriptor.Parse("form")

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace} {
		t.Run(method, func(t *testing.T) {
			s := session.New(time.Hour)
			r := Prepare(withSession(httptest.NewRequest(method, "/form", nil), s))
			rec := httptest.NewRecorder()

			if resp := svc.Guard(rec, r, desc); resp != nil {
				t.Fatalf("safe method rejected with %d", resp.Status)
			}
			token := Token(r.Context())
			if token == "" {
				t.Fatal("no token on context")
			}
			if rec.Header().Get("X-CSRF-Token") != token {
				t.Errorf("header = %q, want %q", rec.Header().Get("X-CSRF-Token"), token)
			}
			if !svc.Verify(token, s.ID) {
				t.Error("issued token should verify for the session")
			}
			field := HiddenField(r.Context())
			if !strings.Contains(field, `name="authenticity_token"`) || !strings.Contains(field, token) {
				t.Errorf("HiddenField = %q", field)
			}

			// a second pass in the same request reuses the token
			if resp := svc.Guard(rec, r, desc); resp != nil {
				t.Fatal("second pass rejected")
			}
			if Token(r.Context()) != token {
				t.Error("token changed within one request")
			}
		})
	}
}

func TestGuard_UnsafeMethods(t *testing.T) {
	svc := newTestService(t, nil)
	s := session.New(time.Hour)
	valid, err := svc.Generate(s.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	other, _ := svc.Generate("someone-else")

	tests := []struct {
		name       string
		decl       string
		header     string
		form       string
		wantStatus int
		wantMsg    string
	}{
		{"header token", "save", valid, "", 0, ""},
		{"form token", "save", "", valid, 0, ""},
		{"missing", "save", "", "", http.StatusForbidden, "CSRF token missing"},
		{"bound to another session", "save", other, "", http.StatusForbidden, "CSRF token invalid"},
		{"garbage", "save", "not-a-token", "", http.StatusForbidden, "CSRF token invalid"},
		{"exempt route", "save csrf=exempt", "", "", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.form != "" {
				body = strings.NewReader(url.Values{"authenticity_token": {tt.form}}.Encode())
			}
			r := httptest.NewRequest(http.MethodPost, "/save", body)
			if tt.form != "" {
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			if tt.header != "" {
				r.Header.Set("X-CSRF-Token", tt.header)
			}
			r = withSession(r, s)

			resp := svc.Guard(httptest.NewRecorder(), r, descriptor.Parse(tt.decl))
			if tt.wantStatus == 0 {
				if resp != nil {
					t.Fatalf("rejected with %d: %s", resp.Status, resp.Body)
				}
				return
			}
			if resp == nil {
				t.Fatal("expected rejection")
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.Status, tt.wantStatus)
			}
			want := `{"error":"Forbidden","message":"` + tt.wantMsg + `"}`
			if string(resp.Body) != want {
				t.Errorf("body = %s, want %s", resp.Body, want)
			}
		})
	}
}

func TestCheck_Errors(t *testing.T) {
	svc := newTestService(t, &Config{ExemptPaths: []string{"/webhooks/"}})

	r := httptest.NewRequest(http.MethodPost, "/save", nil)
	if err := svc.Check(nil, r, nil); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("Check() = %v, want ErrTokenMissing", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/save", nil)
	r.Header.Set("X-CSRF-Token", "a:b")
	if err := svc.Check(nil, r, nil); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Check() = %v, want ErrTokenInvalid", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/webhooks/github", nil)
	if err := svc.Check(nil, r, nil); err != nil {
		t.Errorf("exempt path: Check() = %v", err)
	}
}

func TestGuard_NoSessionBinding(t *testing.T) {
	svc := newTestService(t, nil)

	// GET mints a cookie binding, the follow-up POST presents cookie and token
	get := Prepare(httptest.NewRequest(http.MethodGet, "/form", nil))
	rec := httptest.NewRecorder()
	if resp := svc.Guard(rec, get, nil); resp != nil {
		t.Fatal("GET rejected")
	}
	token := Token(get.Context())

	post := httptest.NewRequest(http.MethodPost, "/form", nil)
	for _, c := range rec.Result().Cookies() {
		post.AddCookie(c)
	}
	post.Header.Set("X-CSRF-Token", token)
	if resp := svc.Guard(httptest.NewRecorder(), post, nil); resp != nil {
		t.Fatalf("POST rejected: %s", resp.Body)
	}
}

func TestTokenWithoutSlot(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if Token(r.Context()) != "" || HiddenField(r.Context()) != "" {
		t.Error("expected empty token without a prepared request")
	}
	if Prepare(Prepare(r)).Context() == r.Context() {
		t.Error("Prepare should attach a slot")
	}
}

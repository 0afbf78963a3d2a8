// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package csrf issues and verifies session-bound anti-forgery tokens.
//
// A token has the form secret:signature where secret is 32 random bytes hex
// encoded and signature is the hex HMAC-SHA256 of "<base>:<secret>" under a
// server key. base is the caller's session id, or "no-session" when the
// request carries none. Verification is stateless.
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/tomtom215/routeguard/internal/auth"
	"github.com/tomtom215/routeguard/internal/descriptor"
	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/metrics"
	"github.com/tomtom215/routeguard/internal/respond"
	"github.com/tomtom215/routeguard/internal/session"
)

var (
	// ErrTokenMissing indicates an unsafe request carried no token.
	ErrTokenMissing = errors.New("CSRF token missing")

	// ErrTokenInvalid indicates the token does not verify against the caller's session.
	ErrTokenInvalid = errors.New("CSRF token invalid")
)

const (
	// NoSessionBase is the signing base used when no session id is available.
	NoSessionBase = "no-session"

	// SessionValueKey is where a minted binding id is kept on a session handle.
	SessionValueKey = "csrf_session_id"

	secretBytes = 32
	bindBytes   = 16
	minKeyBytes = 32
)

// Config holds CSRF settings.
type Config struct {
	// Key signs tokens. A random key is generated when empty, which means
	// tokens do not survive a restart.
	Key []byte

	// HeaderName carries the token on requests and safe-method responses.
	HeaderName string

	// FormFieldName is the fallback request field.
	FormFieldName string

	// CookieName holds the binding id for callers without a session.
	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	// ExemptPaths skip the guard entirely (prefix match).
	ExemptPaths []string
}

// DefaultConfig returns the default CSRF configuration.
func DefaultConfig() *Config {
	return &Config{
		HeaderName:     "X-CSRF-Token",
		FormFieldName:  "authenticity_token",
		CookieName:     "_csrf_sid",
		CookiePath:     "/",
		CookieSecure:   true,
		CookieSameSite: http.SameSiteLaxMode,
	}
}

// Service generates, verifies and enforces tokens. Safe for concurrent use.
type Service struct {
	config     *Config
	key        []byte
	negotiator *respond.Negotiator
	security   *logging.SecurityLogger
}

// Option configures a Service.
type Option func(*Service)

// WithNegotiator sets the negotiator used to build rejection responses.
func WithNegotiator(n *respond.Negotiator) Option {
	return func(s *Service) { s.negotiator = n }
}

// WithSecurityLogger overrides the security event logger.
func WithSecurityLogger(l *logging.SecurityLogger) Option {
	return func(s *Service) { s.security = l }
}

// NewService creates a token service. A nil config uses DefaultConfig.
func NewService(config *Config, opts ...Option) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.HeaderName == "" {
		config.HeaderName = defaults.HeaderName
	}
	if config.FormFieldName == "" {
		config.FormFieldName = defaults.FormFieldName
	}
	if config.CookieName == "" {
		config.CookieName = defaults.CookieName
	}
	if config.CookiePath == "" {
		config.CookiePath = defaults.CookiePath
	}

	key := config.Key
	switch {
	case len(key) == 0:
		key = make([]byte, minKeyBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate csrf key: %w", err)
		}
		logging.Warn().Msg("No CSRF key configured, generated a random key; tokens will not survive a restart")
	case len(key) < minKeyBytes:
		return nil, fmt.Errorf("csrf key must be at least %d bytes, got %d", minKeyBytes, len(key))
	}

	s := &Service{
		config:     config,
		key:        append([]byte(nil), key...),
		negotiator: respond.NewNegotiator(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.security == nil {
		s.security = logging.NewSecurityLogger()
	}
	return s, nil
}

// HeaderName returns the token header name.
func (s *Service) HeaderName() string { return s.config.HeaderName }

// FormFieldName returns the token form field name.
func (s *Service) FormFieldName() string { return s.config.FormFieldName }

// Generate returns a fresh token bound to sessionID. An empty sessionID
// binds to the no-session base.
func (s *Service) Generate(sessionID string) (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	metrics.CSRFTokensIssued.Inc()
	return secret + ":" + s.sign(sessionID, secret), nil
}

// Verify reports whether token was generated for sessionID under this key.
func (s *Service) Verify(token, sessionID string) bool {
	secret, signature, ok := strings.Cut(token, ":")
	if !ok || secret == "" || signature == "" {
		return false
	}
	return equalFullLength(signature, s.sign(sessionID, secret))
}

func (s *Service) sign(sessionID, secret string) string {
	base := sessionID
	if base == "" {
		base = NoSessionBase
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(base + ":" + secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// equalFullLength compares in constant time over the whole expected value,
// including when the lengths differ.
func equalFullLength(got, want string) bool {
	padded := make([]byte, len(want))
	copy(padded, got)
	same := subtle.ConstantTimeCompare(padded, []byte(want))
	sameLen := subtle.ConstantTimeEq(int32(len(got)), int32(len(want))) //nolint:gosec // lengths are hex of a sha256 sum
	return same&sameLen == 1
}

// SessionID returns the id tokens for r are bound to. It looks at the
// session handle, then the handle's stored binding id, then the binding
// cookie. When none exists a new id is minted and stored on the handle, or
// in a cookie when there is no handle. It returns "" when nothing can hold
// the id, so the token falls back to the no-session base.
func (s *Service) SessionID(w http.ResponseWriter, r *http.Request) string {
	sess := session.FromContext(r.Context())
	if sess != nil {
		if sess.ID != "" {
			// the binding only holds if the session outlives this request
			if sess.IsNew() {
				sess.MarkDirty()
			}
			return sess.ID
		}
		if id, ok := sess.Get(SessionValueKey); ok && id != "" {
			return id
		}
	}
	if c, err := r.Cookie(s.config.CookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id, err := mintBindingID()
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to mint CSRF binding id")
		return ""
	}
	switch {
	case sess != nil:
		sess.Set(SessionValueKey, id)
	case w != nil:
		http.SetCookie(w, &http.Cookie{
			Name:     s.config.CookieName,
			Value:    id,
			Path:     s.config.CookiePath,
			Domain:   s.config.CookieDomain,
			Secure:   s.config.CookieSecure,
			HttpOnly: true,
			SameSite: s.config.CookieSameSite,
		})
		// later lookups in the same request must see the same id
		r.AddCookie(&http.Cookie{Name: s.config.CookieName, Value: id})
	default:
		return ""
	}
	return id
}

func mintBindingID() (string, error) {
	buf := make([]byte, bindBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Check enforces the token rules for r and returns ErrTokenMissing or
// ErrTokenInvalid on rejection. On safe methods it ensures a token exists
// and exposes it through the request context and the response header.
func (s *Service) Check(w http.ResponseWriter, r *http.Request, desc *descriptor.Descriptor) error {
	if s.exempt(r, desc) {
		return nil
	}
	if isSafeMethod(r.Method) {
		if _, err := s.ensureToken(w, r); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to issue CSRF token")
		}
		return nil
	}

	token := s.tokenFromRequest(r)
	if token == "" {
		return ErrTokenMissing
	}
	if !s.Verify(token, s.SessionID(w, r)) {
		return ErrTokenInvalid
	}
	return nil
}

// Guard runs Check and turns a rejection into a 403 response. A nil
// response means the request may proceed.
func (s *Service) Guard(w http.ResponseWriter, r *http.Request, desc *descriptor.Descriptor) *respond.Response {
	err := s.Check(w, r, desc)
	if err == nil {
		return nil
	}
	return s.Reject(r, err)
}

// Reject records a rejection and builds its response.
func (s *Service) Reject(r *http.Request, err error) *respond.Response {
	reason := "invalid"
	if errors.Is(err, ErrTokenMissing) {
		reason = "missing"
	}
	metrics.RecordCSRFFailure(reason)
	s.security.CSRFFailure(r.Context(), reason, auth.ClientIP(r), r.Method, r.URL.Path)
	return s.negotiator.CSRFRejected(r, err.Error())
}

// ensureToken reuses the token already issued for this request or creates one.
func (s *Service) ensureToken(w http.ResponseWriter, r *http.Request) (string, error) {
	slot := slotFromContext(r.Context())
	if slot != nil && slot.token != "" {
		return slot.token, nil
	}
	token, err := s.Generate(s.SessionID(w, r))
	if err != nil {
		return "", err
	}
	if slot != nil {
		slot.token = token
		slot.field = s.config.FormFieldName
	}
	if w != nil {
		w.Header().Set(s.config.HeaderName, token)
	}
	return token, nil
}

func (s *Service) tokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(s.config.HeaderName); token != "" {
		return token
	}
	return r.PostFormValue(s.config.FormFieldName)
}

func (s *Service) exempt(r *http.Request, desc *descriptor.Descriptor) bool {
	if desc != nil && desc.CSRFExempt() {
		return true
	}
	for _, p := range s.config.ExemptPaths {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

type tokenSlot struct {
	token string
	field string
}

type slotKey struct{}

// Prepare attaches the per-request token slot that Check fills and Token
// reads. Requests that already carry one are returned unchanged.
func Prepare(r *http.Request) *http.Request {
	if slotFromContext(r.Context()) != nil {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), slotKey{}, &tokenSlot{}))
}

func slotFromContext(ctx context.Context) *tokenSlot {
	slot, _ := ctx.Value(slotKey{}).(*tokenSlot)
	return slot
}

// Token returns the token issued for the current request, or "".
func Token(ctx context.Context) string {
	if slot := slotFromContext(ctx); slot != nil {
		return slot.token
	}
	return ""
}

// HiddenField renders the token as a hidden form input, or "" when no
// token was issued.
func HiddenField(ctx context.Context) string {
	slot := slotFromContext(ctx)
	if slot == nil || slot.token == "" {
		return ""
	}
	return fmt.Sprintf(`<input type="hidden" name="%s" value="%s">`,
		html.EscapeString(slot.field), html.EscapeString(slot.token))
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package session

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/tomtom215/routeguard/internal/logging"
)

// Config holds session cookie and lifetime settings.
type Config struct {
	CookieName string

	// TTL is the session lifetime; with Sliding it restarts on every request.
	TTL     time.Duration
	Sliding bool

	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		CookieName:     "routeguard_session",
		TTL:            24 * time.Hour,
		Sliding:        true,
		CookiePath:     "/",
		CookieSecure:   true,
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteLaxMode,
	}
}

// Principal is the identity bound to a session on login.
type Principal struct {
	UserID      string
	Username    string
	Roles       []string
	Permissions []string
}

// Manager loads sessions into the request context and persists them when
// the handler is done. A Manager with a nil store does nothing.
type Manager struct {
	store  Store
	config *Config
}

// NewManager creates a session manager.
func NewManager(store Store, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{store: store, config: config}
}

// Store returns the backing store, possibly nil.
func (m *Manager) Store() Store { return m.store }

// CookieName returns the configured session cookie name.
func (m *Manager) CookieName() string { return m.config.CookieName }

// Middleware attaches a session handle to every request. Requests without a
// valid cookie get a new unsaved handle that is only stored, and its cookie
// only issued, once something writes to it.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	if m.store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, slid := m.load(r)
		ctx := NewContext(r.Context(), s)

		sw := &sessionWriter{ResponseWriter: w, m: m, s: s, ctx: ctx, slid: slid}
		next.ServeHTTP(sw, r.WithContext(ctx))
		sw.commit()
	})
}

// load returns the request's session and whether its expiry was slid.
func (m *Manager) load(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(m.config.CookieName)
	if err != nil || cookie.Value == "" {
		return New(m.config.TTL), false
	}

	s, err := m.store.Get(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrSessionExpired) {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Session lookup error")
		}
		return New(m.config.TTL), false
	}

	if !m.config.Sliding {
		return s, false
	}
	now := time.Now()
	s.LastAccessedAt = now
	s.ExpiresAt = now.Add(m.config.TTL)
	s.MarkDirty()
	return s, true
}

// save persists s when it has unsaved changes and reports whether it did.
func (m *Manager) save(ctx context.Context, s *Session) bool {
	if s.isDestroyed() || !s.Dirty() {
		return false
	}
	if err := m.store.Save(ctx, s); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to save session")
		return false
	}
	return true
}

// Login binds p to the request's session handle. The handle keeps its
// pointer identity but gets a new ID, and the previous ID is deleted from
// the store to prevent session fixation.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, p Principal) (*Session, error) {
	if m.store == nil {
		return nil, errors.New("session store not configured")
	}

	s := FromContext(ctx)
	if s == nil {
		s = New(m.config.TTL)
	}

	if !s.IsNew() {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to delete previous session")
		}
	}

	now := time.Now()
	s.ID = GenerateID()
	s.UserID = p.UserID
	s.Username = p.Username
	s.Roles = slices.Clone(p.Roles)
	s.Permissions = slices.Clone(p.Permissions)
	s.CreatedAt = now
	s.LastAccessedAt = now
	s.ExpiresAt = now.Add(m.config.TTL)

	s.mu.Lock()
	s.persisted = false
	s.destroyed = false
	s.dirty = true
	s.mu.Unlock()

	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	m.setCookie(w, s.ID)
	return s, nil
}

// Logout deletes the session and clears its cookie.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter) error {
	s := FromContext(ctx)
	if s == nil || m.store == nil {
		return nil
	}
	s.markDestroyed()
	m.clearCookie(w)
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    id,
		Path:     m.config.CookiePath,
		Domain:   m.config.CookieDomain,
		MaxAge:   int(m.config.TTL.Seconds()),
		Secure:   m.config.CookieSecure,
		HttpOnly: m.config.CookieHTTPOnly,
		SameSite: m.config.CookieSameSite,
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    "",
		Path:     m.config.CookiePath,
		Domain:   m.config.CookieDomain,
		MaxAge:   -1,
		Secure:   m.config.CookieSecure,
		HttpOnly: m.config.CookieHTTPOnly,
		SameSite: m.config.CookieSameSite,
	})
}

// sessionWriter saves a freshly written or slid session before the first
// byte goes out so its cookie can still be set.
type sessionWriter struct {
	http.ResponseWriter
	m    *Manager
	s    *Session
	ctx  context.Context
	slid bool

	once sync.Once
}

// flushSession issues the cookie for a newly stored session, and re-issues
// it with a fresh Max-Age when a sliding expiry was extended.
func (w *sessionWriter) flushSession() {
	w.once.Do(func() {
		created := w.s.IsNew()
		if w.m.save(w.ctx, w.s) && (created || w.slid) {
			w.m.setCookie(w.ResponseWriter, w.s.ID)
		}
	})
}

func (w *sessionWriter) WriteHeader(code int) {
	w.flushSession()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.flushSession()
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// commit runs after the handler. Changes made after the first write are
// still saved; only the cookie for a new session is lost at that point.
func (w *sessionWriter) commit() {
	w.flushSession()
	w.m.save(w.ctx, w.s)
}

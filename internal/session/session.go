// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package session provides the mutable per-user session handle, its stores
// and the HTTP middleware that loads and persists it.
//
// A *Session travels through the request context by pointer. Strategies,
// the CSRF service and handlers all see the same handle, and the middleware
// persists whatever they wrote once the handler returns.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Session-related errors
var (
	// ErrSessionNotFound is returned when a session is not found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the stored session is past its expiry.
	ErrSessionExpired = errors.New("session expired")
)

// Session is a user session. Identity fields are written by the request
// that owns the handle; Values may be touched from anywhere holding it.
type Session struct {
	// ID is the opaque session identifier carried in the session cookie.
	ID string

	// UserID is empty for anonymous sessions.
	UserID   string
	Username string

	Roles       []string
	Permissions []string

	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time

	mu        sync.Mutex
	values    map[string]string
	dirty     bool
	persisted bool
	destroyed bool
}

// New creates an unsaved session with a fresh ID.
func New(ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:             GenerateID(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		values:         make(map[string]string),
	}
}

// GenerateID returns 32 random bytes hex encoded.
func GenerateID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read does not fail on supported platforms
		panic(fmt.Sprintf("session: read random: %v", err))
	}
	return hex.EncodeToString(b)
}

// IsExpired reports whether the session is past ExpiresAt.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool {
	return s.UserID != ""
}

// Get returns a session value.
func (s *Session) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a session value and marks the session for saving.
func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Delete removes a session value.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Values returns a copy of all session values.
func (s *Session) Values() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// MarkDirty forces the session to be saved at the end of the request.
func (s *Session) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Dirty reports whether the session has unsaved changes.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// IsNew reports whether the session has never been saved to a store.
func (s *Session) IsNew() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.persisted
}

func (s *Session) markSaved() {
	s.mu.Lock()
	s.dirty = false
	s.persisted = true
	s.mu.Unlock()
}

func (s *Session) markDestroyed() {
	s.mu.Lock()
	s.destroyed = true
	s.dirty = false
	s.mu.Unlock()
}

func (s *Session) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// record is the stored form of a Session.
type record struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id,omitempty"`
	Username       string            `json:"username,omitempty"`
	Roles          []string          `json:"roles,omitempty"`
	Permissions    []string          `json:"permissions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	Values         map[string]string `json:"values,omitempty"`
}

func encode(s *Session) ([]byte, error) {
	rec := record{
		ID:             s.ID,
		UserID:         s.UserID,
		Username:       s.Username,
		Roles:          s.Roles,
		Permissions:    s.Permissions,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		LastAccessedAt: s.LastAccessedAt,
		Values:         s.Values(),
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	s := &Session{
		ID:             rec.ID,
		UserID:         rec.UserID,
		Username:       rec.Username,
		Roles:          slices.Clone(rec.Roles),
		Permissions:    slices.Clone(rec.Permissions),
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
		LastAccessedAt: rec.LastAccessedAt,
		values:         rec.Values,
		persisted:      true,
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

type contextKey struct{}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session handle on ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}

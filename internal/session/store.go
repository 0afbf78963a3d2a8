// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package session

import (
	"context"
	"sync"
	"time"
)

// Store defines the interface for session storage backends.
type Store interface {
	// Get returns ErrSessionNotFound or ErrSessionExpired when no live
	// session exists for id.
	Get(ctx context.Context, id string) (*Session, error)

	// Save creates or replaces the session.
	Save(ctx context.Context, s *Session) error

	// Delete does not fail when the session does not exist.
	Delete(ctx context.Context, id string) error

	// CleanupExpired removes expired sessions and returns how many it removed.
	CleanupExpired(ctx context.Context) (int, error)
}

// MemoryStore keeps encoded sessions in a map. Suitable for development and
// tests; use BadgerStore to survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry)}
}

// Get implements Store. Each call returns a new handle.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, ErrSessionExpired
	}
	return decode(entry.data)
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[s.ID] = memoryEntry{data: data, expiresAt: s.ExpiresAt}
	m.mu.Unlock()

	s.markSaved()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// CleanupExpired implements Store.
func (m *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for id, entry := range m.sessions {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(m.sessions, id)
			count++
		}
	}
	return count, nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const sessionKeyPrefix = "session:"

// BadgerStore implements Store on BadgerDB. Entries carry a badger TTL
// matching the session expiry so the value log reclaims them on its own;
// CleanupExpired also sweeps them eagerly.
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
}

// NewBadgerStore wraps an already opened database. The caller closes it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens a database at dir, or an in-memory one when dir is
// empty. Close releases it.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger session store: %w", err)
	}
	return &BadgerStore{db: db, ownsDB: true}, nil
}

// Close closes the database if it was opened by OpenBadgerStore.
func (b *BadgerStore) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}

// Get implements Store.
func (b *BadgerStore) Get(_ context.Context, id string) (*Session, error) {
	var s *Session

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return item.Value(func(val []byte) error {
			decoded, derr := decode(val)
			s = decoded
			return derr
		})
	})
	if err != nil {
		return nil, err
	}

	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Save implements Store.
func (b *BadgerStore) Save(_ context.Context, s *Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	entry := badger.NewEntry([]byte(sessionKeyPrefix+s.ID), data)
	if !s.ExpiresAt.IsZero() {
		ttl := time.Until(s.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
		entry = entry.WithTTL(ttl)
	}

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.markSaved()
	return nil
}

// Delete implements Store.
func (b *BadgerStore) Delete(_ context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKeyPrefix + id))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpired implements Store.
func (b *BadgerStore) CleanupExpired(_ context.Context) (int, error) {
	var expired [][]byte

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var s *Session
			if err := item.Value(func(val []byte) error {
				var derr error
				s, derr = decode(val)
				return derr
			}); err != nil {
				continue
			}
			if s.IsExpired() {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}

	count := 0
	for _, key := range expired {
		if err := b.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// Count returns the number of live sessions.
func (b *BadgerStore) Count() (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

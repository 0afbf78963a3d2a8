// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/tomtom215/routeguard/internal/cache"
	"github.com/tomtom215/routeguard/internal/session"
)

// DefaultAPIKeyHeader carries keys formatted as "<id>.<secret>".
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey is a configured machine credential. SecretHash comes from
// HashAPIKeySecret.
type APIKey struct {
	ID          string
	Name        string
	SecretHash  string
	Roles       []string
	Permissions []string
}

// APIKeyStrategy authenticates requests carrying a known API key.
type APIKeyStrategy struct {
	header string
	keys   map[string]APIKey

	// verified maps sha256(presented key) to the key ID it matched.
	verified *cache.LRU[string]
}

// NewAPIKeyStrategy creates the strategy. An empty header uses
// DefaultAPIKeyHeader.
func NewAPIKeyStrategy(keys []APIKey, header string) *APIKeyStrategy {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	byID := make(map[string]APIKey, len(keys))
	for _, k := range keys {
		byID[k.ID] = k
	}
	return &APIKeyStrategy{header: header, keys: byID}
}

// WithVerifiedCache remembers successfully verified keys so repeat requests
// skip the bcrypt comparison. Only a digest of the presented key is stored.
func (s *APIKeyStrategy) WithVerifiedCache(c *cache.LRU[string]) *APIKeyStrategy {
	s.verified = c
	return s
}

// Authenticate implements Strategy.
func (s *APIKeyStrategy) Authenticate(ctx context.Context, r *http.Request, _ string) (*Result, error) {
	raw := strings.TrimSpace(r.Header.Get(s.header))
	if raw == "" {
		return Fail("missing API key"), nil
	}

	id, secret, ok := strings.Cut(raw, ".")
	if !ok || id == "" || secret == "" {
		return Fail("malformed API key"), nil
	}

	digest := ""
	if s.verified != nil {
		sum := sha256.Sum256([]byte(raw))
		digest = hex.EncodeToString(sum[:])
		if cachedID, hit := s.verified.Get(digest); hit && cachedID == id {
			if key, known := s.keys[id]; known {
				return s.success(ctx, key), nil
			}
		}
	}

	key, known := s.keys[id]
	hash := key.SecretHash
	if !known {
		hash = dummyHash()
	}
	if !verifyAPIKeySecret(secret, hash) || !known {
		return Fail("invalid API key"), nil
	}
	if s.verified != nil {
		s.verified.Add(digest, id)
	}
	return s.success(ctx, key), nil
}

func (s *APIKeyStrategy) success(ctx context.Context, key APIKey) *Result {

	identity := Identity{
		"id":          "apikey:" + key.ID,
		"name":        key.Name,
		"roles":       key.Roles,
		"permissions": key.Permissions,
	}
	res := Success(identity, session.FromContext(ctx)).WithClaims(key.Roles, key.Permissions)
	res.Metadata["api_key_id"] = key.ID
	return res
}

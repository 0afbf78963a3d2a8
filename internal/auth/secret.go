// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost used for stored secret hashes.
const DefaultBcryptCost = 12

// HashPassword returns a bcrypt hash for a basic-auth password.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// HashAPIKeySecret hashes the secret part of an API key. The secret is
// SHA-256 reduced first because bcrypt ignores input past 72 bytes.
func HashAPIKeySecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret is required")
	}
	sum := sha256.Sum256([]byte(secret))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt failed: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func verifyAPIKeySecret(secret, hash string) bool {
	sum := sha256.Sum256([]byte(secret))
	return bcrypt.CompareHashAndPassword([]byte(hash), sum[:]) == nil
}

// dummyHash is compared against when the user or key is unknown, so a miss
// still pays for a bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	h, _ := bcrypt.GenerateFromPassword([]byte("routeguard-dummy"), DefaultBcryptCost)
	return string(h)
})

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/tomtom215/routeguard/internal/session"
)

// User is a configured username/password account. PasswordHash is a bcrypt
// hash from HashPassword.
type User struct {
	Username     string
	PasswordHash string
	Roles        []string
	Permissions  []string
}

// BasicStrategy handles HTTP Basic Authentication against configured users.
// The same user table backs the form sign-in handler.
type BasicStrategy struct {
	users map[string]User
	realm string
}

// NewBasicStrategy creates the strategy.
func NewBasicStrategy(users []User, realm string) *BasicStrategy {
	if realm == "" {
		realm = "RouteGuard"
	}
	byName := make(map[string]User, len(users))
	for _, u := range users {
		byName[u.Username] = u
	}
	return &BasicStrategy{users: byName, realm: realm}
}

// Verify checks a username and password. Unknown users still cost a
// bcrypt comparison.
func (s *BasicStrategy) Verify(username, password string) (User, bool) {
	u, known := s.users[username]
	hash := u.PasswordHash
	if !known {
		hash = dummyHash()
	}

	nameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(u.Username)) == 1
	passwordMatch := verifyPassword(password, hash)
	if !known || !nameMatch || !passwordMatch {
		return User{}, false
	}
	return u, true
}

// Authenticate implements Strategy.
func (s *BasicStrategy) Authenticate(ctx context.Context, r *http.Request, _ string) (*Result, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return Fail("missing basic credentials"), nil
	}

	u, valid := s.Verify(username, password)
	if !valid {
		return Fail("invalid username or password"), nil
	}

	identity := Identity{
		"id":          u.Username,
		"username":    u.Username,
		"roles":       u.Roles,
		"permissions": u.Permissions,
	}
	return Success(identity, session.FromContext(ctx)).WithClaims(u.Roles, u.Permissions), nil
}

// WWWAuthenticate implements Challenger.
func (s *BasicStrategy) WWWAuthenticate() string {
	return `Basic realm="` + s.realm + `", charset="UTF-8"`
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/routeguard/internal/session"
)

// Claims are the JWT claims understood by BearerStrategy.
type Claims struct {
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// BearerConfig configures BearerStrategy.
type BearerConfig struct {
	// Secret is the HS256 signing key. At least 32 bytes.
	Secret []byte

	// Issuer and Audience are enforced when set.
	Issuer   string
	Audience string

	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration

	// TTL is the lifetime Issue uses when called with a zero ttl. Zero
	// means DefaultTokenTTL.
	TTL time.Duration
}

// DefaultTokenTTL is the lifetime of issued tokens when none is configured.
const DefaultTokenTTL = time.Hour

// BearerStrategy validates HS256 JWTs from the Authorization header.
type BearerStrategy struct {
	cfg    BearerConfig
	parser *jwt.Parser
}

// NewBearerStrategy creates the strategy.
func NewBearerStrategy(cfg BearerConfig) (*BearerStrategy, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(cfg.Secret))
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &BearerStrategy{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Issue signs a token for subject. A zero ttl uses the configured TTL; a
// negative one yields an already expired token. Used by the issue-token
// command and tests.
func (s *BearerStrategy) Issue(subject, username string, roles, permissions []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	if ttl == 0 {
		ttl = s.cfg.TTL
	}
	now := time.Now()
	claims := &Claims{
		Username:    username,
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate implements Strategy.
func (s *BearerStrategy) Authenticate(ctx context.Context, r *http.Request, _ string) (*Result, error) {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		return Fail("missing bearer token"), nil
	}

	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Fail("token expired"), nil
	case err != nil:
		return Fail("invalid bearer token"), nil
	case !token.Valid:
		return Fail("invalid bearer token"), nil
	}

	subject := claims.Subject
	if subject == "" {
		return Fail("token has no subject"), nil
	}

	identity := Identity{
		"id":          subject,
		"username":    claims.Username,
		"roles":       claims.Roles,
		"permissions": claims.Permissions,
	}
	res := Success(identity, session.FromContext(ctx)).WithClaims(claims.Roles, claims.Permissions)
	if claims.ExpiresAt != nil {
		res.Metadata["token_expires_at"] = claims.ExpiresAt.Unix()
	}
	return res, nil
}

// WWWAuthenticate implements Challenger.
func (s *BearerStrategy) WWWAuthenticate() string {
	return `Bearer realm="RouteGuard"`
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

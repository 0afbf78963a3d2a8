// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package services

import (
	"context"
	"time"

	"github.com/tomtom215/routeguard/internal/logging"
)

// Cleaner removes expired entries. session.Store satisfies it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// CleanupService calls a Cleaner on a fixed interval.
type CleanupService struct {
	name     string
	cleaner  Cleaner
	interval time.Duration
}

// NewCleanupService creates the service. A non-positive interval means
// ten minutes.
func NewCleanupService(name string, cleaner Cleaner, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CleanupService{name: name, cleaner: cleaner, interval: interval}
}

// Serve implements suture.Service. Cleanup errors are logged and retried on
// the next tick rather than restarting the service.
func (c *CleanupService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := c.cleaner.CleanupExpired(ctx)
			if err != nil {
				logging.Warn().Err(err).Str("service", c.name).Msg("Cleanup failed")
				continue
			}
			if removed > 0 {
				logging.Debug().Int("removed", removed).Str("service", c.name).Msg("Expired entries removed")
			}
		}
	}
}

// String implements fmt.Stringer.
func (c *CleanupService) String() string {
	return c.name
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/routeguard/internal/respond"
	"github.com/tomtom215/routeguard/internal/session"
)

// HealthStatus is the health report.
type HealthStatus struct {
	Status       string            `json:"status"`
	SessionStore string            `json:"session_store"`
	Sessions     *int              `json:"sessions,omitempty"`
	Strategies   []string          `json:"strategies"`
	Aliases      map[string]string `json:"aliases,omitempty"`
	AuditEnabled bool              `json:"audit_enabled"`
	Uptime       float64           `json:"uptime_seconds"`
}

// APIResponse wraps health data with a timestamp.
type APIResponse struct {
	Status   string   `json:"status"`
	Data     any      `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Metadata carries response metadata.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

// health reports degraded when the badger store cannot be read.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	registry := s.pipeline.Registry()
	status := HealthStatus{
		Status:       "healthy",
		SessionStore: s.config.Security.Session.Store,
		Strategies:   registry.Names(),
		Aliases:      registry.Aliases(),
		AuditEnabled: s.audit != nil && s.audit.Enabled(),
		Uptime:       time.Since(s.startTime).Seconds(),
	}

	switch store := s.store.(type) {
	case *session.MemoryStore:
		n := store.Len()
		status.Sessions = &n
	case *session.BadgerStore:
		n, err := store.Count()
		if err != nil {
			status.Status = "degraded"
		} else {
			status.Sessions = &n
		}
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respond.JSON(r, code, APIResponse{
		Status:   "success",
		Data:     status,
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	}).Write(w)
}

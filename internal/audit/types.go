// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package audit

import (
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Topic is the watermill topic audit events are published on.
const Topic = "security.events"

// EventType categorizes audit events.
type EventType string

const (
	// Authentication events
	EventTypeAuthSuccess     EventType = "auth.success"
	EventTypeAuthFailure     EventType = "auth.failure"
	EventTypeUnknownStrategy EventType = "auth.unknown_strategy"
	EventTypeLogin           EventType = "auth.login"
	EventTypeLogout          EventType = "auth.logout"

	// Authorization events
	EventTypeAuthzDenied EventType = "authz.denied"

	// Request forgery events
	EventTypeCSRFRejected EventType = "csrf.rejected"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is a security audit event.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`

	// Actor is empty for unauthenticated requests.
	Actor  Actor  `json:"actor"`
	Source Source `json:"source"`

	// Route is the descriptor target of the protected route.
	Route string `json:"route,omitempty"`

	// Strategy is the resolved strategy name, when one was involved.
	Strategy string `json:"strategy,omitempty"`

	Reason string `json:"reason,omitempty"`

	// Metadata contains event-specific details.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// Actor is who made the request.
type Actor struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	SessionID string   `json:"session_id,omitempty"`

	// AuthMethod is the strategy that authenticated the actor.
	AuthMethod string `json:"auth_method,omitempty"`
}

// Source is where a request originated.
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
}

// SourceFromRequest builds a Source from r. The address is taken from
// RemoteAddr, which chi's RealIP middleware has already rewritten when the
// server runs behind a proxy.
func SourceFromRequest(r *http.Request) Source {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return Source{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
	}
}

// mustJSON converts a value to JSON, returning an empty object on error.
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package logging

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Pipeline event names.
const (
	EventStrategyTried   = "strategy_tried"
	EventStrategyResult  = "strategy_result"
	EventUnknownStrategy = "strategy_unknown"
	EventAuthzDenied     = "authz_denied"
	EventCSRFFailed      = "csrf_failed"
)

// SecurityEvent is a security-relevant event emitted by the pipeline.
type SecurityEvent struct {
	Event       string
	Requirement string
	Strategy    string
	UserID      string
	SessionID   string
	IPAddress   string
	Method      string
	Path        string
	Success     bool
	Reason      string
	Duration    time.Duration
	Details     map[string]string
}

// SecurityLogger writes pipeline events with sensitive values masked.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger on top of the global logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: With().Str("component", "security").Logger(),
	}
}

// NewSecurityLoggerWithLogger creates a security logger with a custom zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With().Str("component", "security").Logger(),
	}
}

// LogEvent writes event at the level appropriate for its type.
func (l *SecurityLogger) LogEvent(ctx context.Context, event *SecurityEvent) {
	var e *zerolog.Event
	switch {
	case event.Event == EventUnknownStrategy:
		e = l.logger.Error()
	case event.Event == EventAuthzDenied, event.Event == EventCSRFFailed:
		e = l.logger.Warn()
	case event.Event == EventStrategyTried:
		e = l.logger.Debug()
	case event.Success:
		e = l.logger.Debug()
	default:
		e = l.logger.Info()
	}

	e = e.Str("event", event.Event)
	if event.Success {
		e = e.Str("status", "success")
	} else if event.Event != EventStrategyTried {
		e = e.Str("status", "failed")
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		e = e.Str("correlation_id", id)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		e = e.Str("request_id", id)
	}
	if event.Requirement != "" {
		e = e.Str("requirement", event.Requirement)
	}
	if event.Strategy != "" {
		e = e.Str("strategy", event.Strategy)
	}
	if event.UserID != "" {
		e = e.Str("user_id", SanitizeUserID(event.UserID))
	}
	if event.SessionID != "" {
		e = e.Str("session_id", SanitizeSessionID(event.SessionID))
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.Method != "" {
		e = e.Str("method", event.Method)
	}
	if event.Path != "" {
		e = e.Str("path", event.Path)
	}
	if event.Reason != "" && !event.Success {
		e = e.Str("reason", truncateString(event.Reason, 200))
	}
	if event.Duration > 0 {
		e = e.Dur("duration", event.Duration)
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}

	e.Msg("")
}

// StrategyTried records that the chain is about to invoke a strategy.
func (l *SecurityLogger) StrategyTried(ctx context.Context, requirement, strategy, ip string) {
	l.LogEvent(ctx, &SecurityEvent{
		Event:       EventStrategyTried,
		Requirement: requirement,
		Strategy:    strategy,
		IPAddress:   ip,
	})
}

// StrategyResult records the outcome of one strategy attempt.
func (l *SecurityLogger) StrategyResult(ctx context.Context, requirement, strategy string, success bool, reason string, d time.Duration) {
	l.LogEvent(ctx, &SecurityEvent{
		Event:       EventStrategyResult,
		Requirement: requirement,
		Strategy:    strategy,
		Success:     success,
		Reason:      reason,
		Duration:    d,
	})
}

// UnknownStrategy records a route referencing a strategy that was never registered.
func (l *SecurityLogger) UnknownStrategy(ctx context.Context, requirement, path string) {
	l.LogEvent(ctx, &SecurityEvent{
		Event:       EventUnknownStrategy,
		Requirement: requirement,
		Path:        path,
		Reason:      "strategy not configured",
	})
}

// AuthzDenied records a role/permission denial.
func (l *SecurityLogger) AuthzDenied(ctx context.Context, kind, userID, path string, required, actual []string) {
	l.LogEvent(ctx, &SecurityEvent{
		Event:  EventAuthzDenied,
		UserID: userID,
		Path:   path,
		Reason: "insufficient " + kind,
		Details: map[string]string{
			"claim_kind": kind,
			"required":   strings.Join(required, ","),
			"actual":     strings.Join(actual, ","),
		},
	})
}

// CSRFFailure records a rejected state-changing request.
func (l *SecurityLogger) CSRFFailure(ctx context.Context, reason, ip, method, path string) {
	l.LogEvent(ctx, &SecurityEvent{
		Event:     EventCSRFFailed,
		IPAddress: ip,
		Method:    method,
		Path:      path,
		Reason:    reason,
	})
}

// SanitizeToken masks a token, showing only the first and last 4 characters.
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeSessionID masks a session ID the same way as a token.
func SanitizeSessionID(sessionID string) string {
	return SanitizeToken(sessionID)
}

// SanitizeUserID masks a user ID for privacy.
// Example: "user-12345678" -> "user...5678"
func SanitizeUserID(userID string) string {
	if userID == "" {
		return ""
	}
	if len(userID) <= 8 {
		return "***"
	}
	return userID[:4] + "..." + userID[len(userID)-4:]
}

var sensitiveKeys = map[string]bool{
	"token":         true,
	"csrf_token":    true,
	"password":      true,
	"secret":        true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"bearer":        true,
	"cookie":        true,
	"session":       true,
	"session_id":    true,
}

// SanitizeValue masks value when key names a credential.
func SanitizeValue(key, value string) string {
	if sensitiveKeys[strings.ToLower(key)] {
		return SanitizeToken(value)
	}
	return value
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

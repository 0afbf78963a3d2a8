// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/metrics"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit events are published.
	Enabled bool

	// LogLevel filters events by minimum severity.
	LogLevel Severity

	// BufferSize is the size of the async publish buffer.
	BufferSize int

	// IncludeDebug includes debug-level events.
	IncludeDebug bool
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		LogLevel:   SeverityInfo,
		BufferSize: 1000,
	}
}

// NewPubSub creates the in-process watermill transport for audit events.
func NewPubSub(outputBuffer int64) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: outputBuffer},
		watermill.NewSlogLogger(logging.NewSlogLogger("watermill")),
	)
}

// Logger publishes audit events asynchronously.
type Logger struct {
	config    *Config
	publisher message.Publisher
	eventChan chan *Event

	mu       sync.RWMutex
	closed   bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewLogger creates an audit logger publishing to pub. A nil pub creates a
// logger that drops everything, which keeps callers free of nil checks.
func NewLogger(pub message.Publisher, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	l := &Logger{
		config:    config,
		publisher: pub,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			// drain what is already buffered
			for {
				select {
				case event := <-l.eventChan:
					l.publish(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.publish(event)
		}
	}
}

func (l *Logger) publish(event *Event) {
	if l.publisher == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		metrics.AuditEventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to marshal audit event")
		return
	}

	msg := message.NewMessage(event.ID, data)
	msg.Metadata.Set("type", string(event.Type))
	msg.Metadata.Set("severity", string(event.Severity))
	if event.CorrelationID != "" {
		msg.Metadata.Set("correlation_id", event.CorrelationID)
	}

	if err := l.publisher.Publish(Topic, msg); err != nil {
		metrics.AuditEventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to publish audit event")
		return
	}
	metrics.AuditEventsPublished.WithLabelValues(string(event.Type), "published").Inc()
}

// Log records an audit event. It never blocks.
func (l *Logger) Log(ctx context.Context, event *Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed || !l.config.Enabled || !l.shouldLog(event.Severity) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if ctx != nil {
		if event.RequestID == "" {
			event.RequestID = logging.RequestIDFromContext(ctx)
		}
		if event.CorrelationID == "" {
			event.CorrelationID = logging.CorrelationIDFromContext(ctx)
		}
	}

	select {
	case l.eventChan <- event:
	default:
		metrics.AuditEventsPublished.WithLabelValues(string(event.Type), "dropped").Inc()
		logging.Warn().Str("event_id", event.ID).Msg("Audit event buffer full, dropping event")
	}
}

func (l *Logger) shouldLog(severity Severity) bool {
	if severity == SeverityDebug && !l.config.IncludeDebug {
		return false
	}
	return severityOrder[severity] >= severityOrder[l.config.LogLevel]
}

// Close flushes buffered events and closes the publisher.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stopChan)
	l.wg.Wait()

	if l.publisher != nil {
		return l.publisher.Close()
	}
	return nil
}

// SetEnabled enables or disables audit publishing.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Enabled = enabled
}

// Enabled returns whether audit publishing is enabled.
func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Enabled
}

// AuthSuccess records a successful authentication on a protected route.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) AuthSuccess(ctx context.Context, actor Actor, source Source, route string) {
	l.Log(ctx, &Event{
		Type:     EventTypeAuthSuccess,
		Severity: SeverityDebug,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Route:    route,
		Strategy: actor.AuthMethod,
	})
}

// AuthFailure records an exhausted authentication chain.
func (l *Logger) AuthFailure(ctx context.Context, source Source, route string, attempted, reasons []string) {
	l.Log(ctx, &Event{
		Type:     EventTypeAuthFailure,
		Severity: SeverityWarning,
		Outcome:  OutcomeFailure,
		Source:   source,
		Route:    route,
		Reason:   strings.Join(reasons, "; "),
		Metadata: mustJSON(map[string][]string{
			"attempted_strategies": attempted,
			"failure_reasons":      reasons,
		}),
	})
}

// UnknownStrategy records a route naming a strategy that is not registered.
func (l *Logger) UnknownStrategy(ctx context.Context, source Source, route, requirement string) {
	l.Log(ctx, &Event{
		Type:     EventTypeUnknownStrategy,
		Severity: SeverityError,
		Outcome:  OutcomeFailure,
		Source:   source,
		Route:    route,
		Strategy: requirement,
		Reason:   "strategy not configured: " + requirement,
	})
}

// AuthzDenied records an authorization denial.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) AuthzDenied(ctx context.Context, actor Actor, source Source, route, kind string, required, actual []string) {
	l.Log(ctx, &Event{
		Type:     EventTypeAuthzDenied,
		Severity: SeverityWarning,
		Outcome:  OutcomeFailure,
		Actor:    actor,
		Source:   source,
		Route:    route,
		Strategy: actor.AuthMethod,
		Reason:   "insufficient " + kind,
		Metadata: mustJSON(map[string]any{
			"kind":     kind,
			"required": required,
			"actual":   actual,
		}),
	})
}

// CSRFRejected records an unsafe request rejected for its anti-forgery token.
func (l *Logger) CSRFRejected(ctx context.Context, source Source, route, reason string) {
	l.Log(ctx, &Event{
		Type:     EventTypeCSRFRejected,
		Severity: SeverityWarning,
		Outcome:  OutcomeFailure,
		Source:   source,
		Route:    route,
		Reason:   reason,
	})
}

// Login records a session sign-in.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) Login(ctx context.Context, actor Actor, source Source, success bool, reason string) {
	outcome, severity := OutcomeSuccess, SeverityInfo
	if !success {
		outcome, severity = OutcomeFailure, SeverityWarning
	}
	l.Log(ctx, &Event{
		Type:     EventTypeLogin,
		Severity: severity,
		Outcome:  outcome,
		Actor:    actor,
		Source:   source,
		Reason:   reason,
	})
}

// Logout records a session sign-out.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) Logout(ctx context.Context, actor Actor, source Source) {
	l.Log(ctx, &Event{
		Type:     EventTypeLogout,
		Severity: SeverityInfo,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
	})
}

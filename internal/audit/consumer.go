// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package audit

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/routeguard/internal/logging"
)

// Consumer subscribes to the audit topic and writes each event to the
// structured log. It implements suture.Service.
type Consumer struct {
	subscriber message.Subscriber
	logger     zerolog.Logger
	handled    atomic.Int64
	handler    func(*Event)
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithEventHandler adds a callback run for every decoded event, after it is
// logged.
func WithEventHandler(fn func(*Event)) ConsumerOption {
	return func(c *Consumer) { c.handler = fn }
}

// WithConsumerLogger overrides the output logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithConsumerLogger(l zerolog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// NewConsumer creates a consumer reading from sub.
func NewConsumer(sub message.Subscriber, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		subscriber: sub,
		logger:     logging.WithComponent("audit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Serve consumes until ctx is cancelled or the subscription closes.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", Topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(msg)
		}
	}
}

func (c *Consumer) handle(msg *message.Message) {
	// malformed events are acked too, redelivery would not fix them
	defer msg.Ack()

	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Discarding malformed audit event")
		return
	}
	c.handled.Add(1)

	e := c.logger.Info()
	if event.Outcome == OutcomeFailure {
		e = c.logger.Warn()
	}
	e.Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Str("outcome", string(event.Outcome)).
		Str("route", event.Route).
		Str("ip", event.Source.IPAddress).
		RawJSON("event", msg.Payload).
		Msg("Audit event")

	if c.handler != nil {
		c.handler(&event)
	}
}

// Handled returns how many events were decoded.
func (c *Consumer) Handled() int64 { return c.handled.Load() }

// String names the service in supervisor logs.
func (c *Consumer) String() string { return "audit-consumer" }

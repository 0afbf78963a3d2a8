// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package audit publishes security audit events for the route pipeline.
//
// Events describe pipeline decisions: successful and failed authentication,
// unknown strategy references, authorization denials, CSRF rejections and
// session sign-in/sign-out.
//
// # Architecture
//
//	Logger.Log() -> Event Buffer (chan) -> Async Writer -> watermill Publisher
//	                                                           |
//	                                      Consumer <- topic "security.events"
//
// Log never blocks the request: events are buffered and a background
// goroutine marshals them with goccy/go-json and publishes one watermill
// message per event. When the buffer is full the event is dropped and a
// warning logged.
//
// The default transport is an in-process watermill gochannel (NewPubSub).
// Any message.Publisher works, so events can be forwarded to a broker
// without touching the pipeline.
//
// # Usage
//
//	pubsub := audit.NewPubSub(256)
//	logger := audit.NewLogger(pubsub, audit.DefaultConfig())
//	defer logger.Close()
//
//	consumer := audit.NewConsumer(pubsub)
//	go consumer.Serve(ctx)
//
//	logger.AuthzDenied(ctx, actor, audit.SourceFromRequest(r), "/admin", "roles",
//	    []string{"admin"}, []string{"viewer"})
//
// # Severity
//
// Events below Config.LogLevel are discarded before publishing. Debug events
// additionally require Config.IncludeDebug.
package audit

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

/*
Package supervisor runs RouteGuard's long-lived goroutines under a suture v4
supervisor tree, so a crashed service is restarted with backoff instead of
taking the process down.

	routeguard (root)
	├── security-layer
	│   ├── audit-consumer
	│   └── session-cleanup
	└── api-layer
	    └── http-server

The security layer is separate from the API layer: a failing audit consumer
restarts on its own while the HTTP server keeps serving.

Supervisor events are logged through sutureslog into the zerolog stream:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	tree.AddSecurityService(consumer)
	tree.AddAPIService(services.NewHTTPServerService(srv, srv.Addr, 10*time.Second))
	err = tree.Serve(ctx)

Services are in the services subpackage.
*/
package supervisor

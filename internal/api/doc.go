// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

/*
Package api assembles the RouteGuard HTTP server from configuration.

New builds the strategy set, the session store, the CSRF service, the role
hierarchy, the audit stream and the pipeline, then mounts every configured
route behind pipeline.Protect:

	cfg, _ := config.Load()
	srv, err := api.New(cfg)
	if err != nil {
	    return err
	}
	defer srv.Close()
	http.ListenAndServe(srv.Addr(), srv.Handler())

Route declarations name a handler as their target. The built-in handlers:

  - whoami: the authentication result of the request as JSON
  - csrf_token: the anti-forgery token bound to the caller
  - signin: form sign-in against the configured users
  - signout: ends the session
  - health: service status

Outside the route table the router always serves /healthz and /metrics.
*/
package api

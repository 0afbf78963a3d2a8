// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package main is the routeguard command.
//
// Commands:
//
//	routeguard serve [--config routeguard.yaml]
//	routeguard describe "dashboard auth=session,apikey role=admin"
//	routeguard hash-secret --kind password
//	routeguard issue-token --subject svc-deploy --role deployer
//
// serve loads configuration with koanf (defaults, then the config file,
// then ROUTEGUARD_ environment variables), builds the HTTP server and runs
// it with the audit consumer and session cleanup under a suture supervisor
// tree until SIGINT or SIGTERM.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "routeguard",
		Short:         "Route-level authentication, authorization and CSRF pipeline",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCmd(),
		describeCmd(),
		hashSecretCmd(),
		issueTokenCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

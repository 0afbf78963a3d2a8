// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/routeguard/internal/api"
	"github.com/tomtom215/routeguard/internal/config"
	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/supervisor"
	"github.com/tomtom215/routeguard/internal/supervisor/services"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logging.Init(logging.Config{
				Level:     cfg.Logging.Level,
				Format:    cfg.Logging.Format,
				Caller:    cfg.Logging.Caller,
				Timestamp: true,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"config file (default: $"+config.ConfigPathEnvVar+" or the first of "+fmt.Sprint(config.DefaultConfigPaths)+")")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func serve(ctx context.Context, cfg *config.Config) error {
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("session_store", cfg.Security.Session.Store).
		Strs("strategies", cfg.Security.EnabledStrategies()).
		Int("routes", len(cfg.Routes)).
		Msg("Starting RouteGuard")

	srv, err := api.New(cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close server resources")
		}
	}()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if consumer := srv.Consumer(); consumer != nil {
		tree.AddSecurityService(consumer)
	}
	if store := srv.SessionStore(); store != nil && cfg.Security.Session.CleanupInterval > 0 {
		tree.AddSecurityService(services.NewCleanupService("session-cleanup", store, cfg.Security.Session.CleanupInterval))
	}
	httpServer := srv.HTTPServer()
	tree.AddAPIService(services.NewHTTPServerService(httpServer, httpServer.Addr, cfg.Server.ShutdownTimeout))

	err = tree.Serve(ctx)

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	logging.Info().Msg("RouteGuard stopped")
	return nil
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/routeguard/internal/auth"
)

func issueTokenCmd() *cobra.Command {
	var (
		configPath  string
		subject     string
		username    string
		roles       []string
		permissions []string
		ttl         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a bearer token with the configured JWT secret",
		Long: `Sign an HS256 bearer token for a machine client. The secret, issuer and
audience come from security.jwt; the lifetime defaults to security.jwt.ttl.`,
		Example: `  routeguard issue-token --config routeguard.yaml --subject svc-deploy --role deployer`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			jwtCfg := cfg.Security.JWT
			if jwtCfg.Secret == "" {
				return errors.New("security.jwt.secret is not configured")
			}

			bearer, err := auth.NewBearerStrategy(auth.BearerConfig{
				Secret:   []byte(jwtCfg.Secret),
				Issuer:   jwtCfg.Issuer,
				Audience: jwtCfg.Audience,
				Leeway:   jwtCfg.Leeway,
				TTL:      jwtCfg.TTL,
			})
			if err != nil {
				return err
			}

			token, err := bearer.Issue(subject, username, roles, permissions, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file")
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (required)")
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim, repeatable")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "permission claim, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: security.jwt.ttl)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

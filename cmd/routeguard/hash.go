// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomtom215/routeguard/internal/auth"
)

func hashSecretCmd() *cobra.Command {
	var (
		kind  string
		cost  int
		value string
	)

	cmd := &cobra.Command{
		Use:   "hash-secret",
		Short: "Hash a password or API key secret for the config file",
		Long: `Hash a password (security.users[].password_hash) or the secret part of
an API key (security.api_keys[].secret_hash). The value is read from the
first line of stdin unless --value is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := value
			if secret == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no secret on stdin")
				}
				secret = strings.TrimRight(line, "\r\n")
			}

			var (
				hash string
				err  error
			)
			switch kind {
			case "password":
				hash, err = auth.HashPassword(secret, cost)
			case "apikey":
				hash, err = auth.HashAPIKeySecret(secret, cost)
			default:
				return fmt.Errorf("unknown kind %q (want password or apikey)", kind)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "password", "password or apikey")
	cmd.Flags().IntVar(&cost, "cost", auth.DefaultBcryptCost, "bcrypt cost")
	cmd.Flags().StringVar(&value, "value", "", "secret to hash (default: read stdin)")
	return cmd
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/routeguard/internal/descriptor"
)

// describeOutput is the JSON rendering of a parsed declaration.
type describeOutput struct {
	Target      string            `json:"target"`
	Canonical   string            `json:"canonical"`
	Anonymous   bool              `json:"anonymous"`
	Auth        []string          `json:"auth"`
	Roles       []string          `json:"roles"`
	Permissions []string          `json:"permissions"`
	CSRFExempt  bool              `json:"csrf_exempt"`
	Response    string            `json:"response,omitempty"`
	Unknown     []string          `json:"unknown_strategies,omitempty"`
	Options     map[string]string `json:"options"`
}

func describeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "describe <declaration>",
		Short: "Parse a route declaration and print what it requires",
		Example: `  routeguard describe "dashboard auth=session,apikey role=admin"
  routeguard describe --config routeguard.yaml "reports auth=ldap"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := descriptor.Parse(strings.Join(args, " "))
			out := describeOutput{
				Target:      desc.Target(),
				Canonical:   desc.String(),
				Anonymous:   desc.Anonymous(),
				Auth:        nonNil(desc.Auth()),
				Roles:       nonNil(desc.Roles()),
				Permissions: nonNil(desc.Permissions()),
				CSRFExempt:  desc.CSRFExempt(),
				Response:    string(desc.Format()),
				Options:     desc.Options(),
			}

			if cmd.Flags().Changed("config") {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				enabled := cfg.Security.EnabledStrategies()
				if cfg.Security.DefaultStrategy != "" {
					enabled = append(enabled, "default")
				}
				for _, req := range desc.Auth() {
					name, _, _ := strings.Cut(req, ":")
					if !slices.Contains(enabled, req) && !slices.Contains(enabled, name) {
						out.Unknown = append(out.Unknown, req)
					}
				}
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("encode descriptor: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "check auth= entries against this config")
	return cmd
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

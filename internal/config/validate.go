// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and then the cross-field rules.
func (c *Config) Validate() error {
	if err := c.validateTags(); err != nil {
		return err
	}

	checks := []func() error{
		c.validateDefaultStrategy,
		c.validateBreaker,
		c.validateRoutes,
		c.validateProduction,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateTags() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	messages := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		messages = append(messages, translateError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
}

var errorMessageWithParam = map[string]string{
	"oneof":      "%s must be one of: %s",
	"gte":        "%s must be greater than or equal to %s",
	"gt":         "%s must be greater than %s",
	"startswith": "%s must start with %q",
	"excludes":   "%s must not contain %q",
}

func translateError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch tag := fe.Tag(); tag {
	case "required":
		return field + " is required"
	case "min", "max":
		bound := "at least"
		if tag == "max" {
			bound = "at most"
		}
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("%s must be %s %s characters", field, bound, fe.Param())
		}
		return fmt.Sprintf("%s must be %s %s", field, bound, fe.Param())
	default:
		if template, ok := errorMessageWithParam[tag]; ok {
			return fmt.Sprintf(template, field, fe.Param())
		}
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}

func (c *Config) validateDefaultStrategy() error {
	name := c.Security.DefaultStrategy
	if name == "" {
		return nil
	}
	if !slices.Contains(c.Security.EnabledStrategies(), name) {
		return fmt.Errorf("%w: security.default_strategy %q is not enabled (enabled: %s)",
			ErrInvalidConfig, name, strings.Join(c.Security.EnabledStrategies(), ", "))
	}
	return nil
}

func (c *Config) validateBreaker() error {
	enabled := c.Security.EnabledStrategies()
	for _, name := range c.Security.Breaker.Strategies {
		if !slices.Contains(enabled, name) {
			return fmt.Errorf("%w: security.breaker.strategies names %q, which is not enabled", ErrInvalidConfig, name)
		}
	}
	return nil
}

// validateRoutes only checks the handler name and duplicate bindings.
// Unknown strategies in a declaration are allowed here; they reject at
// request time with "strategy not configured" so one bad route cannot stop
// the server.
func (c *Config) validateRoutes() error {
	seen := make(map[string]bool, len(c.Routes))
	for i, route := range c.Routes {
		fields := strings.Fields(route.Declaration)
		if len(fields) == 0 || strings.Contains(fields[0], "=") {
			return fmt.Errorf("%w: routes[%d] declaration %q does not start with a handler name",
				ErrInvalidConfig, i, route.Declaration)
		}
		key := route.Method + " " + route.Path
		if seen[key] {
			return fmt.Errorf("%w: routes[%d] duplicates %s", ErrInvalidConfig, i, key)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) validateProduction() error {
	if !c.IsProduction() {
		return nil
	}
	if !c.Security.Session.CookieSecure || !c.Security.CSRF.CookieSecure {
		return fmt.Errorf("%w: secure cookies are required in production", ErrInvalidConfig)
	}
	if c.Security.CSRF.Key == "" {
		return fmt.Errorf("%w: security.csrf.key is required in production", ErrInvalidConfig)
	}
	return nil
}

// UnknownRouteStrategies returns the auth= entries in routes that no
// enabled strategy can resolve, for startup warnings.
func (c *Config) UnknownRouteStrategies() []string {
	enabled := c.Security.EnabledStrategies()
	if c.Security.DefaultStrategy != "" {
		enabled = append(enabled, "default")
	}

	var unknown []string
	for _, route := range c.Routes {
		fields := strings.Fields(route.Declaration)
		if len(fields) < 2 {
			continue
		}
		for _, tok := range fields[1:] {
			value, ok := strings.CutPrefix(tok, "auth=")
			if !ok {
				continue
			}
			for _, req := range strings.Split(value, ",") {
				req = strings.TrimSpace(req)
				name, _, _ := strings.Cut(req, ":")
				if req != "" && !slices.Contains(enabled, req) && !slices.Contains(enabled, name) &&
					!slices.Contains(unknown, req) {
					unknown = append(unknown, req)
				}
			}
		}
	}
	return unknown
}

// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package descriptor parses route security declarations.
//
// A declaration is a handler target followed by key=value options:
//
//	dashboard auth=session,apikey role=admin,editor csrf=exempt response=json
//
// Parsing never fails. Malformed tokens are skipped. The resulting
// Descriptor is immutable and safe to share between goroutines.
package descriptor

import (
	"maps"
	"slices"
	"sort"
	"strings"
)

// Format is the declared response format for security failures.
type Format string

// Response formats. FormatUnset means the negotiator falls back to the
// Accept header.
const (
	FormatUnset    Format = ""
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatRedirect Format = "redirect"
	FormatAuto     Format = "auto"
)

// Option keys understood by Parse.
const (
	KeyAuth       = "auth"
	KeyRole       = "role"
	KeyPermission = "permission"
	KeyCSRF       = "csrf"
	KeyResponse   = "response"
)

// Descriptor is the parsed security declaration of a route.
type Descriptor struct {
	target      string
	auth        []string
	roles       []string
	permissions []string
	csrfExempt  bool
	format      Format
	options     map[string]string
}

// Parse builds a Descriptor from a route declaration.
func Parse(decl string) *Descriptor {
	d := &Descriptor{options: make(map[string]string)}

	fields := strings.Fields(decl)
	if len(fields) == 0 {
		return d
	}
	d.target = fields[0]

	for _, tok := range fields[1:] {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			continue
		}
		d.options[key] = value

		switch key {
		case KeyAuth:
			d.auth = splitList(value)
		case KeyRole:
			d.roles = splitList(value)
		case KeyPermission:
			d.permissions = splitList(value)
		case KeyCSRF:
			d.csrfExempt = value == "exempt"
		case KeyResponse:
			d.format = parseFormat(value)
		}
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFormat(value string) Format {
	switch f := Format(strings.ToLower(value)); f {
	case FormatJSON, FormatHTML, FormatRedirect, FormatAuto:
		return f
	default:
		return FormatUnset
	}
}

// Target is the handler name, the first token of the declaration.
func (d *Descriptor) Target() string { return d.target }

// Auth returns the ordered authentication requirements.
func (d *Descriptor) Auth() []string { return slices.Clone(d.auth) }

// Roles returns the required roles (any one suffices).
func (d *Descriptor) Roles() []string { return slices.Clone(d.roles) }

// Permissions returns the required permissions (any one suffices).
func (d *Descriptor) Permissions() []string { return slices.Clone(d.permissions) }

// CSRFExempt reports whether csrf=exempt was declared.
func (d *Descriptor) CSRFExempt() bool { return d.csrfExempt }

// Format returns the declared response format.
func (d *Descriptor) Format() Format { return d.format }

// Anonymous reports whether the route declares no authentication.
func (d *Descriptor) Anonymous() bool { return len(d.auth) == 0 }

// Option returns a raw option value.
func (d *Descriptor) Option(key string) (string, bool) {
	v, ok := d.options[key]
	return v, ok
}

// Options returns a copy of all parsed options.
func (d *Descriptor) Options() map[string]string { return maps.Clone(d.options) }

// Equal reports value equality.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.target == other.target &&
		slices.Equal(d.auth, other.auth) &&
		slices.Equal(d.roles, other.roles) &&
		slices.Equal(d.permissions, other.permissions) &&
		d.csrfExempt == other.csrfExempt &&
		d.format == other.format &&
		maps.Equal(d.options, other.options)
}

// String renders the canonical declaration with options sorted by key.
// Parse(d.String()) is Equal to d.
func (d *Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.target)

	keys := make([]string, 0, len(d.options))
	for k := range d.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.options[k])
	}
	return b.String()
}

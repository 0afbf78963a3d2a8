// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package authz

import (
	_ "embed"
	"fmt"
	"slices"
	"sort"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var embeddedModel string

// HierarchyConfig describes role inheritance and role-granted permissions.
type HierarchyConfig struct {
	// Inherits maps a role to the roles it includes, e.g. admin -> [editor].
	Inherits map[string][]string

	// Grants maps a role to the permissions it carries.
	Grants map[string][]string
}

// Hierarchy expands caller claims using casbin RBAC grouping rules.
// It is built once and read-only afterwards.
type Hierarchy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewHierarchy builds a hierarchy. It returns nil, nil for an empty config
// so callers can pass the result straight to WithHierarchy.
func NewHierarchy(cfg HierarchyConfig) (*Hierarchy, error) {
	if len(cfg.Inherits) == 0 && len(cfg.Grants) == 0 {
		return nil, nil
	}

	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	for _, role := range sortedKeys(cfg.Inherits) {
		for _, parent := range cfg.Inherits[role] {
			if role == parent {
				continue
			}
			if _, err := enforcer.AddGroupingPolicy(role, parent); err != nil {
				return nil, fmt.Errorf("failed to add role rule %s -> %s: %w", role, parent, err)
			}
		}
	}
	for _, role := range sortedKeys(cfg.Grants) {
		for _, perm := range cfg.Grants[role] {
			if _, err := enforcer.AddPolicy(role, perm); err != nil {
				return nil, fmt.Errorf("failed to add grant %s -> %s: %w", role, perm, err)
			}
		}
	}
	return &Hierarchy{enforcer: enforcer}, nil
}

// ExpandRoles returns roles plus every role they inherit, deduplicated and
// in first-seen order.
func (h *Hierarchy) ExpandRoles(roles []string) []string {
	out := slices.Clone(roles)
	for _, role := range roles {
		implied, err := h.enforcer.GetImplicitRolesForUser(role)
		if err != nil {
			continue
		}
		out = appendMissing(out, implied...)
	}
	return out
}

// ExpandPermissions returns permissions plus every permission granted to
// roles or to roles they inherit.
func (h *Hierarchy) ExpandPermissions(roles, permissions []string) []string {
	out := slices.Clone(permissions)
	for _, role := range h.ExpandRoles(roles) {
		perms, err := h.enforcer.GetPermissionsForUser(role)
		if err != nil {
			continue
		}
		for _, p := range perms {
			if len(p) >= 2 {
				out = appendMissing(out, p[1])
			}
		}
	}
	return out
}

// Allows reports whether a caller with roles holds perm directly or
// through inheritance.
func (h *Hierarchy) Allows(roles []string, perm string) bool {
	for _, role := range roles {
		ok, err := h.enforcer.Enforce(role, perm)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// Rules returns the grouping rules as [member, parent] pairs.
func (h *Hierarchy) Rules() [][]string {
	rules, _ := h.enforcer.GetGroupingPolicy()
	return rules
}

func appendMissing(dst []string, vals ...string) []string {
	for _, v := range vals {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

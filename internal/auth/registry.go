// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package auth

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry maps strategy names to implementations. It is mutable until
// sealed, then read-only. Resolutions are cached per requirement string.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	aliases    map[string]string
	sealed     atomic.Bool

	cache sync.Map // requirement -> resolution
}

type resolution struct {
	strategy Strategy
	name     string
	ok       bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		aliases:    make(map[string]string),
	}
}

// Register binds name to s.
func (g *Registry) Register(name string, s Strategy) error {
	if name == "" {
		return errors.New("strategy name is required")
	}
	if s == nil {
		return fmt.Errorf("strategy %q is nil", name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed.Load() {
		return fmt.Errorf("register %q: %w", name, ErrRegistrySealed)
	}
	if g.bound(name) {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateStrategy)
	}
	g.strategies[name] = s
	return nil
}

// Alias makes alias resolve to the strategy registered as target. The
// resolved name reported for the alias is target.
func (g *Registry) Alias(alias, target string) error {
	if alias == "" || target == "" {
		return errors.New("alias and target are required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed.Load() {
		return fmt.Errorf("alias %q: %w", alias, ErrRegistrySealed)
	}
	if g.bound(alias) {
		return fmt.Errorf("alias %q: %w", alias, ErrDuplicateStrategy)
	}
	if _, ok := g.strategies[target]; !ok {
		return fmt.Errorf("alias %q -> %q: %w", alias, target, ErrUnknownStrategy)
	}
	g.aliases[alias] = target
	return nil
}

// bound must be called with mu held.
func (g *Registry) bound(name string) bool {
	_, s := g.strategies[name]
	_, a := g.aliases[name]
	return s || a
}

// Seal freezes the registry. Safe to call more than once.
func (g *Registry) Seal() {
	g.mu.Lock()
	g.sealed.Store(true)
	g.mu.Unlock()
}

// Sealed reports whether the registry is frozen.
func (g *Registry) Sealed() bool {
	return g.sealed.Load()
}

// Resolve finds the strategy for requirement: exact name first, then the
// part before the first ':'. The first call seals the registry.
func (g *Registry) Resolve(requirement string) (Strategy, string, bool) {
	if !g.sealed.Load() {
		g.Seal()
	}

	if v, ok := g.cache.Load(requirement); ok {
		res := v.(resolution)
		return res.strategy, res.name, res.ok
	}

	res := g.lookup(requirement)
	if !res.ok {
		if prefix, _, found := strings.Cut(requirement, ":"); found && prefix != "" {
			res = g.lookup(prefix)
		}
	}

	v, _ := g.cache.LoadOrStore(requirement, res)
	res = v.(resolution)
	return res.strategy, res.name, res.ok
}

func (g *Registry) lookup(name string) resolution {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if s, ok := g.strategies[name]; ok {
		return resolution{strategy: s, name: name, ok: true}
	}
	if target, ok := g.aliases[name]; ok {
		return resolution{strategy: g.strategies[target], name: target, ok: true}
	}
	return resolution{}
}

// Challenges returns the distinct WWW-Authenticate values of the strategies
// requirements resolve to, in requirement order.
func (g *Registry) Challenges(requirements []string) []string {
	var out []string
	for _, req := range requirements {
		s, _, ok := g.Resolve(req)
		if !ok {
			continue
		}
		c, ok := s.(Challenger)
		if !ok {
			continue
		}
		if v := c.WWWAuthenticate(); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Names returns the registered strategy names, sorted.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.strategies))
	for name := range g.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns a copy of the alias table.
func (g *Registry) Aliases() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]string, len(g.aliases))
	for k, v := range g.aliases {
		out[k] = v
	}
	return out
}

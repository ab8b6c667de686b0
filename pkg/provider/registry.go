// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package provider hosts the provider registry and the policies that
// parameterize provider calls: permission-mode resolution and option
// merging. Concrete transport adapters register themselves here.
package provider

import (
	"fmt"
	"sort"

	"github.com/takt-labs/takt/internal/csync"
	"github.com/takt-labs/takt/pkg/types"
)

// Factory constructs a provider from its merged option map.
type Factory func(options map[string]any) (types.Provider, error)

// Registry maps provider names to factories. Safe for concurrent use.
type Registry struct {
	factories *csync.Map[string, Factory]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: csync.NewMap[string, Factory]()}
}

// Register installs a factory under a name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.factories.Set(name, f)
}

// Open constructs the named provider with the given options.
func (r *Registry) Open(name string, options map[string]any) (types.Provider, error) {
	f, ok := r.factories.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", name, r.Names())
	}
	return f(options)
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	var names []string
	for name := range r.factories.Seq2() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the process-wide registry used by the CLI.
var Default = NewRegistry()

// Register installs a factory in the default registry.
func Register(name string, f Factory) {
	Default.Register(name, f)
}

// Open constructs a provider from the default registry.
func Open(name string, options map[string]any) (types.Provider, error) {
	return Default.Open(name, options)
}

// MergeOptions overlays override on base without mutating either.
// Used to stack piece-level provider options over the global config.
func MergeOptions(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package facet resolves reusable prompt fragments (personas, policies,
// knowledge, instructions, output contracts) across three layers:
// project-local, user-global, and built-in.
package facet

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/takt-labs/takt/embedded"
	"github.com/takt-labs/takt/pkg/config"
	"github.com/takt-labs/takt/pkg/types"
)

var (
	// ErrFacetNotFound means no layer contains the requested facet.
	ErrFacetNotFound = errors.New("facet not found")

	// ErrFacetExists means an ejection target already exists.
	ErrFacetExists = errors.New("facet already exists")
)

// Store resolves facet references. Reads only; resolution is idempotent.
type Store struct {
	projectDir string
	userDir    string
	builtin    fs.FS
}

// NewStore creates a store rooted at the given project working directory.
func NewStore(cwd string) *Store {
	return &Store{
		projectDir: config.ProjectDir(cwd),
		userDir:    config.DataDir(),
		builtin:    embedded.FS(),
	}
}

// dirFor maps a facet type to its layer subdirectory.
func dirFor(t types.FacetType) string {
	switch t {
	case types.FacetPersona:
		return "personas"
	case types.FacetPolicy:
		return "policies"
	case types.FacetKnowledge:
		return "knowledge"
	case types.FacetInstruction:
		return "instructions"
	case types.FacetOutputContract:
		return "output_contracts"
	}
	return string(t)
}

// fileName appends the conventional .md extension unless the reference
// already carries one.
func fileName(name string) string {
	if path.Ext(name) != "" {
		return name
	}
	return name + ".md"
}

// Resolve returns the materialized facet for (type, name), searching
// project → user → built-in. The first hit wins.
func (s *Store) Resolve(t types.FacetType, name string) (types.Facet, error) {
	if !t.Valid() {
		return types.Facet{}, fmt.Errorf("unknown facet type %q", t)
	}

	file := fileName(name)

	for _, dir := range []string{s.projectDir, s.userDir} {
		p := filepath.Join(dir, dirFor(t), file)
		data, err := os.ReadFile(p)
		if err == nil {
			return types.Facet{Type: t, Name: name, Path: p, Content: string(data)}, nil
		}
		if !os.IsNotExist(err) {
			return types.Facet{}, fmt.Errorf("read facet %s: %w", p, err)
		}
	}

	builtinPath := path.Join(dirFor(t), file)
	data, err := fs.ReadFile(s.builtin, builtinPath)
	if err == nil {
		return types.Facet{Type: t, Name: name, Path: "builtin:" + builtinPath, Content: string(data)}, nil
	}

	return types.Facet{}, fmt.Errorf("%w: %s/%s", ErrFacetNotFound, t, name)
}

// ResolveAll resolves a list of references of the same type.
func (s *Store) ResolveAll(t types.FacetType, names []string) ([]types.Facet, error) {
	facets := make([]types.Facet, 0, len(names))
	for _, name := range names {
		f, err := s.Resolve(t, name)
		if err != nil {
			return nil, err
		}
		facets = append(facets, f)
	}
	return facets, nil
}

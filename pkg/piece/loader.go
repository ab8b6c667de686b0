// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package piece

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/takt-labs/takt/embedded"
	"github.com/takt-labs/takt/pkg/config"
	"github.com/takt-labs/takt/pkg/facet"
	"github.com/takt-labs/takt/pkg/types"
)

var (
	// ErrPieceNotFound means no layer contains the requested piece.
	ErrPieceNotFound = errors.New("piece not found")

	// ErrAmbiguousPiece means one layer holds more than one match.
	ErrAmbiguousPiece = errors.New("ambiguous piece reference")

	// ErrSchemaNotFound means a referenced structured-output schema is
	// missing from every layer.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrValidation means the descriptor violates the schema.
	ErrValidation = errors.New("piece validation failed")
)

// Loader resolves piece references and produces normalized pieces.
//
// Resolution order: absolute/explicit path → project-local pieces →
// user-global pieces → repertoire packages (@scope/package) → built-ins.
// The first layer with a match wins; two matches inside one layer fail
// with ErrAmbiguousPiece.
type Loader struct {
	cwd    string
	facets *facet.Store
}

// NewLoader creates a loader rooted at the project working directory.
func NewLoader(cwd string) *Loader {
	return &Loader{cwd: cwd, facets: facet.NewStore(cwd)}
}

// Load resolves ref to a descriptor file, validates it, and returns the
// normalized immutable piece.
func (l *Loader) Load(ref string) (*types.Piece, error) {
	data, err := l.read(ref)
	if err != nil {
		return nil, err
	}
	desc, err := ParseDescriptor(data)
	if err != nil {
		return nil, err
	}
	if err := validate(desc); err != nil {
		return nil, err
	}
	return l.normalize(desc)
}

// read locates the descriptor bytes for ref.
func (l *Loader) read(ref string) ([]byte, error) {
	// Explicit path, absolute or pointing at an existing file.
	if filepath.IsAbs(ref) || strings.ContainsAny(ref, "/\\") && !strings.HasPrefix(ref, "@") {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPieceNotFound, ref)
		}
		return data, nil
	}

	// Repertoire reference @scope/package/name.
	if strings.HasPrefix(ref, "@") {
		return l.readRepertoireRef(ref)
	}

	// Project layer, then user layer.
	for _, dir := range []string{
		filepath.Join(config.ProjectDir(l.cwd), "pieces"),
		config.SubDir("pieces"),
	} {
		data, found, err := readLayer(dir, ref)
		if err != nil {
			return nil, err
		}
		if found {
			return data, nil
		}
	}

	// Repertoire packages by bare name.
	if data, found, err := l.scanRepertoire(ref); err != nil || found {
		return data, err
	}

	// Built-ins.
	data, err := fs.ReadFile(embedded.FS(), path.Join("pieces", ref+".yaml"))
	if err == nil {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPieceNotFound, ref)
}

// readLayer finds ref.yaml or ref.yml inside dir. Both present is a
// collision inside one layer.
func readLayer(dir, ref string) ([]byte, bool, error) {
	candidates := []string{
		filepath.Join(dir, ref+".yaml"),
		filepath.Join(dir, ref+".yml"),
	}
	var hit string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			if hit != "" {
				return nil, false, fmt.Errorf("%w: both %s and %s exist", ErrAmbiguousPiece, hit, c)
			}
			hit = c
		}
	}
	if hit == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(hit)
	if err != nil {
		return nil, false, fmt.Errorf("read piece %s: %w", hit, err)
	}
	return data, true, nil
}

// readRepertoireRef resolves an explicit @scope/package/name reference.
func (l *Loader) readRepertoireRef(ref string) ([]byte, error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: repertoire reference must be @scope/package/name: %s", ErrPieceNotFound, ref)
	}
	dir := filepath.Join(config.SubDir("repertoire"), parts[0], parts[1], "pieces")
	data, found, err := readLayer(dir, parts[2])
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPieceNotFound, ref)
	}
	return data, nil
}

// scanRepertoire searches every installed repertoire package for a piece
// named ref. Matches in more than one package collide.
func (l *Loader) scanRepertoire(ref string) ([]byte, bool, error) {
	root := config.SubDir("repertoire")
	scopes, err := os.ReadDir(root)
	if err != nil {
		return nil, false, nil // no repertoire installed
	}

	var data []byte
	var hit string
	for _, scope := range scopes {
		if !scope.IsDir() {
			continue
		}
		pkgs, err := os.ReadDir(filepath.Join(root, scope.Name()))
		if err != nil {
			continue
		}
		for _, pkg := range pkgs {
			if !pkg.IsDir() {
				continue
			}
			dir := filepath.Join(root, scope.Name(), pkg.Name(), "pieces")
			d, found, err := readLayer(dir, ref)
			if err != nil {
				return nil, false, err
			}
			if found {
				if hit != "" {
					return nil, false, fmt.Errorf("%w: %s found in %s and %s/%s",
						ErrAmbiguousPiece, ref, hit, scope.Name(), pkg.Name())
				}
				hit = scope.Name() + "/" + pkg.Name()
				data = d
			}
		}
	}
	return data, hit != "", nil
}

// loadSchema resolves a structured-output schema name across the three
// layers: project .takt/schemas, user schemas, built-in schemas.
func (l *Loader) loadSchema(name string) (*types.OutputSchema, error) {
	file := name
	if path.Ext(file) == "" {
		file += ".json"
	}
	for _, dir := range []string{
		filepath.Join(config.ProjectDir(l.cwd), "schemas"),
		config.SubDir("schemas"),
	} {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err == nil {
			return &types.OutputSchema{Name: name, Definition: data}, nil
		}
	}
	data, err := fs.ReadFile(embedded.FS(), path.Join("schemas", file))
	if err == nil {
		return &types.OutputSchema{Name: name, Definition: data}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
}

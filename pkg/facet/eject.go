// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package facet

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// Layer selects the destination of an ejection.
type Layer string

const (
	LayerProject Layer = "project"
	LayerUser    Layer = "user"
)

// Eject copies a built-in asset (a facet file or a piece descriptor,
// addressed by its slash-separated builtin path such as
// "personas/reviewer.md" or "pieces/default.yaml") into the project or
// user layer so it can be customised. The copy preserves the content
// verbatim. Refuses to overwrite an existing file.
func (s *Store) Eject(builtinPath string, layer Layer) (string, error) {
	data, err := fs.ReadFile(s.builtin, path.Clean(builtinPath))
	if err != nil {
		return "", fmt.Errorf("%w: builtin %s", ErrFacetNotFound, builtinPath)
	}

	var root string
	switch layer {
	case LayerProject:
		root = s.projectDir
	case LayerUser:
		root = s.userDir
	default:
		return "", fmt.Errorf("unknown layer %q", layer)
	}

	dest := filepath.Join(root, filepath.FromSlash(builtinPath))
	if _, err := os.Stat(dest); err == nil {
		return dest, fmt.Errorf("%w: %s", ErrFacetExists, dest)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create eject directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write ejected file: %w", err)
	}
	return dest, nil
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package embedded provides access to files embedded into the takt binary.
// This ensures the built-in facets, pieces, and schemas are always
// available, even when the binary is distributed separately from the
// source tree.
package embedded

import (
	"embed"
	"io/fs"
)

//go:embed personas policies knowledge instructions output_contracts pieces schemas
var assets embed.FS

// FS returns the embedded asset filesystem. Top-level directories:
// personas, policies, knowledge, instructions, output_contracts, pieces,
// schemas.
func FS() fs.FS {
	return assets
}

// Read returns the contents of an embedded file by its slash-separated
// path, e.g. "personas/implementer.md".
func Read(path string) ([]byte, error) {
	return assets.ReadFile(path)
}

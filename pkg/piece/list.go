// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package piece

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/takt-labs/takt/embedded"
	"github.com/takt-labs/takt/pkg/config"
)

// Entry is one listable piece with the layer it resolves from.
type Entry struct {
	Name  string
	Layer string // "project", "user", "repertoire", or "builtin"
}

// List enumerates every piece visible from the loader's working
// directory, in resolution order. A name appears once, attributed to
// the layer that would win.
func (l *Loader) List() ([]Entry, error) {
	seen := map[string]bool{}
	var entries []Entry

	add := func(name, layer string) {
		if !seen[name] {
			seen[name] = true
			entries = append(entries, Entry{Name: name, Layer: layer})
		}
	}

	layers := []struct {
		dir   string
		layer string
	}{
		{filepath.Join(config.ProjectDir(l.cwd), "pieces"), "project"},
		{config.SubDir("pieces"), "user"},
	}
	for _, lay := range layers {
		for _, name := range scanPieceDir(lay.dir) {
			add(name, lay.layer)
		}
	}

	for _, name := range scanRepertoirePieces() {
		add(name, "repertoire")
	}

	builtins, err := fs.ReadDir(embedded.FS(), "pieces")
	if err == nil {
		for _, e := range builtins {
			if name, ok := pieceName(e.Name()); ok {
				add(name, "builtin")
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func scanPieceDir(dir string) []string {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if name, ok := pieceName(f.Name()); ok {
			names = append(names, name)
		}
	}
	return names
}

func scanRepertoirePieces() []string {
	root := config.SubDir("repertoire")
	scopes, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var names []string
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
			for _, name := range scanPieceDir(filepath.Join(root, scope.Name(), pkg.Name(), "pieces")) {
				names = append(names, scope.Name()+"/"+pkg.Name()+"/"+name)
			}
		}
	}
	return names
}

func pieceName(file string) (string, bool) {
	ext := path.Ext(file)
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}
	return strings.TrimSuffix(file, ext), true
}

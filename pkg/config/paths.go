// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectDirName is the per-project takt directory.
const ProjectDirName = ".takt"

// DataDir returns the user-global takt directory.
//
// Priority:
// 1. TAKT_CONFIG_DIR environment variable (if set and non-empty)
// 2. ~/.takt (default)
//
// The returned path is always absolute. Tilde (~) is expanded to the user's
// home directory; relative paths are resolved against the working directory.
// This is read directly from os.Getenv, not from viper, because it is needed
// to locate the config file itself.
func DataDir() string {
	if dir := os.Getenv("TAKT_CONFIG_DIR"); dir != "" {
		return expandPath(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ProjectDirName
	}
	return filepath.Join(homeDir, ".takt")
}

// SubDir returns a subdirectory within the user-global takt directory.
func SubDir(name string) string {
	return filepath.Join(DataDir(), name)
}

// EnsureSubDir returns SubDir(name), creating it if needed.
func EnsureSubDir(name string) (string, error) {
	dir := SubDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// ProjectDir returns the project-local takt directory under cwd.
func ProjectDir(cwd string) string {
	return filepath.Join(cwd, ProjectDirName)
}

// ManifestPath returns the task manifest path for a project.
func ManifestPath(cwd string) string {
	return filepath.Join(ProjectDir(cwd), "tasks.yaml")
}

func expandPath(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

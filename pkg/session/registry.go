// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package session persists provider conversation handles per worktree so
// a retried or resumed task continues the same conversation.
//
// Each worktree gets one JSON file under the user-global sessions
// directory, named by the encoded worktree path. Sessions are keyed by
// persona inside the file and scoped to one provider: when the provider
// recorded in the file differs from the caller's, the old handles are
// discarded rather than returned.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/takt-labs/takt/internal/fsext"
	"github.com/takt-labs/takt/pkg/config"
)

type fileData struct {
	PersonaSessions map[string]string `json:"persona_sessions"`
	Provider        string            `json:"provider"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Registry stores worktree-scoped session handles.
type Registry struct {
	dir string
	mu  sync.Mutex
}

// NewRegistry opens the registry in the user-global sessions directory.
func NewRegistry() (*Registry, error) {
	dir, err := config.EnsureSubDir("sessions")
	if err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Registry{dir: dir}, nil
}

// NewRegistryAt opens a registry rooted at an explicit directory.
func NewRegistryAt(dir string) *Registry {
	return &Registry{dir: dir}
}

// Get returns the stored session handle for a persona in a worktree.
// Handles stored under a different provider are not returned.
func (r *Registry) Get(worktree, provider, persona string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load(worktree)
	if err != nil {
		return "", false
	}
	if data.Provider != provider {
		return "", false
	}
	id, ok := data.PersonaSessions[persona]
	return id, ok && id != ""
}

// Put stores a session handle. A provider change discards every handle
// recorded under the previous provider.
func (r *Registry) Put(worktree, provider, persona, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load(worktree)
	if err != nil || data.Provider != provider {
		data = &fileData{PersonaSessions: make(map[string]string), Provider: provider}
	}
	data.PersonaSessions[persona] = sessionID
	data.UpdatedAt = time.Now().UTC()
	return r.store(worktree, data)
}

// Clear removes every session recorded for a worktree. Missing files are
// not an error.
func (r *Registry) Clear(worktree string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(worktree))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear sessions for %s: %w", worktree, err)
	}
	return nil
}

func (r *Registry) path(worktree string) string {
	return filepath.Join(r.dir, fsext.EncodePath(worktree)+".json")
}

func (r *Registry) load(worktree string) (*fileData, error) {
	raw, err := os.ReadFile(r.path(worktree))
	if err != nil {
		return nil, err
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if data.PersonaSessions == nil {
		data.PersonaSessions = make(map[string]string)
	}
	return &data, nil
}

func (r *Registry) store(worktree string, data *fileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := fsext.WriteFileAtomic(r.path(worktree), raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

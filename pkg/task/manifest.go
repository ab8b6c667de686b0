// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package task manages the task lifecycle: the persisted manifest with
// its atomic state transitions, per-task isolated worktrees, and the
// polling scheduler that drives piece runs.
package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/takt-labs/takt/internal/fsext"
	"github.com/takt-labs/takt/pkg/config"
	"github.com/takt-labs/takt/pkg/types"
)

var (
	ErrTaskExists        = errors.New("task already exists")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task transition")
)

// Manifest is the single-file task store. Every mutation is a
// read-modify-write of the whole file under an in-memory mutex; the
// write uses the rename pattern so a crash never leaves a partial file.
// There is no cross-process locking; one process owns the manifest.
type Manifest struct {
	path string
	mu   sync.Mutex
}

// NewManifest opens the manifest at an explicit path. The file may not
// exist yet; it is created on the first mutation.
func NewManifest(path string) *Manifest {
	return &Manifest{path: path}
}

// OpenProject opens the manifest of the project rooted at cwd.
func OpenProject(cwd string) *Manifest {
	return NewManifest(config.ManifestPath(cwd))
}

// Path returns the manifest file path.
func (m *Manifest) Path() string { return m.path }

type manifestDoc struct {
	Tasks []types.TaskRecord `yaml:"tasks"`

	Extra map[string]any `yaml:",inline"`
}

// List returns a snapshot of all task records in manifest order.
func (m *Manifest) List() ([]types.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	return doc.Tasks, nil
}

// Get returns the record with the given name.
func (m *Manifest) Get(name string) (types.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.load()
	if err != nil {
		return types.TaskRecord{}, err
	}
	for _, t := range doc.Tasks {
		if t.Name == name {
			return t, nil
		}
	}
	return types.TaskRecord{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
}

// AddTask appends a new pending task. The name must be unique.
func (m *Manifest) AddTask(rec types.TaskRecord) error {
	if rec.Name == "" {
		return errors.New("task name is required")
	}
	return m.mutate(func(doc *manifestDoc) error {
		for _, t := range doc.Tasks {
			if t.Name == rec.Name {
				return fmt.Errorf("%w: %s", ErrTaskExists, rec.Name)
			}
		}
		rec.Status = types.TaskPending
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		rec.StartedAt = nil
		rec.CompletedAt = nil
		doc.Tasks = append(doc.Tasks, rec)
		return nil
	})
}

// ClaimNextPending atomically transitions the first pending task to
// running and returns it. ok is false when no task is pending.
func (m *Manifest) ClaimNextPending() (rec types.TaskRecord, ok bool, err error) {
	err = m.mutate(func(doc *manifestDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].Status != types.TaskPending {
				continue
			}
			now := time.Now().UTC()
			doc.Tasks[i].Status = types.TaskRunning
			doc.Tasks[i].StartedAt = &now
			doc.Tasks[i].CompletedAt = nil
			rec = doc.Tasks[i]
			ok = true
			return nil
		}
		return nil
	})
	return rec, ok, err
}

// CompleteTask transitions a running task to completed.
func (m *Manifest) CompleteTask(name string) error {
	return m.transition(name, types.TaskCompleted, types.TaskRunning)
}

// FailTask transitions a running task to failed.
func (m *Manifest) FailTask(name string) error {
	return m.transition(name, types.TaskFailed, types.TaskRunning)
}

// ErrorTask transitions a running task to error. Error marks an engine
// or infrastructure exception, distinct from a clean piece failure.
func (m *Manifest) ErrorTask(name string) error {
	return m.transition(name, types.TaskError, types.TaskRunning)
}

// RequeueTask moves a terminal task back to pending.
func (m *Manifest) RequeueTask(name string) error {
	return m.update(name, func(t *types.TaskRecord) error {
		if !t.Status.Terminal() {
			return fmt.Errorf("%w: requeue needs a terminal task, %s is %s", ErrInvalidTransition, name, t.Status)
		}
		t.Status = types.TaskPending
		t.StartedAt = nil
		t.CompletedAt = nil
		return nil
	})
}

// StartReExecution moves a completed or failed task directly to running,
// bypassing pending so a concurrent poller can never claim it first.
func (m *Manifest) StartReExecution(name string) error {
	return m.update(name, func(t *types.TaskRecord) error {
		if t.Status != types.TaskCompleted && t.Status != types.TaskFailed {
			return fmt.Errorf("%w: re-execution needs completed or failed, %s is %s", ErrInvalidTransition, name, t.Status)
		}
		now := time.Now().UTC()
		t.Status = types.TaskRunning
		t.StartedAt = &now
		t.CompletedAt = nil
		return nil
	})
}

// DeleteCompletedTask removes a completed task record.
func (m *Manifest) DeleteCompletedTask(name string) error {
	return m.mutate(func(doc *manifestDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].Name != name {
				continue
			}
			if doc.Tasks[i].Status != types.TaskCompleted {
				return fmt.Errorf("%w: delete needs completed, %s is %s", ErrInvalidTransition, name, doc.Tasks[i].Status)
			}
			doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	})
}

// SetWorktree records the worktree path and branch a task runs in.
func (m *Manifest) SetWorktree(name, worktree, branch string) error {
	return m.update(name, func(t *types.TaskRecord) error {
		t.WorktreePath = worktree
		t.Branch = branch
		return nil
	})
}

func (m *Manifest) transition(name string, to types.TaskStatus, from ...types.TaskStatus) error {
	return m.update(name, func(t *types.TaskRecord) error {
		allowed := false
		for _, s := range from {
			if t.Status == s {
				allowed = true
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s → %s from %s", ErrInvalidTransition, t.Status, to, name)
		}
		t.Status = to
		if to.Terminal() {
			now := time.Now().UTC()
			t.CompletedAt = &now
		}
		return nil
	})
}

func (m *Manifest) update(name string, fn func(*types.TaskRecord) error) error {
	return m.mutate(func(doc *manifestDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].Name == name {
				return fn(&doc.Tasks[i])
			}
		}
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	})
}

func (m *Manifest) mutate(fn func(*manifestDoc) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return m.store(doc)
}

// load reads and validates the manifest. A missing file is an empty
// manifest.
func (m *Manifest) load() (*manifestDoc, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return &manifestDoc{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var doc manifestDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", m.path, err)
	}
	if err := validateDoc(&doc); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", m.path, err)
	}
	return &doc, nil
}

func validateDoc(doc *manifestDoc) error {
	for key := range doc.Extra {
		if !strings.HasPrefix(key, "x_") {
			return fmt.Errorf("unknown key %q", key)
		}
	}
	seen := make(map[string]bool, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if t.Name == "" {
			return errors.New("task with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate task %q", t.Name)
		}
		seen[t.Name] = true
		if !t.Status.Valid() {
			return fmt.Errorf("task %q has unknown status %q", t.Name, t.Status)
		}
		for key := range t.Extra {
			if !strings.HasPrefix(key, "x_") {
				return fmt.Errorf("task %q has unknown key %q", t.Name, key)
			}
		}
	}
	return nil
}

func (m *Manifest) store(doc *manifestDoc) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := fsext.WriteFileAtomic(m.path, raw, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

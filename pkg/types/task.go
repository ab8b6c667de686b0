// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import "time"

// TaskStatus is the lifecycle state of one task record.
// The flow is monotonic pending → running → {completed, failed, error},
// with two sanctioned exceptions: requeue (→ pending) and re-execution
// (completed/failed → running).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskError     TaskStatus = "error"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskError:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskError
}

// TaskRecord is one row of the task manifest.
// Invariants: StartedAt present iff status is not pending; CompletedAt
// present iff status is terminal; at most one record per Name.
type TaskRecord struct {
	Name         string     `yaml:"name"`
	Content      string     `yaml:"content"`
	Status       TaskStatus `yaml:"status"`
	Piece        string     `yaml:"piece"`
	Branch       string     `yaml:"branch,omitempty"`
	WorktreePath string     `yaml:"worktree_path,omitempty"`
	CreatedAt    time.Time  `yaml:"created_at"`
	StartedAt    *time.Time `yaml:"started_at,omitempty"`
	CompletedAt  *time.Time `yaml:"completed_at,omitempty"`
	AutoPR       bool       `yaml:"auto_pr"`
	Issue        int        `yaml:"issue,omitempty"`
	OrderPath    string     `yaml:"order_path,omitempty"`

	// Extra collects unknown keys. The manifest tolerates (and round-trips)
	// only keys prefixed with x_; anything else fails validation.
	Extra map[string]any `yaml:",inline"`
}

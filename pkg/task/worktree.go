// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package task

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/takt-labs/takt/internal/fsext"
	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/pkg/config"
)

const (
	removeRetries    = 3
	removeRetryDelay = 200 * time.Millisecond
)

// WorktreeManager creates and disposes the isolated working tree each
// task runs in. Trees are shared clones of the project repository, so
// creation is cheap and object storage is not duplicated.
type WorktreeManager struct {
	projectRoot string
	baseBranch  string
	root        string
	logger      *zap.Logger
}

// NewWorktreeManager builds a manager for the project at projectRoot.
// Trees are created under the user-global worktrees directory.
func NewWorktreeManager(projectRoot, baseBranch string) (*WorktreeManager, error) {
	root, err := config.EnsureSubDir("worktrees")
	if err != nil {
		return nil, fmt.Errorf("create worktrees dir: %w", err)
	}
	return &WorktreeManager{
		projectRoot: projectRoot,
		baseBranch:  baseBranch,
		root:        filepath.Join(root, fsext.EncodePath(projectRoot)),
		logger:      log.Logger(),
	}, nil
}

// Path returns the worktree path a task would use, whether or not it
// exists yet.
func (w *WorktreeManager) Path(taskName string) string {
	return filepath.Join(w.root, taskName)
}

// Branch returns the branch name a task runs on.
func (w *WorktreeManager) Branch(taskName string) string {
	return "takt/" + taskName
}

// Create makes (or reuses) the isolated tree for a task and returns its
// path. An existing tree is reused as-is so a re-executed task keeps its
// in-progress work.
func (w *WorktreeManager) Create(ctx context.Context, taskName string) (string, error) {
	path := w.Path(taskName)
	if fsext.IsDir(path) {
		w.logger.Debug("reusing worktree", zap.String("task", taskName), zap.String("path", path))
		return path, nil
	}
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return "", fmt.Errorf("create worktree root: %w", err)
	}

	branch := w.Branch(taskName)
	if _, err := w.git(ctx, w.projectRoot, "clone", "--shared", "--branch", w.baseBranch,
		w.projectRoot, path); err != nil {
		return "", fmt.Errorf("clone worktree for %s: %w", taskName, err)
	}
	if _, err := w.git(ctx, path, "checkout", "-b", branch); err != nil {
		w.Remove(taskName)
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}

	w.logger.Info("worktree created",
		zap.String("task", taskName), zap.String("path", path), zap.String("branch", branch))
	return path, nil
}

// Remove deletes a task's tree, retrying a few times to ride out
// transient file locks. Missing trees are not an error.
func (w *WorktreeManager) Remove(taskName string) error {
	path := w.Path(taskName)
	if !fsext.Exists(path) {
		return nil
	}

	var err error
	for attempt := 0; attempt < removeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(removeRetryDelay)
		}
		if err = os.RemoveAll(path); err == nil {
			return nil
		}
	}
	return fmt.Errorf("remove worktree %s: %w", path, err)
}

func (w *WorktreeManager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

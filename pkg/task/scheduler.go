// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package task

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/pkg/types"
)

// RunFunc executes one claimed task inside its worktree and returns the
// final piece state. An error return means an infrastructure exception,
// not a piece outcome.
type RunFunc func(ctx context.Context, rec types.TaskRecord, worktree string) (*types.ExecutionState, error)

// SchedulerConfig wires one scheduler.
type SchedulerConfig struct {
	Manifest  *Manifest
	Worktrees *WorktreeManager
	Run       RunFunc

	// Concurrency is the worker-pool size, at least 1.
	Concurrency int

	// PollInterval is the idle sleep between manifest polls.
	PollInterval time.Duration
}

// Scheduler drives a bounded worker pool over the task manifest. Workers
// claim pending tasks, run them in isolated worktrees, and transition
// the records. A manifest write wakes idle workers early; cancellation
// of the run context aborts every in-flight engine.
type Scheduler struct {
	manifest  *Manifest
	worktrees *WorktreeManager
	run       RunFunc

	concurrency  int
	pollInterval time.Duration
	wake         chan struct{}
	logger       *zap.Logger
}

// NewScheduler validates the config and builds a scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Manifest == nil || cfg.Worktrees == nil || cfg.Run == nil {
		return nil, fmt.Errorf("scheduler requires manifest, worktrees, and a run function")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Scheduler{
		manifest:     cfg.Manifest,
		worktrees:    cfg.Worktrees,
		run:          cfg.Run,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		wake:         make(chan struct{}, 1),
		logger:       log.Logger(),
	}, nil
}

// Run operates the pool until ctx is canceled. It returns after every
// worker has drained its current task.
func (s *Scheduler) Run(ctx context.Context) error {
	watcher := s.watchManifest(ctx)
	if watcher != nil {
		defer watcher.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		worker := i
		g.Go(func() error {
			s.workerLoop(gctx, worker)
			return nil
		})
	}
	return g.Wait()
}

// Wake nudges an idle worker to poll immediately.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// watchManifest wakes workers when the manifest changes on disk, so an
// added task starts without waiting out the poll interval. Watching is
// best effort; polling remains the backstop.
func (s *Scheduler) watchManifest(ctx context.Context) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("manifest watch unavailable, relying on polling", zap.Error(err))
		return nil
	}
	if err := watcher.Add(filepath.Dir(s.manifest.Path())); err != nil {
		s.logger.Warn("manifest watch unavailable, relying on polling", zap.Error(err))
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == filepath.Base(s.manifest.Path()) {
					s.Wake()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return watcher
}

func (s *Scheduler) workerLoop(ctx context.Context, worker int) {
	logger := s.logger.With(zap.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}
		rec, ok, err := s.manifest.ClaimNextPending()
		if err != nil {
			logger.Error("claim failed", zap.Error(err))
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-time.After(s.pollInterval):
			}
			continue
		}
		s.process(ctx, logger, rec)
	}
}

// process runs one claimed task to a terminal record state. The worktree
// is deleted only on completion; failed and errored tasks keep theirs
// for inspection.
func (s *Scheduler) process(ctx context.Context, logger *zap.Logger, rec types.TaskRecord) {
	logger = logger.With(zap.String("task", rec.Name))
	logger.Info("task started", zap.String("piece", rec.Piece))

	worktree, err := s.worktrees.Create(ctx, rec.Name)
	if err != nil {
		logger.Error("worktree creation failed", zap.Error(err))
		s.mustTransition(logger, s.manifest.ErrorTask, rec.Name)
		return
	}
	if err := s.manifest.SetWorktree(rec.Name, worktree, s.worktrees.Branch(rec.Name)); err != nil {
		logger.Error("record worktree failed", zap.Error(err))
	}

	state, err := s.run(ctx, rec, worktree)
	if err != nil {
		logger.Error("task errored", zap.Error(err))
		s.mustTransition(logger, s.manifest.ErrorTask, rec.Name)
		return
	}

	switch state.Status {
	case types.PieceCompleted:
		s.mustTransition(logger, s.manifest.CompleteTask, rec.Name)
		if err := s.worktrees.Remove(rec.Name); err != nil {
			logger.Warn("worktree cleanup failed", zap.Error(err))
		}
		logger.Info("task completed", zap.Int("iterations", state.Iteration))
	default:
		s.mustTransition(logger, s.manifest.FailTask, rec.Name)
		logger.Warn("task failed",
			zap.String("status", string(state.Status)),
			zap.String("reason", state.Reason))
	}
}

func (s *Scheduler) mustTransition(logger *zap.Logger, fn func(string) error, name string) {
	if err := fn(name); err != nil {
		logger.Error("manifest transition failed", zap.Error(err))
	}
}

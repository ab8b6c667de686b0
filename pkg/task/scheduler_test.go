// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package task

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/pkg/types"
)

// testWorktrees avoids git by pointing the manager at plain directories.
func testWorktrees(t *testing.T) *WorktreeManager {
	t.Helper()
	return &WorktreeManager{
		projectRoot: t.TempDir(),
		baseBranch:  "main",
		root:        t.TempDir(),
		logger:      log.Logger(),
	}
}

func runScheduler(t *testing.T, m *Manifest, run RunFunc, timeout time.Duration) {
	t.Helper()
	s, err := NewScheduler(SchedulerConfig{
		Manifest:     m,
		Worktrees:    testWorktrees(t),
		Run:          run,
		Concurrency:  2,
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, s.Run(ctx))
}

func TestSchedulerRunsPendingTasks(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "alpha")
	addTask(t, m, "beta")

	var mu sync.Mutex
	seen := map[string]string{}
	run := func(_ context.Context, rec types.TaskRecord, worktree string) (*types.ExecutionState, error) {
		mu.Lock()
		seen[rec.Name] = worktree
		mu.Unlock()
		state := types.NewExecutionState("work")
		state.Status = types.PieceCompleted
		return state, nil
	}

	runScheduler(t, m, run, 500*time.Millisecond)

	assert.Len(t, seen, 2)
	for name := range seen {
		rec, err := m.Get(name)
		require.NoError(t, err)
		assert.Equal(t, types.TaskCompleted, rec.Status)
		assert.NotEmpty(t, rec.WorktreePath)
	}
}

func TestSchedulerFailedPieceMarksTaskFailed(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "doomed")

	run := func(_ context.Context, _ types.TaskRecord, _ string) (*types.ExecutionState, error) {
		state := types.NewExecutionState("work")
		state.Status = types.PieceFailed
		state.Reason = types.ReasonRuleAbort
		return state, nil
	}

	runScheduler(t, m, run, 300*time.Millisecond)

	rec, err := m.Get("doomed")
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, rec.Status)
}

func TestSchedulerEngineErrorMarksTaskError(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "broken")

	run := func(_ context.Context, _ types.TaskRecord, _ string) (*types.ExecutionState, error) {
		return nil, errors.New("engine exploded")
	}

	runScheduler(t, m, run, 300*time.Millisecond)

	rec, err := m.Get("broken")
	require.NoError(t, err)
	assert.Equal(t, types.TaskError, rec.Status)
}

func TestSchedulerWakeShortensPolling(t *testing.T) {
	m := newTestManifest(t)

	done := make(chan struct{})
	run := func(_ context.Context, _ types.TaskRecord, _ string) (*types.ExecutionState, error) {
		close(done)
		state := types.NewExecutionState("work")
		state.Status = types.PieceCompleted
		return state, nil
	}

	s, err := NewScheduler(SchedulerConfig{
		Manifest:     m,
		Worktrees:    testWorktrees(t),
		Run:          run,
		Concurrency:  1,
		PollInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	addTask(t, m, "late")
	s.Wake()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never woke up for the new task")
	}
}

func TestPrefixWriterLineBuffering(t *testing.T) {
	var out bytes.Buffer
	w := NewPrefixWriter(&out, "alpha")

	w.Write([]byte("hello "))
	assert.Empty(t, out.String(), "partial line stays buffered")

	w.Write([]byte("world\nsecond"))
	assert.Equal(t, "[alpha] hello world\n", out.String())

	require.NoError(t, w.Flush())
	assert.Equal(t, "[alpha] hello world\n[alpha] second\n", out.String())
}

func TestPrefixWriterColorIsDeterministic(t *testing.T) {
	assert.Equal(t, colorIndex("alpha"), colorIndex("alpha"))
}

func TestWorkerOutputSingleWorkerUnprefixed(t *testing.T) {
	var out bytes.Buffer
	w := WorkerOutput(&out, "alpha", 1)

	_, err := w.Write([]byte("hello\npartial"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	assert.Equal(t, "hello\npartial", out.String())
}

func TestWorkerOutputMultiWorkerPrefixed(t *testing.T) {
	var out bytes.Buffer
	w := WorkerOutput(&out, "alpha", 2)

	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, "[alpha] hello\n", out.String())
}

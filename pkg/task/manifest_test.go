// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-labs/takt/pkg/types"
)

func newTestManifest(t *testing.T) *Manifest {
	t.Helper()
	return NewManifest(filepath.Join(t.TempDir(), "tasks.yaml"))
}

func addTask(t *testing.T, m *Manifest, name string) {
	t.Helper()
	require.NoError(t, m.AddTask(types.TaskRecord{Name: name, Content: "do " + name, Piece: "default"}))
}

func TestAddAndListTasks(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "first")
	addTask(t, m, "second")

	tasks, err := m.List()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "first", tasks[0].Name)
	assert.Equal(t, types.TaskPending, tasks[0].Status)
	assert.False(t, tasks[0].CreatedAt.IsZero())
	assert.Nil(t, tasks[0].StartedAt)
}

func TestAddDuplicateNameRejected(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "dup")
	err := m.AddTask(types.TaskRecord{Name: "dup"})
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestClaimNextPending(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "a")
	addTask(t, m, "b")

	rec, ok, err := m.ClaimNextPending()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", rec.Name)
	assert.Equal(t, types.TaskRunning, rec.Status)
	require.NotNil(t, rec.StartedAt)

	rec, ok, err = m.ClaimNextPending()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", rec.Name)

	_, ok, err = m.ClaimNextPending()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLifecycleTransitions(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "work")
	_, _, err := m.ClaimNextPending()
	require.NoError(t, err)

	require.NoError(t, m.CompleteTask("work"))
	rec, err := m.Get("work")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)

	// Completed cannot complete or fail again.
	assert.ErrorIs(t, m.CompleteTask("work"), ErrInvalidTransition)
	assert.ErrorIs(t, m.FailTask("work"), ErrInvalidTransition)
}

func TestRequeueTask(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "work")
	_, _, err := m.ClaimNextPending()
	require.NoError(t, err)
	require.NoError(t, m.FailTask("work"))

	require.NoError(t, m.RequeueTask("work"))
	rec, err := m.Get("work")
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, rec.Status)
	assert.Nil(t, rec.StartedAt)
	assert.Nil(t, rec.CompletedAt)

	// Pending tasks cannot be requeued.
	assert.ErrorIs(t, m.RequeueTask("work"), ErrInvalidTransition)
}

func TestStartReExecutionBypassesPending(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "work")
	_, _, err := m.ClaimNextPending()
	require.NoError(t, err)
	require.NoError(t, m.CompleteTask("work"))

	require.NoError(t, m.StartReExecution("work"))
	rec, err := m.Get("work")
	require.NoError(t, err)
	assert.Equal(t, types.TaskRunning, rec.Status)
	require.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.CompletedAt)

	// A concurrent poller must not observe this record as claimable.
	_, ok, err := m.ClaimNextPending()
	require.NoError(t, err)
	assert.False(t, ok)

	// Running tasks cannot re-execute again.
	assert.ErrorIs(t, m.StartReExecution("work"), ErrInvalidTransition)
}

func TestDeleteCompletedTask(t *testing.T) {
	m := newTestManifest(t)
	addTask(t, m, "work")
	_, _, err := m.ClaimNextPending()
	require.NoError(t, err)

	assert.ErrorIs(t, m.DeleteCompletedTask("work"), ErrInvalidTransition)
	require.NoError(t, m.CompleteTask("work"))
	require.NoError(t, m.DeleteCompletedTask("work"))

	tasks, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.ErrorIs(t, m.DeleteCompletedTask("work"), ErrTaskNotFound)
}

func TestUnknownKeysRejectedUnlessPrefixed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - name: work
    content: do it
    status: pending
    piece: default
    created_at: 2026-08-24T10:00:00Z
    auto_pr: false
    x_team_note: kept as-is
`), 0o644))

	m := NewManifest(path)
	tasks, err := m.List()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "kept as-is", tasks[0].Extra["x_team_note"])

	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - name: work
    content: do it
    status: pending
    piece: default
    created_at: 2026-08-24T10:00:00Z
    auto_pr: false
    team_note: nope
`), 0o644))
	_, err = m.List()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "team_note")
}

func TestExtensionKeysSurviveRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - name: work
    content: do it
    status: pending
    piece: default
    created_at: 2026-08-24T10:00:00Z
    auto_pr: false
    x_team_note: kept as-is
`), 0o644))

	m := NewManifest(path)
	_, _, err := m.ClaimNextPending()
	require.NoError(t, err)

	rec, err := m.Get("work")
	require.NoError(t, err)
	assert.Equal(t, types.TaskRunning, rec.Status)
	assert.Equal(t, "kept as-is", rec.Extra["x_team_note"])
}

func TestInvalidStatusRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - name: work
    content: do it
    status: paused
    piece: default
    created_at: 2026-08-24T10:00:00Z
    auto_pr: false
`), 0o644))

	_, err := NewManifest(path).List()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paused")
}

func TestDuplicateNamesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - name: work
    content: a
    status: pending
    piece: default
    created_at: 2026-08-24T10:00:00Z
    auto_pr: false
  - name: work
    content: b
    status: pending
    piece: default
    created_at: 2026-08-24T10:00:00Z
    auto_pr: false
`), 0o644))

	_, err := NewManifest(path).List()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestMissingManifestIsEmpty(t *testing.T) {
	m := newTestManifest(t)
	tasks, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, ok, err := m.ClaimNextPending()
	require.NoError(t, err)
	assert.False(t, ok)
}

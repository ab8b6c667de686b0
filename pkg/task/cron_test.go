// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package task

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-labs/takt/pkg/types"
)

func TestCronEnqueuerAddsTimestampedTasks(t *testing.T) {
	m := newTestManifest(t)
	e := NewCronEnqueuer(m)

	require.NoError(t, e.Add("@every 10ms", "nightly-audit", "audit the code", "default"))
	e.Start()
	time.Sleep(80 * time.Millisecond)
	e.Stop()

	tasks, err := m.List()
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	for _, rec := range tasks {
		assert.True(t, strings.HasPrefix(rec.Name, "nightly-audit-"))
		assert.Equal(t, types.TaskPending, rec.Status)
		assert.Equal(t, "default", rec.Piece)
	}
}

func TestCronEnqueuerRejectsBadSpec(t *testing.T) {
	e := NewCronEnqueuer(newTestManifest(t))
	assert.Error(t, e.Add("not a cron spec", "x", "y", "default"))
}

func TestLoadSchedules(t *testing.T) {
	cwd := t.TempDir()
	dir := filepath.Join(cwd, ".takt")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schedules.yaml"), []byte(`
schedules:
  - cron: "0 2 * * *"
    name: nightly
    content: run the nightly audit
`), 0o644))

	schedules, err := LoadSchedules(cwd)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "nightly", schedules[0].Name)
	assert.Equal(t, "default", schedules[0].Piece, "piece defaults when omitted")
}

func TestLoadSchedulesMissingFile(t *testing.T) {
	schedules, err := LoadSchedules(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestLoadSchedulesRejectsUnknownKeys(t *testing.T) {
	cwd := t.TempDir()
	dir := filepath.Join(cwd, ".takt")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schedules.yaml"), []byte(`
schedules:
  - cron: "0 2 * * *"
    name: nightly
    interval: daily
`), 0o644))

	_, err := LoadSchedules(cwd)
	assert.Error(t, err)
}

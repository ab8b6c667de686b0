// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-labs/takt/pkg/types"
)

func TestSessionLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "session.ndjson")
	sl, err := OpenSessionLog(path)
	require.NoError(t, err)

	sl.Emit(types.Event{Type: types.EventPieceStart, Piece: "default"})
	sl.Emit(types.Event{
		Type:        types.EventMovementComplete,
		Movement:    "implement",
		MatchMethod: types.MatchTagPhase3.External(),
	})
	sl.Emit(types.Event{Type: types.EventPieceComplete, Status: types.PieceCompleted})
	require.NoError(t, sl.Close())

	events, err := ReadSessionLog(path)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventPieceStart, events[0].Type)
	assert.Equal(t, types.MatchTagFallback, events[1].MatchMethod, "external form only")
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, types.PieceCompleted, events[2].Status)
}

func TestStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.StartRun(ctx, "run-1", "add endpoint", "default"))
	require.NoError(t, store.RecordPhase(ctx, "run-1", "implement", types.PhaseMain, "", types.StatusDone))
	require.NoError(t, store.RecordPhase(ctx, "run-1", "implement", types.PhaseJudgment, types.MatchTagPhase1, types.StatusDone))
	require.NoError(t, store.FinishRun(ctx, "run-1", types.PieceCompleted, "", 3))

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, types.PieceCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].Iterations)
	assert.False(t, runs[0].CompletedAt.IsZero())
}

func TestStoreFinishUnknownRun(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	err = store.FinishRun(ctx, "missing", types.PieceFailed, types.ReasonRuleAbort, 1)
	assert.Error(t, err)
}

func TestRecentRunsOrder(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.StartRun(ctx, "run-1", "a", "default"))
	require.NoError(t, store.StartRun(ctx, "run-2", "b", "default"))

	runs, err := store.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].ID)
}

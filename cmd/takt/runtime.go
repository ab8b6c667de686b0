// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/takt-labs/takt/pkg/config"
	"github.com/takt-labs/takt/pkg/engine"
	"github.com/takt-labs/takt/pkg/facet"
	"github.com/takt-labs/takt/pkg/history"
	"github.com/takt-labs/takt/pkg/piece"
	"github.com/takt-labs/takt/pkg/provider"
	"github.com/takt-labs/takt/pkg/rules"
	"github.com/takt-labs/takt/pkg/session"
	"github.com/takt-labs/takt/pkg/types"
)

// runtime assembles the shared collaborators of the run and start
// commands: configuration, piece loading, provider, sessions, and the
// optional run-history store.
type runtime struct {
	cwd      string
	settings *config.Settings
	pieces   *piece.Loader
	facets   *facet.Store
	sessions *session.Registry
	store    *history.Store
}

func newRuntime(ctx context.Context, cwd string) (*runtime, error) {
	settings, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewRegistry()
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cwd:      cwd,
		settings: settings,
		pieces:   piece.NewLoader(cwd),
		facets:   facet.NewStore(cwd),
		sessions: sessions,
	}
	if settings.Analytics {
		dir, err := config.EnsureSubDir("history")
		if err != nil {
			return nil, err
		}
		store, err := history.NewStore(ctx, filepath.Join(dir, "runs.db"))
		if err != nil {
			return nil, err
		}
		rt.store = store
	}
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt.store != nil {
		return rt.store.Close()
	}
	return nil
}

// openProvider builds the configured provider with its merged options:
// global provider_options under the piece's own.
func (rt *runtime) openProvider(p *types.Piece) (types.Provider, error) {
	name := rt.settings.Provider
	options := provider.MergeOptions(rt.settings.ProviderOptions[name], p.ProviderOptions)
	return provider.Open(name, options)
}

// judgeFor builds the stage-5 AI judge on the judge persona. A missing
// persona disables the fallback instead of failing the run.
func (rt *runtime) judgeFor(prov types.Provider, worktree string) rules.Judge {
	persona, err := rt.facets.Resolve(types.FacetPersona, "judge")
	if err != nil {
		return nil
	}
	runner, err := prov.Setup(types.PersonaSpec{Name: persona.Name, Text: persona.Content})
	if err != nil {
		return nil
	}
	return rules.NewRunnerJudge(runner, types.CallOptions{CWD: worktree})
}

// runPiece executes one piece run in the given worktree and returns the
// final state. Observability: progress lines on out (when non-nil), an
// NDJSON session log per run, and the run-history store when analytics
// is enabled.
func (rt *runtime) runPiece(ctx context.Context, pieceRef, taskName, taskText, worktree string, interactive bool, out io.Writer) (*types.ExecutionState, error) {
	p, err := rt.pieces.Load(pieceRef)
	if err != nil {
		return nil, err
	}
	prov, err := rt.openProvider(p)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	sinks := types.MultiSink{}
	if out != nil {
		sinks = append(sinks, consoleSink{w: out})
	}

	logPath := filepath.Join(config.ProjectDir(worktree), "logs", runID+".ndjson")
	sessionLog, err := history.OpenSessionLog(logPath)
	if err != nil {
		return nil, err
	}
	defer sessionLog.Close()
	sinks = append(sinks, sessionLog)

	if rt.store != nil {
		if err := rt.store.StartRun(ctx, runID, taskName, p.Name); err != nil {
			return nil, err
		}
	}

	eng, err := engine.New(p, worktree, taskText, engine.Options{
		Settings:    rt.settings,
		Provider:    prov,
		Sessions:    rt.sessions,
		Sink:        sinks,
		Judge:       rt.judgeFor(prov, worktree),
		Interactive: interactive,
		RunID:       runID,
	})
	if err != nil {
		return nil, err
	}

	state := eng.Run(ctx)

	if rt.store != nil {
		bg := context.WithoutCancel(ctx)
		for _, entry := range state.History {
			if err := rt.store.RecordPhase(bg, runID, entry.Movement, entry.Phase, entry.MatchMethod, entry.Response.Status); err != nil {
				return nil, fmt.Errorf("record run phase: %w", err)
			}
		}
		if err := rt.store.FinishRun(bg, runID, state.Status, state.Reason, state.Iteration); err != nil {
			return nil, fmt.Errorf("record run outcome: %w", err)
		}
	}
	return state, nil
}

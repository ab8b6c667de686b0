// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package engine drives a piece graph to a terminal state. One engine
// instance owns one run: it walks movements, executes the three phases
// through the provider, evaluates transition rules, and emits events
// through a sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/pkg/config"
	"github.com/takt-labs/takt/pkg/instruction"
	"github.com/takt-labs/takt/pkg/provider"
	"github.com/takt-labs/takt/pkg/rules"
	"github.com/takt-labs/takt/pkg/session"
	"github.com/takt-labs/takt/pkg/types"
)

// errAborted marks a provider call cut short by cancellation.
var errAborted = errors.New("run aborted")

// Options parameterizes one engine instance.
type Options struct {
	Settings *config.Settings

	// Provider executes agent calls. ProviderName defaults to
	// Provider.Name() and keys permission profiles and sessions.
	Provider     types.Provider
	ProviderName string

	// Sessions persists conversation handles per worktree. Optional.
	Sessions *session.Registry

	// Sink receives engine events. Optional.
	Sink types.EventSink

	// Judge is the stage-5 rule fallback. Optional.
	Judge rules.Judge

	// Interactive enables interactive-only rules.
	Interactive bool

	// RunID names the report directory. Defaults to a random id.
	RunID string
}

// Engine executes one piece run. Not safe for concurrent use; construct
// one per run.
type Engine struct {
	piece   *types.Piece
	cwd     string
	task    string
	opts    Options
	state   *types.ExecutionState
	builder instruction.Builder
	eval    *rules.Evaluator
	cycles  *cycleDetector
	runners map[string]types.AgentRunner
	sink    types.EventSink
	logger  *zap.Logger
}

// New constructs an engine for one run of piece against the task text.
func New(piece *types.Piece, cwd, task string, opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, errors.New("engine requires a provider")
	}
	if opts.Settings == nil {
		return nil, errors.New("engine requires settings")
	}
	if opts.ProviderName == "" {
		opts.ProviderName = opts.Provider.Name()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Sink == nil {
		opts.Sink = types.NopSink{}
	}

	cycles, err := newCycleDetector(
		opts.Settings.AIReviewPattern, opts.Settings.AIFixPattern, opts.Settings.CycleWindow)
	if err != nil {
		return nil, err
	}

	state := types.NewExecutionState(piece.InitialMovement)
	state.ReportDir = filepath.Join(config.ProjectDir(cwd), "reports", opts.RunID)

	return &Engine{
		piece:   piece,
		cwd:     cwd,
		task:    task,
		opts:    opts,
		state:   state,
		eval:    rules.NewEvaluator(opts.Judge),
		cycles:  cycles,
		runners: make(map[string]types.AgentRunner),
		sink:    opts.Sink,
		logger:  log.Logger().With(zap.String("piece", piece.Name), zap.String("run", opts.RunID)),
	}, nil
}

// State returns the run state. Valid after Run returns.
func (e *Engine) State() *types.ExecutionState { return e.state }

// movementResult is the outcome of one variant dispatch.
type movementResult struct {
	response *types.Response
	subs     []rules.SubMatch
	aborted  bool
	err      error
}

// Run drives the piece to a terminal state. It never returns an error:
// every outcome, including abort and internal failure, lands in the
// returned ExecutionState.
func (e *Engine) Run(ctx context.Context) *types.ExecutionState {
	if err := os.MkdirAll(e.state.ReportDir, 0o755); err != nil {
		e.fail(fmt.Sprintf("create report dir: %v", err))
		e.emitFinal()
		return e.state
	}

	e.emit(types.Event{Type: types.EventPieceStart, Piece: e.piece.Name})
	e.logger.Info("piece run started", zap.String("initial", e.piece.InitialMovement))

	if e.piece.RuntimePrepare != "" {
		if err := e.runPrepare(ctx); err != nil {
			if ctx.Err() != nil {
				e.abort()
			} else {
				e.fail(fmt.Sprintf("runtime prepare: %v", err))
			}
			e.emitFinal()
			return e.state
		}
	}

	for {
		if ctx.Err() != nil {
			e.abort()
			break
		}
		if e.state.Iteration >= e.piece.MaxMovements {
			e.fail(types.ReasonMaxMovementsReached)
			break
		}
		mov, ok := e.piece.Movement(e.state.CurrentMovement)
		if !ok {
			e.fail(fmt.Sprintf("movement %q not found", e.state.CurrentMovement))
			break
		}

		e.state.Iteration++
		e.state.MovementIteration[mov.Name]++
		e.emit(types.Event{
			Type:      types.EventMovementStart,
			Piece:     e.piece.Name,
			Movement:  mov.Name,
			Iteration: e.state.Iteration,
		})

		res := e.dispatch(ctx, mov)
		if res.aborted || ctx.Err() != nil {
			e.abort()
			break
		}
		if res.err != nil {
			e.fail(res.err.Error())
			break
		}

		resp := res.response
		e.state.Record(mov.Name, types.PhaseMain, *resp)
		e.emit(types.Event{
			Type:     types.EventMovementPhase,
			Piece:    e.piece.Name,
			Movement: mov.Name,
			Phase:    types.PhaseMain,
		})

		// A phase-1 error is terminal: no report, no judgment.
		if resp.Status == types.StatusError {
			e.fail(resp.Content)
			break
		}

		if e.cycles.observe(mov.Name, resp.Content) {
			if e.piece.ArbitrationMovement != "" {
				e.logger.Warn("cycle detected, entering arbitration",
					zap.String("movement", mov.Name),
					zap.String("arbitration", e.piece.ArbitrationMovement))
				e.emit(types.Event{
					Type:     types.EventMovementComplete,
					Piece:    e.piece.Name,
					Movement: mov.Name,
					Message:  "cycle detected",
				})
				e.state.CurrentMovement = e.piece.ArbitrationMovement
				continue
			}
			e.fail(types.ReasonCycleDetected)
			break
		}

		if mov.ReportSpec != nil {
			if aborted := e.runReportPhase(ctx, mov); aborted {
				e.abort()
				break
			}
		}

		phase3, aborted := e.runJudgmentPhase(ctx, mov)
		if aborted {
			e.abort()
			break
		}

		match, err := e.eval.Evaluate(ctx, rules.Input{
			Movement:    mov,
			Phase1:      resp,
			Phase3:      phase3,
			SubMatches:  res.subs,
			Interactive: e.opts.Interactive,
		})
		if err != nil {
			if ctx.Err() != nil {
				e.abort()
				break
			}
			e.fail(err.Error())
			break
		}

		e.state.RecordMatch(mov.Name, match.Method)
		e.emit(types.Event{
			Type:        types.EventMovementComplete,
			Piece:       e.piece.Name,
			Movement:    mov.Name,
			MatchMethod: match.Method.External(),
			Iteration:   e.state.Iteration,
		})
		e.logger.Info("movement complete",
			zap.String("movement", mov.Name),
			zap.String("next", match.Rule.Next),
			zap.String("matchMethod", string(match.Method.External())))

		switch match.Rule.Next {
		case types.NextComplete:
			e.state.Status = types.PieceCompleted
		case types.NextAbort:
			e.fail(types.ReasonRuleAbort)
		default:
			e.state.CurrentMovement = match.Rule.Next
			continue
		}
		break
	}

	e.emitFinal()
	return e.state
}

// runPrepare executes the piece's runtime_prepare command in the
// worktree before the first movement.
func (e *Engine) runPrepare(ctx context.Context) error {
	e.logger.Info("running runtime prepare", zap.String("command", e.piece.RuntimePrepare))
	cmd := exec.CommandContext(ctx, "sh", "-c", e.piece.RuntimePrepare)
	cmd.Dir = e.cwd
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%q: %w: %s", e.piece.RuntimePrepare, err, out)
	}
	return nil
}

// dispatch runs Phase 1 according to the movement kind.
func (e *Engine) dispatch(ctx context.Context, mov *types.Movement) movementResult {
	switch mov.Kind {
	case types.MovementParallel:
		return e.executeParallel(ctx, mov)
	case types.MovementTeamLeader:
		return e.executeTeamLeader(ctx, mov)
	case types.MovementArpeggio:
		return e.executeArpeggio(ctx, mov)
	default:
		return e.executeSingle(ctx, mov)
	}
}

func (e *Engine) fail(reason string) {
	e.state.Status = types.PieceFailed
	e.state.Reason = reason
}

func (e *Engine) abort() {
	e.state.Status = types.PieceAborted
	e.emit(types.Event{Type: types.EventPieceAbort, Piece: e.piece.Name})
}

func (e *Engine) emitFinal() {
	e.emit(types.Event{
		Type:      types.EventPieceComplete,
		Piece:     e.piece.Name,
		Status:    e.state.Status,
		Message:   e.state.Reason,
		Iteration: e.state.Iteration,
	})
	e.logger.Info("piece run finished",
		zap.String("status", string(e.state.Status)),
		zap.String("reason", e.state.Reason),
		zap.Int("iterations", e.state.Iteration))
}

func (e *Engine) emit(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.sink.Emit(ev)
}

func (e *Engine) buildCtx(mov *types.Movement) instruction.Context {
	return instruction.Context{
		Piece:       e.piece,
		Movement:    mov,
		State:       e.state,
		CWD:         e.cwd,
		Task:        e.task,
		Language:    e.opts.Settings.Language,
		Interactive: e.opts.Interactive,
	}
}

// runnerFor returns (building and caching) the agent runner for the
// movement's persona.
func (e *Engine) runnerFor(mov *types.Movement) (types.AgentRunner, string, error) {
	name := personaName(mov)
	if r, ok := e.runners[name]; ok {
		return r, name, nil
	}

	spec := types.PersonaSpec{
		Name:         name,
		Provider:     mov.Provider,
		Model:        mov.Model,
		OutputSchema: mov.OutputSchema,
	}
	if mov.Persona != nil {
		spec.Text = mov.Persona.Content
	}
	r, err := e.opts.Provider.Setup(spec)
	if err != nil {
		return nil, "", fmt.Errorf("set up persona %q: %w", name, err)
	}
	e.runners[name] = r
	return r, name, nil
}

func personaName(mov *types.Movement) string {
	if mov.Persona != nil {
		return mov.Persona.Name
	}
	return "default"
}

// call performs one provider invocation for a movement. A fresh call
// skips session reuse. Transport and timeout failures come back as an
// error-status response; interruption maps to errAborted; blocked
// surfaces as the raw error so phase-specific retry policy can apply.
func (e *Engine) call(ctx context.Context, mov *types.Movement, prompt string, schema *types.OutputSchema, fresh bool) (*types.Response, error) {
	runner, persona, err := e.runnerFor(mov)
	if err != nil {
		return nil, err
	}

	opts := types.CallOptions{
		CWD:          e.cwd,
		AllowedTools: mov.AllowedTools,
		PermissionMode: provider.ResolvePermissionMode(
			e.opts.Settings, e.opts.ProviderName, mov.Name, mov.RequiredPermissionMode),
		OutputSchema: schema,
	}
	if len(mov.MCPServers) > 0 {
		opts.MCPServers = make(map[string]types.MCPServer, len(mov.MCPServers))
		for _, name := range mov.MCPServers {
			srv, ok := e.opts.Settings.MCPServers[name]
			if !ok {
				e.logger.Warn("mcp server not configured",
					zap.String("server", name), zap.String("movement", mov.Name))
				continue
			}
			opts.MCPServers[name] = srv
		}
	}
	if !fresh && e.opts.Sessions != nil {
		if id, ok := e.opts.Sessions.Get(e.cwd, e.opts.ProviderName, persona); ok {
			opts.SessionID = id
		}
	}

	// Cancellation watcher: when the run is canceled while the call is in
	// flight, dispatch a best-effort provider interrupt for the session so
	// transports that do not poll the context still stop.
	var interruptOnce sync.Once
	interrupt := func() {
		interruptOnce.Do(func() {
			if err := e.opts.Provider.Interrupt(opts.SessionID); err != nil {
				e.logger.Debug("session interrupt failed",
					zap.String("session", opts.SessionID), zap.Error(err))
			}
		})
	}
	watchDone := make(chan struct{})
	if opts.SessionID != "" {
		go func() {
			select {
			case <-ctx.Done():
				interrupt()
			case <-watchDone:
			}
		}()
	}

	resp, err := runner.Run(ctx, prompt, opts)
	close(watchDone)
	if err != nil {
		if ctx.Err() != nil {
			if opts.SessionID != "" {
				interrupt()
			}
			return nil, errAborted
		}
		var perr *types.ProviderError
		if errors.As(err, &perr) {
			switch perr.Kind {
			case types.ProviderInterrupted:
				return nil, errAborted
			case types.ProviderBlocked:
				return nil, err
			case types.ProviderTransport, types.ProviderTimeout:
				return &types.Response{
					Content:   perr.Error(),
					Status:    types.StatusError,
					Timestamp: time.Now(),
				}, nil
			}
		}
		return &types.Response{
			Content:   err.Error(),
			Status:    types.StatusError,
			Timestamp: time.Now(),
		}, nil
	}

	if e.opts.Sessions != nil && resp.SessionID != "" {
		if err := e.opts.Sessions.Put(e.cwd, e.opts.ProviderName, persona, resp.SessionID); err != nil {
			e.logger.Warn("persist session failed", zap.Error(err))
		}
	}
	return resp, nil
}

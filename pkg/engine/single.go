// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/takt-labs/takt/pkg/types"
)

// executeSingle runs Phase 1 of an ordinary movement.
func (e *Engine) executeSingle(ctx context.Context, mov *types.Movement) movementResult {
	prompt := e.builder.Main(e.buildCtx(mov))

	resp, err := e.call(ctx, mov, prompt, nil, false)
	if err != nil {
		if errors.Is(err, errAborted) {
			return movementResult{aborted: true}
		}
		if blocked(err) {
			return movementResult{response: &types.Response{
				Content: err.Error(),
				Status:  types.StatusBlocked,
			}}
		}
		return movementResult{err: err}
	}
	return movementResult{response: resp}
}

// runReportPhase runs Phase 2. A blocked provider retries once with a
// fresh session; any other failure is recorded and the run continues,
// since the report is an artifact, not control flow. Returns whether the
// run was aborted.
func (e *Engine) runReportPhase(ctx context.Context, mov *types.Movement) (aborted bool) {
	prompt, ok := e.builder.Report(e.buildCtx(mov))
	if !ok {
		return false
	}

	resp, err := e.call(ctx, mov, prompt, nil, false)
	if blocked(err) {
		e.logger.Warn("report phase blocked, retrying with fresh session",
			zap.String("movement", mov.Name))
		resp, err = e.call(ctx, mov, prompt, nil, true)
	}
	if err != nil {
		if errors.Is(err, errAborted) {
			return true
		}
		e.logger.Warn("report phase failed", zap.String("movement", mov.Name), zap.Error(err))
		return false
	}

	e.state.Record(mov.Name, types.PhaseReport, *resp)
	e.emit(types.Event{
		Type:     types.EventMovementPhase,
		Piece:    e.piece.Name,
		Movement: mov.Name,
		Phase:    types.PhaseReport,
	})
	return false
}

// runJudgmentPhase runs Phase 3 when the movement's rules require one.
// The judgment call passes the movement's structured-output schema when
// bound, so providers that support it return a parsed {"step": N}.
func (e *Engine) runJudgmentPhase(ctx context.Context, mov *types.Movement) (resp *types.Response, aborted bool) {
	if !e.needsJudgment(mov) {
		return nil, false
	}
	prompt, ok := e.builder.Judgment(e.buildCtx(mov))
	if !ok {
		return nil, false
	}

	resp, err := e.call(ctx, mov, prompt, mov.OutputSchema, false)
	if err != nil {
		if errors.Is(err, errAborted) {
			return nil, true
		}
		e.logger.Warn("judgment phase failed, falling back to phase-1 matching",
			zap.String("movement", mov.Name), zap.Error(err))
		return nil, false
	}
	if resp.Status == types.StatusError {
		e.logger.Warn("judgment phase errored, falling back to phase-1 matching",
			zap.String("movement", mov.Name), zap.String("error", resp.Content))
		return nil, false
	}

	e.state.Record(mov.Name, types.PhaseJudgment, *resp)
	e.emit(types.Event{
		Type:     types.EventMovementPhase,
		Piece:    e.piece.Name,
		Movement: mov.Name,
		Phase:    types.PhaseJudgment,
	})
	return resp, false
}

// needsJudgment reports whether Phase 3 can influence rule selection.
// A single non-aggregate rule auto-selects, so the judgment call would
// be wasted work.
func (e *Engine) needsJudgment(mov *types.Movement) bool {
	active := mov.ActiveRules(e.opts.Interactive)
	if len(active) == 1 && active[0].Kind != types.RuleAggregate {
		return false
	}
	return len(active) > 0
}

func blocked(err error) bool {
	var perr *types.ProviderError
	return errors.As(err, &perr) && perr.Kind == types.ProviderBlocked
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/takt-labs/takt/pkg/rules"
	"github.com/takt-labs/takt/pkg/types"
)

// executeParallel runs every sub-movement concurrently, evaluates each
// sub-movement's own rules to learn which condition it matched, and hands
// the per-sub outcomes to the parent's aggregate rules.
//
// Responses are recorded in configured order regardless of completion
// order. Cancelling the parent cancels every sub-movement.
func (e *Engine) executeParallel(ctx context.Context, mov *types.Movement) movementResult {
	subs := mov.Parallel.SubMovements
	responses := make([]*types.Response, len(subs))
	matches := make([]rules.SubMatch, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	for i := range subs {
		sub := &subs[i]
		g.Go(func() error {
			resp, err := e.call(gctx, sub, e.builder.Main(e.buildCtx(sub)), nil, false)
			if err != nil {
				if blocked(err) {
					resp = &types.Response{Content: err.Error(), Status: types.StatusBlocked}
				} else {
					return err
				}
			}
			responses[i] = resp
			matches[i] = rules.SubMatch{
				Movement:   sub.Name,
				Conditions: e.subConditions(gctx, sub, resp),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, errAborted) || ctx.Err() != nil {
			return movementResult{aborted: true}
		}
		return movementResult{err: err}
	}

	var contents []string
	for i := range subs {
		e.state.Record(subs[i].Name, types.PhaseMain, *responses[i])
		contents = append(contents, responses[i].Content)
	}

	return movementResult{
		response: &types.Response{
			Content: strings.Join(contents, "\n\n"),
			Status:  types.StatusDone,
		},
		subs: matches,
	}
}

// subConditions evaluates a sub-movement's own rules against its response
// and returns the matched condition texts. A sub-movement that matches
// nothing contributes an empty set, which no aggregate rule satisfies.
func (e *Engine) subConditions(ctx context.Context, sub *types.Movement, resp *types.Response) []string {
	if resp.Status == types.StatusError {
		return nil
	}

	var phase3 *types.Response
	if prompt, ok := e.builder.Judgment(e.buildCtx(sub)); ok && e.needsJudgment(sub) {
		p3, err := e.call(ctx, sub, prompt, sub.OutputSchema, false)
		if err == nil && p3.Status != types.StatusError {
			phase3 = p3
		}
	}

	match, err := e.eval.Evaluate(ctx, rules.Input{
		Movement:    sub,
		Phase1:      resp,
		Phase3:      phase3,
		Interactive: e.opts.Interactive,
	})
	if err != nil {
		return nil
	}
	return []string{match.Rule.Condition}
}

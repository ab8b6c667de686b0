// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/takt-labs/takt/pkg/rules"
	"github.com/takt-labs/takt/pkg/types"
)

// teamPart is one dynamically-produced unit of work.
type teamPart struct {
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
}

// executeTeamLeader runs the two-stage variant. Stage A asks the lead
// persona to decompose the task into parts via structured output. Stage B
// runs the parts concurrently, each under its own timeout; a timed-out
// part becomes an error response without cancelling its siblings.
func (e *Engine) executeTeamLeader(ctx context.Context, mov *types.Movement) movementResult {
	lead, err := e.call(ctx, mov, e.builder.Main(e.buildCtx(mov)), mov.OutputSchema, false)
	if err != nil {
		if errors.Is(err, errAborted) {
			return movementResult{aborted: true}
		}
		return movementResult{err: err}
	}
	if lead.Status == types.StatusError {
		return movementResult{response: lead}
	}

	parts, err := parseTeamParts(lead)
	if err != nil {
		return movementResult{err: fmt.Errorf("movement %q: %w", mov.Name, err)}
	}
	maxParts := types.MaxTeamParts
	if mov.TeamLeader != nil && mov.TeamLeader.MaxParts > 0 && mov.TeamLeader.MaxParts < maxParts {
		maxParts = mov.TeamLeader.MaxParts
	}
	if len(parts) > maxParts {
		parts = parts[:maxParts]
	}
	e.logger.Info("team decomposed", zap.String("movement", mov.Name), zap.Int("parts", len(parts)))

	var timeout time.Duration
	if mov.TeamLeader != nil {
		timeout = mov.TeamLeader.PartTimeout
	}

	responses := make([]*types.Response, len(parts))
	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func(i int, part teamPart) {
			defer wg.Done()
			pctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			responses[i] = e.runTeamPart(pctx, mov, part)
		}(i, part)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return movementResult{aborted: true}
	}

	matches := make([]rules.SubMatch, len(parts))
	var contents []string
	for i, part := range parts {
		resp := responses[i]
		e.state.Record(mov.Name+"/"+part.Title, types.PhaseMain, *resp)
		matches[i] = rules.SubMatch{
			Movement:   part.Title,
			Conditions: []string{string(resp.Status)},
		}
		contents = append(contents, fmt.Sprintf("## %s\n\n%s", part.Title, resp.Content))
	}

	return movementResult{
		response: &types.Response{
			Content: strings.Join(contents, "\n\n"),
			Status:  types.StatusDone,
		},
		subs: matches,
	}
}

// runTeamPart executes one part with a fresh session. Failures of any
// kind, including a part timeout, collapse to an error response so the
// aggregate evaluation sees every part.
func (e *Engine) runTeamPart(ctx context.Context, mov *types.Movement, part teamPart) *types.Response {
	prompt := fmt.Sprintf("## Part: %s\n\n%s\n\n## Context\n\nWorking directory: %s\n\n%s",
		part.Title, part.Instruction, e.cwd, e.task)

	resp, err := e.call(ctx, mov, prompt, nil, true)
	if err != nil {
		return &types.Response{
			Content:   fmt.Sprintf("part %q: %v", part.Title, err),
			Status:    types.StatusError,
			Timestamp: time.Now(),
		}
	}
	return resp
}

// parseTeamParts reads the lead's decomposition from structured output,
// falling back to a JSON document in the response body.
func parseTeamParts(resp *types.Response) ([]teamPart, error) {
	var doc struct {
		Parts []teamPart `json:"parts"`
	}

	if resp.StructuredOutput != nil {
		raw, err := json.Marshal(resp.StructuredOutput)
		if err != nil {
			return nil, fmt.Errorf("re-encode structured output: %w", err)
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decomposition violates schema: %w", err)
		}
	} else if err := json.Unmarshal([]byte(resp.Content), &doc); err != nil {
		return nil, fmt.Errorf("decomposition is not valid JSON: %w", err)
	}

	if len(doc.Parts) == 0 {
		return nil, errors.New("decomposition produced no parts")
	}
	for _, p := range doc.Parts {
		if p.Title == "" || p.Instruction == "" {
			return nil, errors.New("decomposition part missing title or instruction")
		}
	}
	return doc.Parts, nil
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package rules

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/pkg/types"
)

var judgeAnswerRE = regexp.MustCompile(`\d+`)

// RunnerJudge implements the stage-5 fallback on top of an agent runner.
// It asks for the number of the matching condition and retries once when
// the answer cannot be parsed.
type RunnerJudge struct {
	runner types.AgentRunner
	opts   types.CallOptions
	logger *zap.Logger
}

// NewRunnerJudge wraps an agent runner as a Judge. opts should grant
// readonly permissions; the judge never edits files.
func NewRunnerJudge(runner types.AgentRunner, opts types.CallOptions) *RunnerJudge {
	opts.PermissionMode = types.PermissionReadonly
	return &RunnerJudge{runner: runner, opts: opts, logger: log.Logger()}
}

// Select asks the runner which condition matches and returns its 1-based
// number.
func (j *RunnerJudge) Select(ctx context.Context, conditions []string, responses []string) (int, error) {
	prompt := j.buildPrompt(conditions, responses)

	resp, err := j.runner.Run(ctx, prompt, j.opts)
	if err != nil {
		return 0, fmt.Errorf("judge call: %w", err)
	}
	n, ok := parseJudgeAnswer(resp.Content, len(conditions))
	if ok {
		return n, nil
	}

	j.logger.Debug("judge answer malformed, retrying", zap.String("answer", resp.Content))
	retryPrompt := prompt + "\n\n" + fmt.Sprintf(
		"Your previous answer could not be parsed. Reply with a single integer between 1 and %d and nothing else.",
		len(conditions))
	resp, err = j.runner.Run(ctx, retryPrompt, j.opts)
	if err != nil {
		return 0, fmt.Errorf("judge retry: %w", err)
	}
	n, ok = parseJudgeAnswer(resp.Content, len(conditions))
	if !ok {
		return 0, fmt.Errorf("judge answered %q, expected an integer in [1, %d]", resp.Content, len(conditions))
	}
	return n, nil
}

func (j *RunnerJudge) buildPrompt(conditions []string, responses []string) string {
	var sb strings.Builder
	sb.WriteString("You are judging which completion condition an agent's output satisfies.\n\n")
	sb.WriteString("## Conditions\n")
	for i, c := range conditions {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
	}
	sb.WriteString("\n## Agent output\n")
	for _, r := range responses {
		sb.WriteString(r)
		sb.WriteString("\n---\n")
	}
	sb.WriteString(fmt.Sprintf(
		"\nAnswer with the number of the single condition that best matches, an integer between 1 and %d. Answer with the number only.",
		len(conditions)))
	return sb.String()
}

// parseJudgeAnswer extracts the selected number. The whole answer must be
// a bare integer after trimming, or contain exactly one integer token, to
// guard against the judge echoing the condition list.
func parseJudgeAnswer(content string, max int) (int, bool) {
	trimmed := strings.TrimSpace(content)
	if n, err := strconv.Atoi(trimmed); err == nil {
		return n, n >= 1 && n <= max
	}
	tokens := judgeAnswerRE.FindAllString(trimmed, -1)
	if len(tokens) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(tokens[0])
	if err != nil {
		return 0, false
	}
	return n, n >= 1 && n <= max
}

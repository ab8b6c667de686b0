// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package rules selects the next movement for a piece run by evaluating a
// movement's transition rules against the agent's responses.
//
// The evaluator applies a five-stage fallback:
//
//	0. auto-select — a single non-aggregate rule wins without reading text
//	1. aggregate   — all/any over parallel sub-movement outcomes
//	2. phase-3 tag — last [MOVEMENT:N] tag in the judgment response
//	3. structured  — parsed {"step": N} object from the judgment call
//	4. phase-1 tag — last tag in the work response
//	5. AI judge    — an LLM picks the matching condition by number
package rules

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/pkg/types"
)

// ErrNoRuleMatched means every stage was exhausted without a match.
var ErrNoRuleMatched = errors.New("no rule matched")

// SubMatch is the outcome of one parallel sub-movement: the condition
// texts of the rules its own evaluation matched.
type SubMatch struct {
	Movement   string
	Conditions []string
}

// Input carries everything one evaluation needs.
type Input struct {
	Movement    *types.Movement
	Phase1      *types.Response
	Phase3      *types.Response
	SubMatches  []SubMatch
	Interactive bool
}

// Match is the selected rule plus the stage that produced it.
type Match struct {
	Rule   types.Rule
	Method types.MatchMethod
}

// Judge is the AI fallback: given numbered conditions and the responses,
// it returns the 1-based number of the matching condition.
type Judge interface {
	Select(ctx context.Context, conditions []string, responses []string) (int, error)
}

// Evaluator runs the five-stage fallback. Judge may be nil, in which case
// stage 5 fails with ErrNoRuleMatched.
type Evaluator struct {
	judge  Judge
	logger *zap.Logger
}

// NewEvaluator creates an evaluator with the given AI-judge fallback.
func NewEvaluator(judge Judge) *Evaluator {
	return &Evaluator{judge: judge, logger: log.Logger()}
}

// Evaluate selects the matched rule for the movement.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (Match, error) {
	m := in.Movement
	active := m.ActiveRules(in.Interactive)
	if len(active) == 0 {
		return Match{}, fmt.Errorf("%w: movement %q has no applicable rules", ErrNoRuleMatched, m.Name)
	}

	// Stage 0: auto-select. A single non-aggregate rule needs no text.
	if len(active) == 1 && active[0].Kind != types.RuleAggregate {
		return Match{Rule: active[0], Method: types.MatchAutoSelect}, nil
	}

	// Stage 1: aggregate rules over sub-movement (or part) outcomes.
	// On a parallel movement aggregates do not fall through to the tag
	// stages; a miss goes straight to the AI judge.
	if m.HasAggregateRules() {
		if match, ok := e.evaluateAggregate(active, in.SubMatches); ok {
			return match, nil
		}
		if m.Kind == types.MovementParallel {
			return e.consultJudge(ctx, active, in)
		}
	}

	// Stage 2: phase-3 tag match.
	if in.Phase3 != nil {
		if match, ok := matchTag(m.Name, active, in.Phase3.Content, types.MatchTagPhase3); ok {
			return match, nil
		}
		// Stage 3: phase-3 structured output.
		if match, ok := matchStructured(active, in.Phase3.StructuredOutput); ok {
			return match, nil
		}
	}
	// The judgment call may itself return structured output attached to
	// the phase-1 response when the provider folds the phases together.
	if in.Phase1 != nil {
		if match, ok := matchStructured(active, in.Phase1.StructuredOutput); ok {
			return match, nil
		}
	}

	// Stage 4: phase-1 tag match.
	if in.Phase1 != nil {
		if match, ok := matchTag(m.Name, active, in.Phase1.Content, types.MatchTagPhase1); ok {
			return match, nil
		}
	}

	// Stage 5: AI judge.
	return e.consultJudge(ctx, active, in)
}

// evaluateAggregate applies all/any semantics over sub-movement matches.
// Evaluation is insensitive to sub-movement completion order.
func (e *Evaluator) evaluateAggregate(active []types.Rule, subs []SubMatch) (Match, bool) {
	for _, r := range active {
		if r.Kind != types.RuleAggregate {
			continue
		}
		switch r.Aggregate {
		case types.AggregateAll:
			if len(subs) == 0 {
				continue
			}
			all := true
			for _, sub := range subs {
				if !containsCondition(sub.Conditions, r.Condition) {
					all = false
					break
				}
			}
			if all {
				return Match{Rule: r, Method: types.MatchAggregate}, true
			}
		case types.AggregateAny:
			for _, sub := range subs {
				if containsCondition(sub.Conditions, r.Condition) {
					return Match{Rule: r, Method: types.MatchAggregate}, true
				}
			}
		}
	}
	return Match{}, false
}

// matchTag scans content for [NAME:N] markers. The last occurrence wins,
// tolerating verbose preambles that mention earlier tags.
func matchTag(movement string, active []types.Rule, content string, method types.MatchMethod) (Match, bool) {
	re := regexp.MustCompile(`\[` + regexp.QuoteMeta(movement) + `:(\d+)\]`)
	matches := re.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return Match{}, false
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return Match{}, false
	}
	for _, r := range active {
		if r.Ordinal == n && r.Kind == types.RuleTag {
			return Match{Rule: r, Method: method}, true
		}
	}
	return Match{}, false
}

// matchStructured reads a parsed {"step": N} object.
func matchStructured(active []types.Rule, structured map[string]any) (Match, bool) {
	if structured == nil {
		return Match{}, false
	}
	raw, ok := structured["step"]
	if !ok {
		return Match{}, false
	}
	n, ok := toInt(raw)
	if !ok {
		return Match{}, false
	}
	for _, r := range active {
		if r.Ordinal == n && r.Kind != types.RuleAggregate {
			return Match{Rule: r, Method: types.MatchStructuredOutput}, true
		}
	}
	return Match{}, false
}

// consultJudge runs the stage-5 AI fallback.
func (e *Evaluator) consultJudge(ctx context.Context, active []types.Rule, in Input) (Match, error) {
	if e.judge == nil {
		return Match{}, fmt.Errorf("%w: movement %q", ErrNoRuleMatched, in.Movement.Name)
	}

	conditions := make([]string, 0, len(active))
	for _, r := range active {
		text := r.Condition
		if r.Kind == types.RuleAI && r.AICondition != "" {
			text = r.AICondition
		}
		conditions = append(conditions, text)
	}

	var responses []string
	if in.Phase1 != nil {
		responses = append(responses, in.Phase1.Content)
	}
	if in.Phase3 != nil {
		responses = append(responses, in.Phase3.Content)
	}
	for _, sub := range in.SubMatches {
		responses = append(responses, fmt.Sprintf("%s: %v", sub.Movement, sub.Conditions))
	}

	n, err := e.judge.Select(ctx, conditions, responses)
	if err != nil {
		return Match{}, fmt.Errorf("ai judge for movement %q: %w", in.Movement.Name, err)
	}
	if n < 1 || n > len(active) {
		return Match{}, fmt.Errorf("%w: ai judge answered %d outside [1, %d]", ErrNoRuleMatched, n, len(active))
	}

	e.logger.Debug("rule matched by ai judge",
		zap.String("movement", in.Movement.Name),
		zap.Int("rule", n))
	return Match{Rule: active[n-1], Method: types.MatchAIJudge}, nil
}

func containsCondition(conditions []string, want string) bool {
	for _, c := range conditions {
		if c == want {
			return true
		}
	}
	return false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

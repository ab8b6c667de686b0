// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-labs/takt/pkg/types"
)

type fakeJudge struct {
	answer int
	err    error
	calls  int
}

func (f *fakeJudge) Select(_ context.Context, _ []string, _ []string) (int, error) {
	f.calls++
	return f.answer, f.err
}

func tagRules(nexts ...string) []types.Rule {
	out := make([]types.Rule, len(nexts))
	for i, next := range nexts {
		out[i] = types.Rule{
			Condition: "cond " + next,
			Next:      next,
			Ordinal:   i + 1,
			Kind:      types.RuleTag,
		}
	}
	return out
}

func TestAutoSelectSingleRule(t *testing.T) {
	m := &types.Movement{
		Name:  "implement",
		Rules: tagRules("review"),
	}
	ev := NewEvaluator(nil)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "no tags anywhere"},
	})
	require.NoError(t, err)
	assert.Equal(t, "review", match.Rule.Next)
	assert.Equal(t, types.MatchAutoSelect, match.Method)
}

func TestAutoSelectIgnoresInteractiveOnlyRules(t *testing.T) {
	rules := tagRules("review", "ask")
	rules[1].InteractiveOnly = true
	m := &types.Movement{Name: "implement", Rules: rules}
	ev := NewEvaluator(nil)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "whatever"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchAutoSelect, match.Method)
	assert.Equal(t, "review", match.Rule.Next)
}

func TestPhase3TagLastOccurrenceWins(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	ev := NewEvaluator(nil)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "work output"},
		Phase3: &types.Response{
			Content: "I considered [review:1] but the tests fail, so [review:2]",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "implement", match.Rule.Next)
	assert.Equal(t, types.MatchTagPhase3, match.Method)
}

func TestPhase3TagBeatsPhase1Tag(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	ev := NewEvaluator(nil)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "done already [review:1]"},
		Phase3:   &types.Response{Content: "[review:2]"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchTagPhase3, match.Method)
	assert.Equal(t, "implement", match.Rule.Next)
}

func TestStructuredOutputFallback(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	ev := NewEvaluator(nil)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "plain"},
		Phase3: &types.Response{
			Content:          "no tags here",
			StructuredOutput: map[string]any{"step": float64(2)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchStructuredOutput, match.Method)
	assert.Equal(t, "implement", match.Rule.Next)
}

func TestPhase1TagFallback(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	ev := NewEvaluator(nil)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "all good [review:1]"},
		Phase3:   &types.Response{Content: "no usable marker"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchTagPhase1, match.Method)
	assert.Equal(t, types.NextComplete, match.Rule.Next)
}

func TestTagOutOfRangeFallsThrough(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	judge := &fakeJudge{answer: 1}
	ev := NewEvaluator(judge)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "[review:7]"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchAIJudge, match.Method)
	assert.Equal(t, 1, judge.calls)
	assert.Equal(t, types.NextComplete, match.Rule.Next)
}

func TestAIJudgeFallback(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	judge := &fakeJudge{answer: 2}
	ev := NewEvaluator(judge)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "free-form, no markers"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchAIJudge, match.Method)
	assert.Equal(t, "implement", match.Rule.Next)
}

func TestAIJudgeOutOfRangeAnswer(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	ev := NewEvaluator(&fakeJudge{answer: 5})

	_, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "free-form"},
	})
	assert.ErrorIs(t, err, ErrNoRuleMatched)
}

func TestNoJudgeConfigured(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	ev := NewEvaluator(nil)

	_, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "free-form"},
	})
	assert.ErrorIs(t, err, ErrNoRuleMatched)
}

func parallelMovement() *types.Movement {
	return &types.Movement{
		Name: "fan_out",
		Kind: types.MovementParallel,
		Rules: []types.Rule{
			{Condition: "approved", Next: types.NextComplete, Ordinal: 1, Kind: types.RuleAggregate, Aggregate: types.AggregateAll},
			{Condition: "rejected", Next: "fix", Ordinal: 2, Kind: types.RuleAggregate, Aggregate: types.AggregateAny},
		},
	}
}

func TestAggregateAll(t *testing.T) {
	ev := NewEvaluator(nil)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: parallelMovement(),
		SubMatches: []SubMatch{
			{Movement: "a", Conditions: []string{"approved"}},
			{Movement: "b", Conditions: []string{"approved"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchAggregate, match.Method)
	assert.Equal(t, types.NextComplete, match.Rule.Next)
}

func TestAggregateAny(t *testing.T) {
	ev := NewEvaluator(nil)

	match, err := ev.Evaluate(context.Background(), Input{
		Movement: parallelMovement(),
		SubMatches: []SubMatch{
			{Movement: "a", Conditions: []string{"approved"}},
			{Movement: "b", Conditions: []string{"rejected"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchAggregate, match.Method)
	assert.Equal(t, "fix", match.Rule.Next)
}

func TestAggregateOrderInsensitive(t *testing.T) {
	ev := NewEvaluator(nil)
	subs := []SubMatch{
		{Movement: "b", Conditions: []string{"rejected"}},
		{Movement: "a", Conditions: []string{"approved"}},
	}

	match, err := ev.Evaluate(context.Background(), Input{Movement: parallelMovement(), SubMatches: subs})
	require.NoError(t, err)
	assert.Equal(t, "fix", match.Rule.Next)
}

func TestAggregateMissGoesToJudgeNotTags(t *testing.T) {
	m := parallelMovement()
	judge := &fakeJudge{answer: 2}
	ev := NewEvaluator(judge)

	// Sub outcomes match no aggregate condition; a stray tag in a sub
	// response must not be consulted.
	match, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "[fan_out:1]"},
		SubMatches: []SubMatch{
			{Movement: "a", Conditions: []string{"partial"}},
			{Movement: "b", Conditions: []string{"approved"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchAIJudge, match.Method)
	assert.Equal(t, 1, judge.calls)
	assert.Equal(t, "fix", match.Rule.Next)
}

func TestJudgeErrorPropagates(t *testing.T) {
	m := &types.Movement{Name: "review", Rules: tagRules(types.NextComplete, "implement")}
	ev := NewEvaluator(&fakeJudge{err: errors.New("transport down")})

	_, err := ev.Evaluate(context.Background(), Input{
		Movement: m,
		Phase1:   &types.Response{Content: "free-form"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport down")
}

func TestNoRulesAtAll(t *testing.T) {
	ev := NewEvaluator(nil)
	_, err := ev.Evaluate(context.Background(), Input{
		Movement: &types.Movement{Name: "empty"},
		Phase1:   &types.Response{Content: "x"},
	})
	assert.ErrorIs(t, err, ErrNoRuleMatched)
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package instruction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-labs/takt/pkg/types"
)

func testContext() Context {
	piece := &types.Piece{
		Name:            "p",
		MaxMovements:    5,
		InitialMovement: "work",
		Movements: []types.Movement{
			{Name: "work", Description: "does the work"},
			{Name: "review"},
		},
	}
	state := types.NewExecutionState("work")
	state.Iteration = 2
	state.MovementIteration["work"] = 1
	state.ReportDir = "/tmp/run/reports"
	return Context{
		Piece:    piece,
		Movement: &piece.Movements[0],
		State:    state,
		CWD:      "/work/tree",
		Task:     "Add a healthcheck endpoint",
		Language: "en",
	}
}

func TestMainSectionOrder(t *testing.T) {
	ctx := testContext()
	ctx.Movement.Edit = true
	ctx.Movement.InstructionTemplate = "Do it for iteration {iteration}/{max_iterations}."

	prompt := Builder{}.Main(ctx)

	idxContext := strings.Index(prompt, "Execution context")
	idxStructure := strings.Index(prompt, "Piece structure")
	idxIteration := strings.Index(prompt, "Iteration 2/5")
	idxRequest := strings.Index(prompt, "Add a healthcheck endpoint")
	idxBody := strings.Index(prompt, "Do it for iteration 2/5.")

	for name, idx := range map[string]int{
		"context": idxContext, "structure": idxStructure,
		"iteration": idxIteration, "request": idxRequest, "body": idxBody,
	} {
		require.GreaterOrEqual(t, idx, 0, "missing section %s", name)
	}
	assert.Less(t, idxContext, idxStructure)
	assert.Less(t, idxStructure, idxIteration)
	assert.Less(t, idxIteration, idxRequest)
	assert.Less(t, idxRequest, idxBody)

	assert.Contains(t, prompt, "File edits are enabled")
	assert.Contains(t, prompt, "Do not commit.")
	assert.Contains(t, prompt, "work ← current")
	assert.NotContains(t, prompt, "Decision criteria", "phase 1 never carries status rules")
}

func TestMainOmitsTaskWhenTemplateReferencesIt(t *testing.T) {
	ctx := testContext()
	ctx.Movement.InstructionTemplate = "Task: {task}"

	prompt := Builder{}.Main(ctx)

	assert.Equal(t, 1, strings.Count(prompt, "Add a healthcheck endpoint"))
	assert.NotContains(t, prompt, "## User request")
}

func TestMainPreviousResponse(t *testing.T) {
	ctx := testContext()
	ctx.Movement.PassPreviousResponse = true
	ctx.State.PreviousOutput = &types.Response{Content: "previous movement output"}

	prompt := Builder{}.Main(ctx)
	assert.Contains(t, prompt, "previous movement output")

	ctx.Movement.PassPreviousResponse = false
	prompt = Builder{}.Main(ctx)
	assert.NotContains(t, prompt, "previous movement output")
}

func TestMainIncludesFacetBodies(t *testing.T) {
	ctx := testContext()
	ctx.Movement.Policies = []types.Facet{{Content: "Never touch generated files."}}
	ctx.Movement.Knowledge = []types.Facet{{Content: "The API lives under /api/v2."}}
	ctx.Movement.OutputContracts = []types.Facet{{Content: "Answer with a single JSON object."}}

	prompt := Builder{}.Main(ctx)

	assert.Contains(t, prompt, "Never touch generated files.")
	assert.Contains(t, prompt, "The API lives under /api/v2.")
	assert.Contains(t, prompt, "Answer with a single JSON object.")
}

func TestMainReportMetaOnlyWithSpec(t *testing.T) {
	ctx := testContext()
	prompt := Builder{}.Main(ctx)
	assert.NotContains(t, prompt, "Report directory")

	ctx.Movement.ReportSpec = &types.ReportSpec{Files: []string{"notes.md"}}
	prompt = Builder{}.Main(ctx)
	assert.Contains(t, prompt, "Report directory: /tmp/run/reports")
	assert.Contains(t, prompt, "/tmp/run/reports/notes.md")
}

func TestReportPrompt(t *testing.T) {
	ctx := testContext()

	_, ok := Builder{}.Report(ctx)
	assert.False(t, ok, "no report spec, no phase 2")

	ctx.Movement.ReportSpec = &types.ReportSpec{Files: []string{"review.md"}}
	prompt, ok := Builder{}.Report(ctx)
	require.True(t, ok)
	assert.Contains(t, prompt, "Do not modify source files.")
	assert.Contains(t, prompt, "## Iteration 1")
	assert.NotContains(t, prompt, "Add a healthcheck endpoint", "no user request in phase 2")
	assert.NotContains(t, prompt, "Decision criteria", "no status rules in phase 2")
}

func TestReportPromptWithContract(t *testing.T) {
	ctx := testContext()
	ctx.Movement.ReportSpec = &types.ReportSpec{
		Files:    []string{"review.md"},
		Contract: "## Summary\nOne paragraph.",
	}

	prompt, ok := Builder{}.Report(ctx)
	require.True(t, ok)
	assert.Contains(t, prompt, "## Summary")
	assert.NotContains(t, prompt, "## Iteration 1")
}

func TestJudgmentPrompt(t *testing.T) {
	ctx := testContext()
	ctx.Movement.Rules = []types.Rule{
		{Condition: "Finished", Next: types.NextComplete, Ordinal: 1, Kind: types.RuleTag},
		{Condition: "Needs another pass", Next: "review", Ordinal: 2, Kind: types.RuleTag},
	}

	prompt, ok := Builder{}.Judgment(ctx)
	require.True(t, ok)
	assert.Contains(t, prompt, "Do not perform any additional work.")
	assert.Contains(t, prompt, "| 1 | Finished | [work:1] |")
	assert.Contains(t, prompt, "| 2 | Needs another pass | [work:2] |")
	assert.Contains(t, prompt, "`[work:2]`")
}

func TestJudgmentSkippedWhenAllAIOrAggregate(t *testing.T) {
	ctx := testContext()
	ctx.Movement.Rules = []types.Rule{
		{Condition: "approved", Next: types.NextComplete, Ordinal: 1, Kind: types.RuleAggregate, Aggregate: types.AggregateAll},
	}
	_, ok := Builder{}.Judgment(ctx)
	assert.False(t, ok)

	ctx.Movement.Rules = []types.Rule{
		{Condition: "done", Next: types.NextComplete, Ordinal: 1, Kind: types.RuleAI, AICondition: "the task is done"},
	}
	_, ok = Builder{}.Judgment(ctx)
	assert.False(t, ok)
}

func TestJudgmentSkipsInteractiveOnlyRules(t *testing.T) {
	ctx := testContext()
	ctx.Interactive = false
	ctx.Movement.Rules = []types.Rule{
		{Condition: "Finished", Next: types.NextComplete, Ordinal: 1, Kind: types.RuleTag},
		{Condition: "Ask the user", Next: "review", Ordinal: 2, Kind: types.RuleTag, InteractiveOnly: true},
	}

	prompt, ok := Builder{}.Judgment(ctx)
	require.True(t, ok)
	assert.NotContains(t, prompt, "Ask the user")
	assert.Contains(t, prompt, "[work:1]")
}

func TestJudgmentAppendix(t *testing.T) {
	ctx := testContext()
	ctx.Movement.Rules = []types.Rule{
		{Condition: "Finished", Next: types.NextComplete, Ordinal: 1, Kind: types.RuleTag, Appendix: "List the touched files."},
	}

	prompt, ok := Builder{}.Judgment(ctx)
	require.True(t, ok)
	assert.Contains(t, prompt, "List the touched files.")
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{
		"task":       "build it",
		"iteration":  "3",
		"report_dir": "/r",
	}
	out := Substitute("Do {task} at {iteration}; see {report:notes.md}; keep {unknown}", vars)
	assert.Equal(t, "Do build it at 3; see /r/notes.md; keep {unknown}", out)
}

func TestExpandBatch(t *testing.T) {
	header := []string{"id", "title"}
	rows := [][]string{{"1", "first"}, {"2", "second"}}

	out := ExpandBatch("batch {batch_index}: {line:1} / title2={col:2:title} / {col:9:title}", header, rows, 4)
	assert.Equal(t, "batch 4: 1, first / title2=second / {col:9:title}", out)
}

func TestMainJapanese(t *testing.T) {
	ctx := testContext()
	ctx.Language = "ja"
	prompt := Builder{}.Main(ctx)
	assert.Contains(t, prompt, "作業ディレクトリ: /work/tree")
	assert.Contains(t, prompt, "コミットしないでください")
}

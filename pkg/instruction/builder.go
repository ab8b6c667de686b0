// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package instruction assembles the three phase-specific prompts for a
// movement execution. The builder is pure: everything it needs arrives
// materialized in the Context, and the same inputs always produce the
// same prompt.
package instruction

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/takt-labs/takt/pkg/types"
)

// Context carries the inputs of one prompt assembly.
type Context struct {
	Piece       *types.Piece
	Movement    *types.Movement
	State       *types.ExecutionState
	CWD         string
	Task        string
	Language    string
	Interactive bool
}

// Builder renders phase prompts. Zero value is usable.
type Builder struct{}

// Main assembles the Phase 1 (work) prompt. Sections appear in a fixed
// order; the status-rule table is never part of this phase.
func (b Builder) Main(ctx Context) string {
	m := ctx.Movement
	var sections []string

	sections = append(sections, b.executionContext(ctx, false))
	sections = append(sections, b.pieceStructure(ctx))
	sections = append(sections, b.iterationMeta(ctx))

	if m.ReportSpec != nil {
		sections = append(sections, b.reportMeta(ctx))
	}

	if !strings.Contains(m.InstructionTemplate, "{task}") && ctx.Task != "" {
		sections = append(sections, heading(ctx, "User request", "ユーザーリクエスト")+"\n"+ctx.Task)
	}
	if !strings.Contains(m.InstructionTemplate, "{user_inputs}") && len(ctx.State.UserInputs) > 0 {
		sections = append(sections, heading(ctx, "Additional user inputs", "追加のユーザー入力")+"\n"+strings.Join(ctx.State.UserInputs, "\n"))
	}
	if m.PassPreviousResponse && ctx.State.PreviousOutput != nil &&
		!strings.Contains(m.InstructionTemplate, "{previous_response}") {
		sections = append(sections, heading(ctx, "Previous response", "前の応答")+"\n"+ctx.State.PreviousOutput.Content)
	}

	if m.InstructionTemplate != "" {
		sections = append(sections, Substitute(m.InstructionTemplate, b.placeholders(ctx)))
	}

	if body := facetBodies(m.Policies, m.Knowledge, m.OutputContracts); body != "" {
		sections = append(sections, body)
	}

	return joinSections(sections)
}

// Report assembles the Phase 2 prompt. Emitted only when the movement
// carries a report spec; ok is false otherwise.
func (b Builder) Report(ctx Context) (prompt string, ok bool) {
	m := ctx.Movement
	if m.ReportSpec == nil {
		return "", false
	}

	var sections []string
	sections = append(sections, b.executionContext(ctx, true))
	sections = append(sections, b.reportMeta(ctx))

	if m.ReportSpec.Contract != "" {
		sections = append(sections, heading(ctx, "Report format", "レポート形式")+"\n"+m.ReportSpec.Contract)
	} else {
		iteration := ctx.State.MovementIteration[m.Name]
		sections = append(sections, fmt.Sprintf(
			line(ctx,
				"Append your findings under a new `## Iteration %d` section. Never delete earlier sections.",
				"`## Iteration %d` セクションを追記してください。以前のセクションは削除しないでください。"),
			iteration))
	}

	return joinSections(sections), true
}

// Judgment assembles the Phase 3 (status judgment) prompt. Emitted only
// when the movement has at least one active rule and the rules are not
// exclusively AI or aggregate rules; ok is false otherwise.
func (b Builder) Judgment(ctx Context) (prompt string, ok bool) {
	m := ctx.Movement
	rules := m.ActiveRules(ctx.Interactive)
	if len(rules) == 0 {
		return "", false
	}
	needsTable := false
	for _, r := range rules {
		if r.Kind == types.RuleTag {
			needsTable = true
		}
	}
	if !needsTable {
		return "", false
	}

	var sections []string
	sections = append(sections, line(ctx,
		"Determine the status of the work above. Do not perform any additional work.",
		"上記の作業のステータスを判定してください。追加の作業は行わないでください。"))

	var table strings.Builder
	table.WriteString(heading(ctx, "Decision criteria", "判定基準") + "\n")
	table.WriteString("| # | Condition | Tag |\n|---|---|---|\n")
	for _, r := range rules {
		table.WriteString(fmt.Sprintf("| %d | %s | [%s:%d] |\n", r.Ordinal, r.Condition, m.Name, r.Ordinal))
	}
	sections = append(sections, strings.TrimRight(table.String(), "\n"))

	var format strings.Builder
	format.WriteString(heading(ctx, "Output format", "出力形式") + "\n")
	format.WriteString(line(ctx,
		"End your answer with exactly one of the following tags:",
		"回答の最後に次のタグのいずれか 1 つだけを記載してください:"))
	for _, r := range rules {
		format.WriteString(fmt.Sprintf("\n- `[%s:%d]` — %s", m.Name, r.Ordinal, r.Condition))
	}
	sections = append(sections, format.String())

	for _, r := range rules {
		if r.Appendix != "" {
			sections = append(sections, heading(ctx, "Appendix", "付録")+"\n"+r.Appendix)
			break
		}
	}

	return joinSections(sections), true
}

// executionContext renders section 1: working directory, edit line, and
// the short rules block. Report phase adds the no-source-edits rule.
func (b Builder) executionContext(ctx Context, reportPhase bool) string {
	var sb strings.Builder
	sb.WriteString(heading(ctx, "Execution context", "実行コンテキスト") + "\n")
	sb.WriteString(fmt.Sprintf(line(ctx, "Working directory: %s", "作業ディレクトリ: %s"), ctx.CWD))

	if ctx.Movement.Edit {
		sb.WriteString("\n" + line(ctx, "File edits are enabled for this movement.", "このムーブメントではファイル編集が有効です。"))
	} else {
		sb.WriteString("\n" + line(ctx, "File edits are disabled for this movement.", "このムーブメントではファイル編集が無効です。"))
	}

	sb.WriteString("\n" + line(ctx, "Rules:", "ルール:"))
	sb.WriteString("\n" + line(ctx, "- Do not commit.", "- コミットしないでください。"))
	sb.WriteString("\n" + line(ctx, "- Do not change the working directory.", "- 作業ディレクトリを変更しないでください。"))
	if reportPhase {
		sb.WriteString("\n" + line(ctx, "- Do not modify source files.", "- ソースファイルを変更しないでください。"))
	}
	return sb.String()
}

// pieceStructure renders section 2: the movement list with the current
// one marked.
func (b Builder) pieceStructure(ctx Context) string {
	var sb strings.Builder
	sb.WriteString(heading(ctx, "Piece structure", "ピース構成") + "\n")
	sb.WriteString(fmt.Sprintf(line(ctx, "Movements (%d total):", "ムーブメント (全 %d 件):"), len(ctx.Piece.Movements)))
	for i := range ctx.Piece.Movements {
		m := &ctx.Piece.Movements[i]
		marker := ""
		if m.Name == ctx.Movement.Name {
			marker = " ← current"
		}
		sb.WriteString(fmt.Sprintf("\n%d. %s%s", i+1, m.Name, marker))
		if m.Description != "" {
			sb.WriteString(" — " + m.Description)
		}
	}
	return sb.String()
}

// iterationMeta renders section 3.
func (b Builder) iterationMeta(ctx Context) string {
	return fmt.Sprintf(
		line(ctx,
			"Iteration %d/%d of the piece; run %d of movement %q.",
			"ピースの反復 %d/%d。ムーブメント実行 %d 回目 (%q)。"),
		ctx.State.Iteration, ctx.Piece.MaxMovements,
		ctx.State.MovementIteration[ctx.Movement.Name], ctx.Movement.Name)
}

// reportMeta renders section 4: report directory and files, plus the note
// that Phase 2 writes the contents.
func (b Builder) reportMeta(ctx Context) string {
	var sb strings.Builder
	sb.WriteString(heading(ctx, "Report", "レポート") + "\n")
	sb.WriteString(fmt.Sprintf(line(ctx, "Report directory: %s", "レポートディレクトリ: %s"), ctx.State.ReportDir))
	for _, f := range ctx.Movement.ReportSpec.Files {
		sb.WriteString(fmt.Sprintf("\n"+line(ctx, "Report file: %s", "レポートファイル: %s"), filepath.Join(ctx.State.ReportDir, f)))
	}
	sb.WriteString("\n" + line(ctx,
		"The report contents are generated in a follow-up step; do not write the report now.",
		"レポートの内容は後続ステップで生成されます。今は書かないでください。"))
	return sb.String()
}

// placeholders builds the substitution map for the instruction template.
func (b Builder) placeholders(ctx Context) map[string]string {
	vars := map[string]string{
		"task":               ctx.Task,
		"iteration":          fmt.Sprintf("%d", ctx.State.Iteration),
		"max_iterations":     fmt.Sprintf("%d", ctx.Piece.MaxMovements),
		"movement_iteration": fmt.Sprintf("%d", ctx.State.MovementIteration[ctx.Movement.Name]),
		"report_dir":         ctx.State.ReportDir,
		"user_inputs":        strings.Join(ctx.State.UserInputs, "\n"),
	}
	if ctx.State.PreviousOutput != nil {
		vars["previous_response"] = ctx.State.PreviousOutput.Content
	} else {
		vars["previous_response"] = ""
	}
	return vars
}

func facetBodies(groups ...[]types.Facet) string {
	var parts []string
	for _, group := range groups {
		for _, f := range group {
			if strings.TrimSpace(f.Content) != "" {
				parts = append(parts, strings.TrimRight(f.Content, "\n"))
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func joinSections(sections []string) string {
	kept := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}

// heading and line pick the string for the configured language. English
// is the default; anything other than "ja" falls back to it.
func heading(ctx Context, en, ja string) string {
	return "## " + line(ctx, en, ja)
}

func line(ctx Context, en, ja string) string {
	if ctx.Language == "ja" {
		return ja
	}
	return en
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the takt runtime.
// This package breaks import cycles by providing common records that the
// piece loader, instruction builder, rule evaluator, and engine depend on.
package types

import (
	"encoding/json"
	"time"
)

// Terminal transition targets. A rule whose Next is one of these ends the
// piece run instead of selecting another movement.
const (
	NextComplete = "COMPLETE"
	NextAbort    = "ABORT"
)

// ============================================================================
// Facets
// ============================================================================

// FacetType identifies one of the reusable prompt-fragment categories.
type FacetType string

const (
	FacetPersona        FacetType = "persona"
	FacetPolicy         FacetType = "policy"
	FacetKnowledge      FacetType = "knowledge"
	FacetInstruction    FacetType = "instruction"
	FacetOutputContract FacetType = "output_contract"
)

// Valid reports whether t names a known facet type.
func (t FacetType) Valid() bool {
	switch t {
	case FacetPersona, FacetPolicy, FacetKnowledge, FacetInstruction, FacetOutputContract:
		return true
	}
	return false
}

// Facet is a materialized prompt fragment: the resolved file path and its
// verbatim text content.
type Facet struct {
	Type    FacetType
	Name    string
	Path    string
	Content string
}

// ============================================================================
// Permission modes
// ============================================================================

// PermissionMode is the strictness level granted to a provider call.
// The ordering readonly < edit < full is load-bearing: a movement's
// required mode acts as a floor during resolution.
type PermissionMode string

const (
	PermissionReadonly PermissionMode = "readonly"
	PermissionEdit     PermissionMode = "edit"
	PermissionFull     PermissionMode = "full"
)

// Rank returns the position of the mode in the strict ordering.
// Unknown modes rank below readonly.
func (m PermissionMode) Rank() int {
	switch m {
	case PermissionReadonly:
		return 1
	case PermissionEdit:
		return 2
	case PermissionFull:
		return 3
	}
	return 0
}

// Valid reports whether m is a known permission mode.
func (m PermissionMode) Valid() bool {
	return m.Rank() > 0
}

// MaxPermission returns the higher of the two modes.
func MaxPermission(a, b PermissionMode) PermissionMode {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ============================================================================
// Rules
// ============================================================================

// RuleKind discriminates how a rule's condition is evaluated.
type RuleKind string

const (
	// RuleTag matches the [MOVEMENT:N] marker in an agent response.
	RuleTag RuleKind = "tag"

	// RuleAI is evaluated by consulting an LLM judge with the condition text.
	RuleAI RuleKind = "ai"

	// RuleAggregate applies to the sub-movement outcomes of a parallel
	// movement ("all" or "any" semantics).
	RuleAggregate RuleKind = "aggregate"
)

// AggregateMode selects all/any semantics for an aggregate rule.
type AggregateMode string

const (
	AggregateAll AggregateMode = "all"
	AggregateAny AggregateMode = "any"
)

// Rule is one (condition, next) transition out of a movement.
// Rules are ordered; Ordinal is the 1-based position and doubles as the
// tag index expected in agent responses. The normalizer fills Ordinal so
// match time never reconstructs it from list position.
type Rule struct {
	Condition       string
	Next            string
	Ordinal         int
	Kind            RuleKind
	AICondition     string
	Aggregate       AggregateMode
	InteractiveOnly bool
	Appendix        string
}

// IsTerminal reports whether the rule ends the piece run.
func (r Rule) IsTerminal() bool {
	return r.Next == NextComplete || r.Next == NextAbort
}

// ============================================================================
// Movements
// ============================================================================

// MovementKind discriminates the execution variant of a movement.
type MovementKind string

const (
	MovementSingle     MovementKind = "single"
	MovementParallel   MovementKind = "parallel"
	MovementTeamLeader MovementKind = "team_leader"
	MovementArpeggio   MovementKind = "arpeggio"
)

// OutputSchema is a structured-output JSON schema bound to a movement at
// normalization time. Definition holds the raw schema document.
type OutputSchema struct {
	Name       string
	Definition json.RawMessage
}

// ReportSpec describes the Phase 2 report a movement produces.
type ReportSpec struct {
	// Files are report file names relative to the run's report directory.
	Files []string

	// Contract is the resolved output-contract text prescribing the report
	// format. Empty means the auto-generated per-iteration section format.
	Contract string
}

// ParallelConfig holds the ordered sub-movements of a parallel movement.
type ParallelConfig struct {
	SubMovements []Movement
}

// TeamLeaderConfig configures dynamic decomposition by a lead persona.
type TeamLeaderConfig struct {
	// MaxParts bounds the decomposition; never above MaxTeamParts.
	MaxParts int

	// PartTimeout bounds each part's execution. Zero means no timeout.
	PartTimeout time.Duration
}

// MaxTeamParts is the hard upper bound on team-leader decomposition.
const MaxTeamParts = 3

// ArpeggioConfig configures data-driven batched execution.
type ArpeggioConfig struct {
	// Source is the path to the CSV data source.
	Source string

	// BatchSize is the number of data rows per agent call.
	BatchSize int

	// Concurrency bounds simultaneous batch calls. Zero means 1.
	Concurrency int

	// MergeSeparator joins batch outputs into the final response content.
	MergeSeparator string
}

// Movement is one node in a piece graph.
type Movement struct {
	Name        string
	Description string
	Kind        MovementKind

	AllowedTools           []string
	RequiredPermissionMode PermissionMode
	Provider               string
	Model                  string
	Edit                   bool
	PassPreviousResponse   bool
	InstructionTemplate    string

	// MCPServers names the configured MCP server bindings this movement's
	// provider calls receive.
	MCPServers []string

	Persona         *Facet
	Policies        []Facet
	Knowledge       []Facet
	OutputContracts []Facet

	ReportSpec   *ReportSpec
	Rules        []Rule
	OutputSchema *OutputSchema

	Parallel   *ParallelConfig
	TeamLeader *TeamLeaderConfig
	Arpeggio   *ArpeggioConfig
}

// HasAggregateRules reports whether any rule is an aggregate rule.
func (m *Movement) HasAggregateRules() bool {
	for _, r := range m.Rules {
		if r.Kind == RuleAggregate {
			return true
		}
	}
	return false
}

// ActiveRules returns the rules applicable in the current mode:
// interactive-only rules are skipped when running non-interactively.
// Ordinals are preserved from normalization.
func (m *Movement) ActiveRules(interactive bool) []Rule {
	if interactive {
		return m.Rules
	}
	out := make([]Rule, 0, len(m.Rules))
	for _, r := range m.Rules {
		if !r.InteractiveOnly {
			out = append(out, r)
		}
	}
	return out
}

// NonAggregateRules returns the rules that are not aggregate rules.
func (m *Movement) NonAggregateRules() []Rule {
	out := make([]Rule, 0, len(m.Rules))
	for _, r := range m.Rules {
		if r.Kind != RuleAggregate {
			out = append(out, r)
		}
	}
	return out
}

// ============================================================================
// Pieces
// ============================================================================

// Piece is a named directed graph of movements. Immutable after load;
// shared by reference across engine instances.
type Piece struct {
	Name            string
	Description     string
	MaxMovements    int
	InitialMovement string
	Movements       []Movement

	// ProviderOptions are piece-wide provider defaults. Options set at
	// piece level take precedence over piece_config level.
	ProviderOptions map[string]any

	// ArbitrationMovement, when set, receives control when the cycle
	// detector trips instead of aborting the run.
	ArbitrationMovement string

	// RuntimePrepare is an optional shell command run before the first
	// movement of each task.
	RuntimePrepare string

	// MinVersion is the minimum runtime version the piece requires,
	// MAJOR.MINOR.PATCH with no prefix.
	MinVersion string
}

// Movement returns the named movement, if present.
func (p *Piece) Movement(name string) (*Movement, bool) {
	for i := range p.Movements {
		if p.Movements[i].Name == name {
			return &p.Movements[i], true
		}
	}
	return nil, false
}

// ============================================================================
// Responses and execution state
// ============================================================================

// ResponseStatus classifies the outcome of one agent invocation.
type ResponseStatus string

const (
	StatusDone    ResponseStatus = "done"
	StatusBlocked ResponseStatus = "blocked"
	StatusError   ResponseStatus = "error"
	StatusAnswer  ResponseStatus = "answer"
)

// Response is the output of one agent invocation.
// Invariant: Status == StatusError implies non-empty Content describing
// the error.
type Response struct {
	Content          string
	Status           ResponseStatus
	StructuredOutput map[string]any
	SessionID        string
	Timestamp        time.Time
}

// Phase identifies one of the three execution stages of a movement.
type Phase string

const (
	PhaseMain     Phase = "main"
	PhaseReport   Phase = "report"
	PhaseJudgment Phase = "judgment"
)

// PieceStatus is the overall state of one piece run.
type PieceStatus string

const (
	PieceRunning   PieceStatus = "running"
	PieceCompleted PieceStatus = "completed"
	PieceFailed    PieceStatus = "failed"
	PieceAborted   PieceStatus = "aborted"
)

// Failure reasons recorded on ExecutionState.Reason.
const (
	ReasonMaxMovementsReached = "max_movements_reached"
	ReasonRuleAbort           = "rule_abort"
	ReasonCycleDetected       = "cycle_detected"
)

// HistoryEntry is one (movement, phase, response) triple in run history.
// MatchMethod is stamped once the rule evaluator resolves the movement's
// transition; it stays empty on entries of movements that never reached
// rule evaluation and on report-phase entries.
type HistoryEntry struct {
	Movement    string
	Phase       Phase
	Response    Response
	MatchMethod MatchMethod
}

// ExecutionState is the mutable state of one piece run, exclusively owned
// by one engine instance.
// Invariant: Iteration <= Piece.MaxMovements at every observable point.
type ExecutionState struct {
	CurrentMovement   string
	Iteration         int
	MovementIteration map[string]int
	ReportDir         string
	Status            PieceStatus
	Reason            string
	PreviousOutput    *Response
	UserInputs        []string
	History           []HistoryEntry
}

// NewExecutionState returns a running state positioned at the entry movement.
func NewExecutionState(initial string) *ExecutionState {
	return &ExecutionState{
		CurrentMovement:   initial,
		MovementIteration: make(map[string]int),
		Status:            PieceRunning,
	}
}

// Record appends a history entry and updates the previous output when the
// entry belongs to the main phase.
func (s *ExecutionState) Record(movement string, phase Phase, resp Response) {
	s.History = append(s.History, HistoryEntry{Movement: movement, Phase: phase, Response: resp})
	if phase == PhaseMain {
		r := resp
		s.PreviousOutput = &r
	}
}

// RecordMatch stamps how the rule evaluator resolved the movement's
// transition on the current iteration's history entries: the main record
// and, when present, the judgment record. It walks back no further than
// the movement's most recent main entry, so earlier iterations keep
// their own methods.
func (s *ExecutionState) RecordMatch(movement string, method MatchMethod) {
	for i := len(s.History) - 1; i >= 0; i-- {
		e := &s.History[i]
		if e.Movement != movement {
			continue
		}
		switch e.Phase {
		case PhaseJudgment:
			e.MatchMethod = method
		case PhaseMain:
			e.MatchMethod = method
			return
		}
	}
}

// ============================================================================
// Match methods
// ============================================================================

// MatchMethod records how the rule evaluator selected a rule.
type MatchMethod string

const (
	MatchAutoSelect       MatchMethod = "auto_select"
	MatchAggregate        MatchMethod = "aggregate"
	MatchTagPhase3        MatchMethod = "tag_phase3"
	MatchStructuredOutput MatchMethod = "structured_output"
	MatchTagPhase1        MatchMethod = "tag_phase1"
	MatchAIJudge          MatchMethod = "ai_judge"

	// MatchTagFallback is the externally-visible coalescing of the two
	// tag-based methods, kept stable for session-log consumers.
	MatchTagFallback MatchMethod = "tag_fallback"
)

// External folds the internal tag-method variants into the stable
// externally-visible value.
func (m MatchMethod) External() MatchMethod {
	if m == MatchTagPhase1 || m == MatchTagPhase3 {
		return MatchTagFallback
	}
	return m
}

// Valid reports whether m is a well-formed internal match method.
func (m MatchMethod) Valid() bool {
	switch m {
	case MatchAutoSelect, MatchAggregate, MatchTagPhase3,
		MatchStructuredOutput, MatchTagPhase1, MatchAIJudge:
		return true
	}
	return false
}

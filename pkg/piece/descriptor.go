// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package piece loads, validates, and normalizes piece descriptors into
// immutable Piece records with all facet references materialized.
package piece

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Descriptor is the raw YAML shape of a piece file.
type Descriptor struct {
	Name            string               `yaml:"name"`
	Description     string               `yaml:"description"`
	MaxMovements    int                  `yaml:"max_movements"`
	InitialMovement string               `yaml:"initial_movement"`
	MinVersion      string               `yaml:"min_version,omitempty"`
	ProviderOptions map[string]any       `yaml:"provider_options,omitempty"`
	RuntimePrepare  string               `yaml:"runtime_prepare,omitempty"`
	Movements       []MovementDescriptor `yaml:"movements"`
	PieceConfig     *PieceConfig         `yaml:"piece_config,omitempty"`
}

// PieceConfig carries piece-scoped fallbacks. Its provider options rank
// below piece-level provider_options.
type PieceConfig struct {
	ProviderOptions     map[string]any `yaml:"provider_options,omitempty"`
	ArbitrationMovement string         `yaml:"arbitration_movement,omitempty"`
}

// MovementDescriptor is the raw YAML shape of one movement.
type MovementDescriptor struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	Persona         string   `yaml:"persona,omitempty"`
	Policies        []string `yaml:"policies,omitempty"`
	Knowledge       []string `yaml:"knowledge,omitempty"`
	OutputContracts []string `yaml:"output_contracts,omitempty"`
	Instruction     string   `yaml:"instruction,omitempty"`

	AllowedTools           []string `yaml:"allowed_tools,omitempty"`
	MCPServers             []string `yaml:"mcp_servers,omitempty"`
	RequiredPermissionMode string   `yaml:"required_permission_mode,omitempty"`
	Provider               string   `yaml:"provider,omitempty"`
	Model                  string   `yaml:"model,omitempty"`
	Edit                   bool     `yaml:"edit,omitempty"`
	PassPreviousResponse   bool     `yaml:"pass_previous_response,omitempty"`

	Report       *ReportDescriptor `yaml:"report,omitempty"`
	OutputSchema string            `yaml:"output_schema,omitempty"`
	Rules        []RuleDescriptor  `yaml:"rules,omitempty"`

	Parallel   *ParallelDescriptor   `yaml:"parallel,omitempty"`
	TeamLeader *TeamLeaderDescriptor `yaml:"team_leader,omitempty"`
	Arpeggio   *ArpeggioDescriptor   `yaml:"arpeggio,omitempty"`
}

// ReportDescriptor configures the Phase 2 report.
type ReportDescriptor struct {
	Files    []string `yaml:"files"`
	Contract string   `yaml:"contract,omitempty"`
}

// RuleDescriptor is the raw YAML shape of one rule.
type RuleDescriptor struct {
	Condition       string `yaml:"condition"`
	Next            string `yaml:"next"`
	AICondition     string `yaml:"ai_condition,omitempty"`
	Aggregate       string `yaml:"aggregate,omitempty"`
	InteractiveOnly bool   `yaml:"interactive_only,omitempty"`
	Appendix        string `yaml:"appendix,omitempty"`
}

// ParallelDescriptor nests the ordered sub-movements.
type ParallelDescriptor struct {
	Movements []MovementDescriptor `yaml:"movements"`
}

// TeamLeaderDescriptor configures dynamic decomposition.
type TeamLeaderDescriptor struct {
	MaxParts  int `yaml:"max_parts,omitempty"`
	TimeoutMS int `yaml:"timeout_ms,omitempty"`
}

// ArpeggioDescriptor configures data-driven batched execution.
type ArpeggioDescriptor struct {
	Source         string `yaml:"source"`
	BatchSize      int    `yaml:"batch_size,omitempty"`
	Concurrency    int    `yaml:"concurrency,omitempty"`
	MergeSeparator string `yaml:"merge_separator,omitempty"`
}

// ParseDescriptor strictly decodes a piece descriptor document.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("parse piece descriptor: %w", err)
	}
	return &d, nil
}

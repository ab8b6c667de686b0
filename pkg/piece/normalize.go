// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package piece

import (
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/takt-labs/takt/pkg/types"
)

// normalize resolves every facet reference, annotates rule kinds and
// ordinals, binds structured-output schemas, and returns the immutable
// piece record.
func (l *Loader) normalize(d *Descriptor) (*types.Piece, error) {
	p := &types.Piece{
		Name:            d.Name,
		Description:     d.Description,
		MaxMovements:    d.MaxMovements,
		InitialMovement: d.InitialMovement,
		MinVersion:      d.MinVersion,
		RuntimePrepare:  d.RuntimePrepare,
		ProviderOptions: mergeOptions(d),
	}
	if d.PieceConfig != nil {
		p.ArbitrationMovement = d.PieceConfig.ArbitrationMovement
	}

	p.Movements = make([]types.Movement, 0, len(d.Movements))
	for i := range d.Movements {
		m, err := l.normalizeMovement(&d.Movements[i])
		if err != nil {
			return nil, err
		}
		p.Movements = append(p.Movements, *m)
	}
	return p, nil
}

// mergeOptions layers piece-level provider options over the piece_config
// fallback, which is the lowest-priority piece-scoped layer.
func mergeOptions(d *Descriptor) map[string]any {
	if d.ProviderOptions == nil && (d.PieceConfig == nil || d.PieceConfig.ProviderOptions == nil) {
		return nil
	}
	merged := make(map[string]any)
	if d.PieceConfig != nil {
		for k, v := range d.PieceConfig.ProviderOptions {
			merged[k] = v
		}
	}
	for k, v := range d.ProviderOptions {
		merged[k] = v
	}
	return merged
}

func (l *Loader) normalizeMovement(md *MovementDescriptor) (*types.Movement, error) {
	m := &types.Movement{
		Name:                   md.Name,
		Description:            md.Description,
		Kind:                   movementKind(md),
		AllowedTools:           md.AllowedTools,
		MCPServers:             md.MCPServers,
		RequiredPermissionMode: types.PermissionMode(md.RequiredPermissionMode),
		Provider:               md.Provider,
		Model:                  md.Model,
		Edit:                   md.Edit,
		PassPreviousResponse:   md.PassPreviousResponse,
		InstructionTemplate:    md.Instruction,
	}

	if md.Persona != "" {
		f, err := l.facets.Resolve(types.FacetPersona, md.Persona)
		if err != nil {
			return nil, fmt.Errorf("movement %q: %w", md.Name, err)
		}
		m.Persona = &f
	}
	var err error
	if m.Policies, err = l.facets.ResolveAll(types.FacetPolicy, md.Policies); err != nil {
		return nil, fmt.Errorf("movement %q: %w", md.Name, err)
	}
	if m.Knowledge, err = l.facets.ResolveAll(types.FacetKnowledge, md.Knowledge); err != nil {
		return nil, fmt.Errorf("movement %q: %w", md.Name, err)
	}
	if m.OutputContracts, err = l.facets.ResolveAll(types.FacetOutputContract, md.OutputContracts); err != nil {
		return nil, fmt.Errorf("movement %q: %w", md.Name, err)
	}

	if md.Report != nil {
		spec := &types.ReportSpec{Files: md.Report.Files}
		if md.Report.Contract != "" {
			f, err := l.facets.Resolve(types.FacetOutputContract, md.Report.Contract)
			if err != nil {
				return nil, fmt.Errorf("movement %q report: %w", md.Name, err)
			}
			spec.Contract = f.Content
		}
		m.ReportSpec = spec
	}

	if md.OutputSchema != "" {
		schema, err := l.loadSchema(md.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("movement %q: %w", md.Name, err)
		}
		// Compile once here so a malformed schema fails at load time,
		// not in the middle of a run.
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema.Definition)); err != nil {
			return nil, fmt.Errorf("movement %q: compile schema %s: %w", md.Name, md.OutputSchema, err)
		}
		m.OutputSchema = schema
	}

	m.Rules = normalizeRules(md.Rules)

	switch m.Kind {
	case types.MovementParallel:
		cfg := &types.ParallelConfig{}
		for i := range md.Parallel.Movements {
			sub, err := l.normalizeMovement(&md.Parallel.Movements[i])
			if err != nil {
				return nil, err
			}
			cfg.SubMovements = append(cfg.SubMovements, *sub)
		}
		m.Parallel = cfg
	case types.MovementTeamLeader:
		maxParts := md.TeamLeader.MaxParts
		if maxParts == 0 {
			maxParts = types.MaxTeamParts
		}
		m.TeamLeader = &types.TeamLeaderConfig{
			MaxParts:    maxParts,
			PartTimeout: msToDuration(md.TeamLeader.TimeoutMS),
		}
		if m.OutputSchema == nil {
			schema, err := l.loadSchema("team_parts")
			if err != nil {
				return nil, fmt.Errorf("movement %q: %w", md.Name, err)
			}
			m.OutputSchema = schema
		}
	case types.MovementArpeggio:
		batch := md.Arpeggio.BatchSize
		if batch == 0 {
			batch = 1
		}
		concurrency := md.Arpeggio.Concurrency
		if concurrency == 0 {
			concurrency = 1
		}
		sep := md.Arpeggio.MergeSeparator
		if sep == "" {
			sep = "\n\n"
		}
		m.Arpeggio = &types.ArpeggioConfig{
			Source:         md.Arpeggio.Source,
			BatchSize:      batch,
			Concurrency:    concurrency,
			MergeSeparator: sep,
		}
	}

	return m, nil
}

func movementKind(md *MovementDescriptor) types.MovementKind {
	switch {
	case md.Parallel != nil:
		return types.MovementParallel
	case md.TeamLeader != nil:
		return types.MovementTeamLeader
	case md.Arpeggio != nil:
		return types.MovementArpeggio
	}
	return types.MovementSingle
}

// normalizeRules computes the kind discriminator and the 1-based ordinal
// for every rule. The ordinal doubles as the tag index, so it is fixed
// here once instead of being reconstructed from list position at match
// time.
func normalizeRules(rules []RuleDescriptor) []types.Rule {
	out := make([]types.Rule, 0, len(rules))
	for i, rd := range rules {
		r := types.Rule{
			Condition:       rd.Condition,
			Next:            rd.Next,
			Ordinal:         i + 1,
			InteractiveOnly: rd.InteractiveOnly,
			Appendix:        rd.Appendix,
		}
		switch {
		case rd.Aggregate != "":
			r.Kind = types.RuleAggregate
			r.Aggregate = types.AggregateMode(rd.Aggregate)
		case rd.AICondition != "":
			r.Kind = types.RuleAI
			r.AICondition = rd.AICondition
		default:
			r.Kind = types.RuleTag
		}
		out = append(out, r)
	}
	return out
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

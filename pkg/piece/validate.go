// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package piece

import (
	"fmt"
	"regexp"

	"golang.org/x/mod/semver"

	"github.com/takt-labs/takt/internal/version"
	"github.com/takt-labs/takt/pkg/types"
)

// minVersionRE enforces bare MAJOR.MINOR.PATCH: no "v" prefix, no
// pre-release or build suffix.
var minVersionRE = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// validate checks the raw descriptor against the schema rules before any
// facet resolution happens.
func validate(d *Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if d.MaxMovements < 1 {
		return fmt.Errorf("%w: max_movements must be >= 1, got %d", ErrValidation, d.MaxMovements)
	}
	if len(d.Movements) == 0 {
		return fmt.Errorf("%w: movements is required and must not be empty", ErrValidation)
	}
	if d.InitialMovement == "" {
		return fmt.Errorf("%w: initial_movement is required", ErrValidation)
	}

	if d.MinVersion != "" {
		if !minVersionRE.MatchString(d.MinVersion) {
			return fmt.Errorf("%w: min_version %q must be MAJOR.MINOR.PATCH", ErrValidation, d.MinVersion)
		}
		if semver.Compare("v"+version.Get(), "v"+d.MinVersion) < 0 {
			return fmt.Errorf("%w: piece requires takt >= %s, running %s", ErrValidation, d.MinVersion, version.Get())
		}
	}

	names := make(map[string]bool, len(d.Movements))
	for i := range d.Movements {
		m := &d.Movements[i]
		if m.Name == "" {
			return fmt.Errorf("%w: movement %d has no name", ErrValidation, i)
		}
		if names[m.Name] {
			return fmt.Errorf("%w: duplicate movement name %q", ErrValidation, m.Name)
		}
		names[m.Name] = true

		if err := validateMovement(m); err != nil {
			return err
		}
	}

	if !names[d.InitialMovement] {
		return fmt.Errorf("%w: initial_movement %q is not a movement", ErrValidation, d.InitialMovement)
	}

	// Referential integrity: every next resolves to a movement or terminal.
	for i := range d.Movements {
		m := &d.Movements[i]
		for _, r := range m.Rules {
			if r.Next == types.NextComplete || r.Next == types.NextAbort {
				continue
			}
			if !names[r.Next] {
				return fmt.Errorf("%w: movement %q rule next %q resolves to nothing", ErrValidation, m.Name, r.Next)
			}
		}
	}

	if d.PieceConfig != nil && d.PieceConfig.ArbitrationMovement != "" {
		if !names[d.PieceConfig.ArbitrationMovement] {
			return fmt.Errorf("%w: arbitration_movement %q is not a movement", ErrValidation, d.PieceConfig.ArbitrationMovement)
		}
	}

	return nil
}

func validateMovement(m *MovementDescriptor) error {
	variants := 0
	if m.Parallel != nil {
		variants++
	}
	if m.TeamLeader != nil {
		variants++
	}
	if m.Arpeggio != nil {
		variants++
	}
	if variants > 1 {
		return fmt.Errorf("%w: movement %q sets more than one of parallel, team_leader, arpeggio", ErrValidation, m.Name)
	}

	if m.RequiredPermissionMode != "" && !types.PermissionMode(m.RequiredPermissionMode).Valid() {
		return fmt.Errorf("%w: movement %q has unknown required_permission_mode %q", ErrValidation, m.Name, m.RequiredPermissionMode)
	}

	for i, r := range m.Rules {
		if r.Next == "" {
			return fmt.Errorf("%w: movement %q rule %d has no next", ErrValidation, m.Name, i+1)
		}
		if r.Aggregate != "" && r.Aggregate != string(types.AggregateAll) && r.Aggregate != string(types.AggregateAny) {
			return fmt.Errorf("%w: movement %q rule %d aggregate must be all or any, got %q", ErrValidation, m.Name, i+1, r.Aggregate)
		}
	}

	switch {
	case m.Parallel != nil:
		return validateParallel(m)
	case m.TeamLeader != nil:
		return validateTeamLeader(m)
	case m.Arpeggio != nil:
		return validateArpeggio(m)
	}
	return nil
}

func validateParallel(m *MovementDescriptor) error {
	if len(m.Parallel.Movements) == 0 {
		return fmt.Errorf("%w: parallel movement %q has no sub-movements", ErrValidation, m.Name)
	}

	// The parent's rules must be exclusively aggregate.
	aggregates := make([]string, 0, len(m.Rules))
	for i, r := range m.Rules {
		if r.Aggregate == "" {
			return fmt.Errorf("%w: parallel movement %q rule %d is not an aggregate rule", ErrValidation, m.Name, i+1)
		}
		aggregates = append(aggregates, r.Condition)
	}
	if len(aggregates) == 0 {
		return fmt.Errorf("%w: parallel movement %q has no aggregate rules", ErrValidation, m.Name)
	}

	subNames := make(map[string]bool, len(m.Parallel.Movements))
	for i := range m.Parallel.Movements {
		sub := &m.Parallel.Movements[i]
		if sub.Parallel != nil || sub.TeamLeader != nil || sub.Arpeggio != nil {
			return fmt.Errorf("%w: sub-movement %q of %q must be a single movement", ErrValidation, sub.Name, m.Name)
		}
		if subNames[sub.Name] {
			return fmt.Errorf("%w: duplicate sub-movement name %q in %q", ErrValidation, sub.Name, m.Name)
		}
		subNames[sub.Name] = true

		// Each sub-movement needs at least one rule whose condition text
		// matches one of the parent's aggregate conditions, otherwise the
		// aggregate can never observe it.
		matched := false
		for _, r := range sub.Rules {
			for _, cond := range aggregates {
				if r.Condition == cond {
					matched = true
				}
			}
		}
		if !matched {
			return fmt.Errorf("%w: sub-movement %q of %q has no rule matching the parent's aggregate conditions", ErrValidation, sub.Name, m.Name)
		}
	}
	return nil
}

func validateTeamLeader(m *MovementDescriptor) error {
	if m.TeamLeader.MaxParts > types.MaxTeamParts {
		return fmt.Errorf("%w: movement %q max_parts %d exceeds the limit of %d", ErrValidation, m.Name, m.TeamLeader.MaxParts, types.MaxTeamParts)
	}
	if m.TeamLeader.MaxParts < 0 {
		return fmt.Errorf("%w: movement %q max_parts must not be negative", ErrValidation, m.Name)
	}
	if m.TeamLeader.TimeoutMS < 0 {
		return fmt.Errorf("%w: movement %q timeout_ms must not be negative", ErrValidation, m.Name)
	}
	return nil
}

func validateArpeggio(m *MovementDescriptor) error {
	if m.Arpeggio.Source == "" {
		return fmt.Errorf("%w: arpeggio movement %q has no source", ErrValidation, m.Name)
	}
	if m.Arpeggio.BatchSize < 0 || m.Arpeggio.Concurrency < 0 {
		return fmt.Errorf("%w: arpeggio movement %q batch_size and concurrency must not be negative", ErrValidation, m.Name)
	}
	return nil
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package piece

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-labs/takt/pkg/types"
)

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	cwd := t.TempDir()
	t.Setenv("TAKT_CONFIG_DIR", t.TempDir())
	return NewLoader(cwd), cwd
}

func writePiece(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const minimalPiece = `
name: mini
max_movements: 3
initial_movement: work
movements:
  - name: work
    persona: implementer
    instruction: Do the thing.
    rules:
      - condition: Done
        next: COMPLETE
`

func TestLoadBuiltinDefault(t *testing.T) {
	loader, _ := newTestLoader(t)

	p, err := loader.Load("default")
	require.NoError(t, err)
	assert.Equal(t, "default", p.Name)
	assert.Equal(t, "plan", p.InitialMovement)
	assert.Equal(t, "arbitration", p.ArbitrationMovement)

	review, ok := p.Movement("ai_review")
	require.True(t, ok)
	require.Len(t, review.Rules, 2)
	assert.Equal(t, 1, review.Rules[0].Ordinal)
	assert.Equal(t, 2, review.Rules[1].Ordinal)
	assert.Equal(t, types.NextComplete, review.Rules[0].Next)
}

func TestLoadProjectLayerWins(t *testing.T) {
	loader, cwd := newTestLoader(t)
	writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "default.yaml", minimalPiece)

	p, err := loader.Load("default")
	require.NoError(t, err)
	assert.Equal(t, "mini", p.Name)
}

func TestLoadAbsolutePath(t *testing.T) {
	loader, _ := newTestLoader(t)
	path := writePiece(t, t.TempDir(), "x.yaml", minimalPiece)

	p, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mini", p.Name)
}

func TestLoadMovementMCPServers(t *testing.T) {
	loader, cwd := newTestLoader(t)
	writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "mcp.yaml", `
name: mcp
max_movements: 3
initial_movement: work
movements:
  - name: work
    instruction: Do the thing.
    mcp_servers: [docs, filesystem]
    rules:
      - condition: Done
        next: COMPLETE
`)

	p, err := loader.Load("mcp")
	require.NoError(t, err)
	work, ok := p.Movement("work")
	require.True(t, ok)
	assert.Equal(t, []string{"docs", "filesystem"}, work.MCPServers)
}

func TestLoadAmbiguousWithinLayer(t *testing.T) {
	loader, cwd := newTestLoader(t)
	dir := filepath.Join(cwd, ".takt", "pieces")
	writePiece(t, dir, "mini.yaml", minimalPiece)
	writePiece(t, dir, "mini.yml", minimalPiece)

	_, err := loader.Load("mini")
	require.ErrorIs(t, err, ErrAmbiguousPiece)
}

func TestLoadNotFound(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.Load("no-such-piece")
	require.ErrorIs(t, err, ErrPieceNotFound)
}

func TestLoadRepertoireReference(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := filepath.Join(os.Getenv("TAKT_CONFIG_DIR"), "repertoire", "@acme", "flows", "pieces")
	writePiece(t, dir, "mini.yaml", minimalPiece)

	p, err := loader.Load("@acme/flows/mini")
	require.NoError(t, err)
	assert.Equal(t, "mini", p.Name)

	// Bare name also resolves through the repertoire layer.
	p, err = loader.Load("mini")
	require.NoError(t, err)
	assert.Equal(t, "mini", p.Name)
}

func TestLoadReloadStructurallyEqual(t *testing.T) {
	loader, _ := newTestLoader(t)

	a, err := loader.Load("default")
	require.NoError(t, err)
	b, err := loader.Load("default")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "max_parts above limit",
			yaml: `
name: bad
max_movements: 2
initial_movement: lead
movements:
  - name: lead
    team_leader:
      max_parts: 4
    rules:
      - condition: ok
        next: COMPLETE
`,
		},
		{
			name: "two variants on one movement",
			yaml: `
name: bad
max_movements: 2
initial_movement: both
movements:
  - name: both
    team_leader:
      max_parts: 2
    arpeggio:
      source: data.csv
    rules:
      - condition: ok
        next: COMPLETE
`,
		},
		{
			name: "dangling next",
			yaml: `
name: bad
max_movements: 2
initial_movement: a
movements:
  - name: a
    rules:
      - condition: ok
        next: nowhere
`,
		},
		{
			name: "duplicate movement names",
			yaml: `
name: bad
max_movements: 2
initial_movement: a
movements:
  - name: a
    rules:
      - condition: ok
        next: COMPLETE
  - name: a
    rules:
      - condition: ok
        next: COMPLETE
`,
		},
		{
			name: "min_version with prefix",
			yaml: `
name: bad
max_movements: 2
initial_movement: a
min_version: v1.0.0
movements:
  - name: a
    rules:
      - condition: ok
        next: COMPLETE
`,
		},
		{
			name: "min_version with pre-release suffix",
			yaml: `
name: bad
max_movements: 2
initial_movement: a
min_version: 1.0.0-rc1
movements:
  - name: a
    rules:
      - condition: ok
        next: COMPLETE
`,
		},
		{
			name: "parallel sub-movement without matching rule",
			yaml: `
name: bad
max_movements: 2
initial_movement: par
movements:
  - name: par
    parallel:
      movements:
        - name: sub1
          rules:
            - condition: something else
              next: COMPLETE
    rules:
      - condition: approved
        aggregate: all
        next: COMPLETE
`,
		},
		{
			name: "parallel parent with non-aggregate rule",
			yaml: `
name: bad
max_movements: 2
initial_movement: par
movements:
  - name: par
    parallel:
      movements:
        - name: sub1
          rules:
            - condition: approved
              next: COMPLETE
    rules:
      - condition: approved
        next: COMPLETE
`,
		},
		{
			name: "zero max_movements",
			yaml: `
name: bad
max_movements: 0
initial_movement: a
movements:
  - name: a
    rules:
      - condition: ok
        next: COMPLETE
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, cwd := newTestLoader(t)
			writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "bad.yaml", tt.yaml)
			_, err := loader.Load("bad")
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNormalizeRuleKinds(t *testing.T) {
	loader, cwd := newTestLoader(t)
	writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "kinds.yaml", `
name: kinds
max_movements: 4
initial_movement: work
movements:
  - name: work
    instruction: Work.
    rules:
      - condition: tagged
        next: COMPLETE
      - condition: judged
        ai_condition: The output describes a finished task.
        next: ABORT
`)

	p, err := loader.Load("kinds")
	require.NoError(t, err)
	m, ok := p.Movement("work")
	require.True(t, ok)
	require.Len(t, m.Rules, 2)
	assert.Equal(t, types.RuleTag, m.Rules[0].Kind)
	assert.Equal(t, types.RuleAI, m.Rules[1].Kind)
	assert.Equal(t, 2, m.Rules[1].Ordinal)
}

func TestSchemaBinding(t *testing.T) {
	loader, cwd := newTestLoader(t)
	writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "schema.yaml", `
name: schema
max_movements: 2
initial_movement: work
movements:
  - name: work
    output_schema: step_decision
    rules:
      - condition: ok
        next: COMPLETE
`)

	p, err := loader.Load("schema")
	require.NoError(t, err)
	m, _ := p.Movement("work")
	require.NotNil(t, m.OutputSchema)
	assert.Equal(t, "step_decision", m.OutputSchema.Name)
}

func TestSchemaNotFound(t *testing.T) {
	loader, cwd := newTestLoader(t)
	writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "schema.yaml", `
name: schema
max_movements: 2
initial_movement: work
movements:
  - name: work
    output_schema: no_such_schema
    rules:
      - condition: ok
        next: COMPLETE
`)

	_, err := loader.Load("schema")
	require.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestFacetNotFoundSurfaces(t *testing.T) {
	loader, cwd := newTestLoader(t)
	writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "facets.yaml", `
name: facets
max_movements: 2
initial_movement: work
movements:
  - name: work
    persona: no-such-persona
    rules:
      - condition: ok
        next: COMPLETE
`)

	_, err := loader.Load("facets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "facet not found")
}

func TestTeamLeaderDefaults(t *testing.T) {
	loader, cwd := newTestLoader(t)
	writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "team.yaml", `
name: team
max_movements: 2
initial_movement: lead
movements:
  - name: lead
    persona: lead
    team_leader: {}
    rules:
      - condition: done
        aggregate: all
        next: COMPLETE
`)

	p, err := loader.Load("team")
	require.NoError(t, err)
	m, _ := p.Movement("lead")
	require.NotNil(t, m.TeamLeader)
	assert.Equal(t, types.MaxTeamParts, m.TeamLeader.MaxParts)
	require.NotNil(t, m.OutputSchema, "team leader binds the parts schema by default")
	assert.Equal(t, "team_parts", m.OutputSchema.Name)
}

func TestPieceConfigProviderOptionsLowestPriority(t *testing.T) {
	loader, cwd := newTestLoader(t)
	writePiece(t, filepath.Join(cwd, ".takt", "pieces"), "opts.yaml", `
name: opts
max_movements: 2
initial_movement: work
provider_options:
  temperature: 1
movements:
  - name: work
    rules:
      - condition: ok
        next: COMPLETE
piece_config:
  provider_options:
    temperature: 2
    top_p: 3
`)

	p, err := loader.Load("opts")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ProviderOptions["temperature"])
	assert.Equal(t, 3, p.ProviderOptions["top_p"])
}

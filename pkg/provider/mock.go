// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package provider

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/takt-labs/takt/pkg/types"
)

// MockStep is one scripted response. A step is consumed by the first
// prompt it matches; When and Persona narrow the match when set.
type MockStep struct {
	// When matches a substring of the incoming prompt.
	When string `yaml:"when"`

	// Persona matches the persona name the runner was set up with.
	Persona string `yaml:"persona"`

	Content    string         `yaml:"content"`
	Status     string         `yaml:"status"`
	Structured map[string]any `yaml:"structured"`

	// Fail, when set, makes the step return a classified provider error
	// instead of a response: blocked, transport, timeout, or interrupted.
	Fail string `yaml:"fail"`

	consumed bool
}

// MockScenario scripts a mock provider run.
type MockScenario struct {
	Steps []MockStep `yaml:"steps"`

	// Default answers prompts no step matches. Nil means a plain done
	// response with empty content.
	Default *MockStep `yaml:"default"`
}

// Mock is a scripted in-process provider used by tests and dry runs.
// All runners share the scenario; steps are consumed in order.
type Mock struct {
	mu         sync.Mutex
	scenario   MockScenario
	interrupts []string
}

// NewMock builds a mock provider from an in-memory scenario.
func NewMock(scenario MockScenario) *Mock {
	return &Mock{scenario: scenario}
}

// LoadMockScenario parses a scenario file.
func LoadMockScenario(path string) (MockScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MockScenario{}, fmt.Errorf("read mock scenario: %w", err)
	}
	var s MockScenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return MockScenario{}, fmt.Errorf("parse mock scenario %s: %w", path, err)
	}
	return s, nil
}

// Name implements types.Provider.
func (m *Mock) Name() string { return "mock" }

// Setup implements types.Provider.
func (m *Mock) Setup(spec types.PersonaSpec) (types.AgentRunner, error) {
	return &mockRunner{mock: m, persona: spec.Name}, nil
}

// Interrupt implements types.Provider. The mock records the session so
// tests can assert interrupt dispatch.
func (m *Mock) Interrupt(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupts = append(m.interrupts, sessionID)
	return nil
}

// Interrupts returns the session IDs interrupted so far.
func (m *Mock) Interrupts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.interrupts))
	copy(out, m.interrupts)
	return out
}

type mockRunner struct {
	mock    *Mock
	persona string
}

func (r *mockRunner) Run(ctx context.Context, prompt string, opts types.CallOptions) (*types.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewProviderError(types.ProviderInterrupted, "context canceled", err)
	}

	step := r.mock.take(r.persona, prompt)
	if step == nil {
		return r.respond(MockStep{Status: string(types.StatusDone)}, opts)
	}
	if step.Fail != "" {
		return nil, types.NewProviderError(types.ProviderErrorKind(step.Fail), "scripted failure", nil)
	}
	return r.respond(*step, opts)
}

func (r *mockRunner) respond(step MockStep, opts types.CallOptions) (*types.Response, error) {
	status := types.ResponseStatus(step.Status)
	if status == "" {
		status = types.StatusDone
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &types.Response{
		Content:          step.Content,
		Status:           status,
		StructuredOutput: step.Structured,
		SessionID:        sessionID,
		Timestamp:        time.Now(),
	}, nil
}

// take consumes and returns the first unconsumed matching step, or the
// scenario default.
func (m *Mock) take(persona, prompt string) *MockStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scenario.Steps {
		s := &m.scenario.Steps[i]
		if s.consumed {
			continue
		}
		if s.Persona != "" && s.Persona != persona {
			continue
		}
		if s.When != "" && !strings.Contains(prompt, s.When) {
			continue
		}
		s.consumed = true
		out := *s
		return &out
	}
	if m.scenario.Default != nil {
		out := *m.scenario.Default
		return &out
	}
	return nil
}

// MockScenarioEnv names the scenario file the registered mock factory
// loads when no inline scenario is supplied.
const MockScenarioEnv = "TAKT_MOCK_SCENARIO"

func init() {
	Register("mock", func(options map[string]any) (types.Provider, error) {
		if path, ok := options["scenario"].(string); ok && path != "" {
			s, err := LoadMockScenario(path)
			if err != nil {
				return nil, err
			}
			return NewMock(s), nil
		}
		if path := os.Getenv(MockScenarioEnv); path != "" {
			s, err := LoadMockScenario(path)
			if err != nil {
				return nil, err
			}
			return NewMock(s), nil
		}
		return NewMock(MockScenario{}), nil
	})
}

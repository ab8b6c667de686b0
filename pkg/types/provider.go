// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"context"
	"fmt"
)

// PersonaSpec carries everything a provider needs to set up an agent:
// the persona text plus optional provider, model, and schema overrides.
type PersonaSpec struct {
	Name         string
	Text         string
	Provider     string
	Model        string
	OutputSchema *OutputSchema
}

// MCPServer describes one MCP server binding passed to a provider call.
type MCPServer struct {
	// Transport is one of "stdio", "sse", or "http".
	Transport string

	// Command and Args configure a stdio transport.
	Command string
	Args    []string

	// URL configures an sse or http transport.
	URL string

	Env map[string]string
}

// CallOptions parameterizes one AgentRunner.Run invocation.
// Cancellation travels through the context passed to Run.
type CallOptions struct {
	CWD            string
	AllowedTools   []string
	PermissionMode PermissionMode
	MCPServers     map[string]MCPServer
	SessionID      string
	OutputSchema   *OutputSchema
}

// AgentRunner executes prompts against one configured persona.
type AgentRunner interface {
	Run(ctx context.Context, prompt string, opts CallOptions) (*Response, error)
}

// Provider is the abstract LLM transport adapter contract.
type Provider interface {
	Name() string
	Setup(spec PersonaSpec) (AgentRunner, error)

	// Interrupt requests a best-effort cancel of the given session.
	Interrupt(sessionID string) error
}

// ProviderErrorKind classifies provider failures. Blocked report-phase
// calls retry once with a fresh session; interrupted calls transition the
// run to aborted; transport and timeout become error responses that follow
// the rule evaluator's error path.
type ProviderErrorKind string

const (
	ProviderBlocked     ProviderErrorKind = "blocked"
	ProviderTransport   ProviderErrorKind = "transport"
	ProviderTimeout     ProviderErrorKind = "timeout"
	ProviderInterrupted ProviderErrorKind = "interrupted"
	ProviderOther       ProviderErrorKind = "other"
)

// ProviderError is a classified failure surfaced by a provider.
type ProviderError struct {
	Kind    ProviderErrorKind
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a classified provider error.
func NewProviderError(kind ProviderErrorKind, message string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Message: message, Err: err}
}

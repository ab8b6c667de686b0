// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config loads layered takt configuration.
// Priority: environment variables > project config > global config > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/takt-labs/takt/pkg/types"
)

// ProviderProfile holds per-provider permission-mode overrides.
type ProviderProfile struct {
	// Default is the provider-wide default permission mode.
	Default string `mapstructure:"default" yaml:"default"`

	// Movements maps movement names to permission-mode overrides.
	Movements map[string]string `mapstructure:"movements" yaml:"movements"`
}

// Settings is the merged runtime configuration.
type Settings struct {
	// Provider is the default provider name.
	Provider string `mapstructure:"provider"`

	// Concurrency is the scheduler worker-pool size.
	Concurrency int `mapstructure:"concurrency"`

	// TaskPollIntervalMS is the scheduler idle sleep in milliseconds.
	TaskPollIntervalMS int `mapstructure:"task_poll_interval_ms"`

	// AutoPR opens a pull request after a completed task.
	AutoPR bool `mapstructure:"auto_pr"`

	// BaseBranch is the branch worktrees fork from.
	BaseBranch string `mapstructure:"base_branch"`

	// Language selects the prompt rendering language ("en" or "ja").
	Language string `mapstructure:"language"`

	// CycleWindow is the number of recent review/fix fingerprint pairs the
	// cycle detector remembers.
	CycleWindow int `mapstructure:"cycle_window"`

	// AIReviewPattern and AIFixPattern are regexes matching the review and
	// fix movement names the cycle detector watches.
	AIReviewPattern string `mapstructure:"ai_review_pattern"`
	AIFixPattern    string `mapstructure:"ai_fix_pattern"`

	// Analytics enables the SQLite run-history store.
	Analytics bool `mapstructure:"analytics"`

	// ProviderProfiles holds global per-provider permission profiles.
	ProviderProfiles map[string]ProviderProfile `mapstructure:"provider_profiles"`

	// ProviderOptions holds global per-provider option maps.
	ProviderOptions map[string]map[string]any `mapstructure:"provider_options"`

	// MCPServers defines MCP server bindings by name. Movements opt in
	// with their mcp_servers list; the engine passes the selected
	// bindings in the call options.
	MCPServers map[string]types.MCPServer `mapstructure:"mcp_servers"`

	// ProjectProviderProfiles are the project-layer profiles; they take
	// precedence over ProviderProfiles during permission resolution.
	ProjectProviderProfiles map[string]ProviderProfile `mapstructure:"-"`
}

// Load reads the global config, merges the project config over it, and
// applies environment overrides. Missing files are not errors.
func Load(cwd string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("provider", "claude")
	v.SetDefault("concurrency", 1)
	v.SetDefault("task_poll_interval_ms", 3000)
	v.SetDefault("auto_pr", false)
	v.SetDefault("base_branch", "main")
	v.SetDefault("language", "en")
	v.SetDefault("cycle_window", 3)
	v.SetDefault("ai_review_pattern", "ai_review")
	v.SetDefault("ai_fix_pattern", "ai_fix")
	v.SetDefault("analytics", true)

	globalPath := filepath.Join(DataDir(), "config.yaml")
	if _, err := os.Stat(globalPath); err == nil {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read global config %s: %w", globalPath, err)
		}
	}

	var projectProfiles map[string]ProviderProfile
	projectPath := filepath.Join(ProjectDir(cwd), "config.yaml")
	if _, err := os.Stat(projectPath); err == nil {
		pv := viper.New()
		pv.SetConfigFile(projectPath)
		if err := pv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read project config %s: %w", projectPath, err)
		}
		var ps struct {
			ProviderProfiles map[string]ProviderProfile `mapstructure:"provider_profiles"`
		}
		if err := pv.Unmarshal(&ps); err != nil {
			return nil, fmt.Errorf("parse project config %s: %w", projectPath, err)
		}
		projectProfiles = ps.ProviderProfiles

		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge project config %s: %w", projectPath, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	s.ProjectProviderProfiles = projectProfiles

	if err := applyEnvOverrides(&s); err != nil {
		return nil, err
	}

	if s.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", s.Concurrency)
	}
	if s.CycleWindow < 1 {
		return nil, fmt.Errorf("cycle_window must be >= 1, got %d", s.CycleWindow)
	}
	return &s, nil
}

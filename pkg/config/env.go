// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const providerOptionsEnvPrefix = "TAKT_PROVIDER_OPTIONS_"

// ParseStrictBool accepts exactly "true" or "false". Variants like 0/1/yes
// are rejected so a typo never silently flips behavior.
func ParseStrictBool(name, value string) (bool, error) {
	switch value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%s must be \"true\" or \"false\", got %q", name, value)
}

// Verbose reads TAKT_VERBOSE. Unset means false.
func Verbose() (bool, error) {
	value := os.Getenv("TAKT_VERBOSE")
	if value == "" {
		return false, nil
	}
	return ParseStrictBool("TAKT_VERBOSE", value)
}

// applyEnvOverrides layers environment variables over the merged settings.
func applyEnvOverrides(s *Settings) error {
	if value := os.Getenv("TAKT_AUTO_PR"); value != "" {
		b, err := ParseStrictBool("TAKT_AUTO_PR", value)
		if err != nil {
			return err
		}
		s.AutoPR = b
	}
	if value := os.Getenv("TAKT_BASE_BRANCH"); value != "" {
		s.BaseBranch = value
	}
	if value := os.Getenv("TAKT_ANALYTICS_ENABLED"); value != "" {
		b, err := ParseStrictBool("TAKT_ANALYTICS_ENABLED", value)
		if err != nil {
			return err
		}
		s.Analytics = b
	}

	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, providerOptionsEnvPrefix) {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		provider, field, ok := splitProviderOptionKey(key)
		if !ok {
			return fmt.Errorf("malformed provider option variable %s", key)
		}
		if s.ProviderOptions == nil {
			s.ProviderOptions = make(map[string]map[string]any)
		}
		if s.ProviderOptions[provider] == nil {
			s.ProviderOptions[provider] = make(map[string]any)
		}
		s.ProviderOptions[provider][field] = typedOptionValue(key, value)
	}
	return nil
}

// splitProviderOptionKey splits TAKT_PROVIDER_OPTIONS_<PROVIDER>_<FIELD>
// into its lowercased provider and field parts. The field may itself
// contain underscores; the provider may not.
func splitProviderOptionKey(key string) (provider, field string, ok bool) {
	rest := strings.TrimPrefix(key, providerOptionsEnvPrefix)
	provider, field, ok = strings.Cut(rest, "_")
	if !ok || provider == "" || field == "" {
		return "", "", false
	}
	return strings.ToLower(provider), strings.ToLower(field), true
}

// typedOptionValue converts an env string to a typed option. Booleans must
// be the strict "true"/"false" strings; integers are detected; everything
// else stays a string.
func typedOptionValue(key, value string) any {
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return value
}

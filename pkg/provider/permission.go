// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package provider

import (
	"github.com/takt-labs/takt/pkg/config"
	"github.com/takt-labs/takt/pkg/types"
)

// ResolvePermissionMode resolves the permission mode for one movement
// call. Precedence, highest first:
//
//	1. project per-movement override
//	2. global per-movement override
//	3. project provider default
//	4. global provider default
//	5. the movement's required_permission_mode
//
// The movement's required mode is also a floor: whatever the profiles
// say, the result is never weaker than it. Malformed profile values are
// ignored rather than rejected; the floor guarantees a usable mode.
func ResolvePermissionMode(s *config.Settings, providerName, movementName string, required types.PermissionMode) types.PermissionMode {
	floor := required
	if !floor.Valid() {
		floor = types.PermissionReadonly
	}

	candidates := []string{
		profileMovement(s.ProjectProviderProfiles, providerName, movementName),
		profileMovement(s.ProviderProfiles, providerName, movementName),
		profileDefault(s.ProjectProviderProfiles, providerName),
		profileDefault(s.ProviderProfiles, providerName),
	}
	for _, c := range candidates {
		mode := types.PermissionMode(c)
		if mode.Valid() {
			return types.MaxPermission(mode, floor)
		}
	}
	return floor
}

func profileMovement(profiles map[string]config.ProviderProfile, provider, movement string) string {
	p, ok := profiles[provider]
	if !ok {
		return ""
	}
	return p.Movements[movement]
}

func profileDefault(profiles map[string]config.ProviderProfile, provider string) string {
	p, ok := profiles[provider]
	if !ok {
		return ""
	}
	return p.Default
}

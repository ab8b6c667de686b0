// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package task

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/takt-labs/takt/pkg/config"
)

// Schedule is one recurring-task definition from schedules.yaml.
type Schedule struct {
	Cron    string `yaml:"cron"`
	Name    string `yaml:"name"`
	Piece   string `yaml:"piece"`
	Content string `yaml:"content"`
}

// LoadSchedules reads the project schedules file. A missing file means
// no schedules, not an error.
func LoadSchedules(cwd string) ([]Schedule, error) {
	path := filepath.Join(config.ProjectDir(cwd), "schedules.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedules %s: %w", path, err)
	}

	var doc struct {
		Schedules []Schedule `yaml:"schedules"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse schedules %s: %w", path, err)
	}

	for i, s := range doc.Schedules {
		if s.Cron == "" || s.Name == "" {
			return nil, fmt.Errorf("schedule %d in %s needs both cron and name", i+1, path)
		}
		if s.Piece == "" {
			doc.Schedules[i].Piece = "default"
		}
	}
	return doc.Schedules, nil
}

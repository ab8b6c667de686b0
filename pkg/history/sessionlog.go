// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package history records what a piece run did: a machine-parsable NDJSON
// session log per run, and an optional SQLite store aggregating run
// outcomes across tasks.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/takt-labs/takt/pkg/types"
)

// SessionLog writes one NDJSON record per engine event. Records carry the
// externally-visible matchMethod; tag-stage variants never appear here.
type SessionLog struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// OpenSessionLog creates (or truncates) the log file at path.
func OpenSessionLog(path string) (*SessionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create session log: %w", err)
	}
	return &SessionLog{w: f, c: f}, nil
}

// NewSessionLog writes records to an arbitrary writer. Used by tests.
func NewSessionLog(w io.Writer) *SessionLog {
	return &SessionLog{w: w}
}

// Emit implements types.EventSink. Encoding failures are swallowed: the
// log is observability, never control flow.
func (l *SessionLog) Emit(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.w.Write(append(raw, '\n'))
}

// Close closes the underlying file, if any.
func (l *SessionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}

// ReadSessionLog parses an NDJSON session log back into events.
func ReadSessionLog(path string) ([]types.Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	var events []types.Event
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var ev types.Event
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("parse session log %s: %w", path, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

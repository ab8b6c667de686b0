// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/pkg/types"
)

// Store persists run outcomes and per-phase records to SQLite.
// Uses WAL mode for concurrent read/write access. The store is optional:
// the runtime works without it when analytics is disabled.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID          string
	Task        string
	Piece       string
	Status      types.PieceStatus
	Reason      string
	Iterations  int
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewStore opens (creating if needed) the run-history database at dbPath.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open run history database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db, logger: log.Logger()}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize run history schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		piece TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		iterations INTEGER DEFAULT 0,
		started_at INTEGER NOT NULL,
		completed_at INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_phases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		movement TEXT NOT NULL,
		phase TEXT NOT NULL,
		match_method TEXT,
		status TEXT,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// StartRun records the beginning of a piece run.
func (s *Store) StartRun(ctx context.Context, id, task, piece string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task, piece, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, task, piece, string(types.PieceRunning), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// FinishRun records the terminal outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id string, status types.PieceStatus, reason string, iterations int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, reason = ?, iterations = ?, completed_at = ?
		WHERE id = ?`,
		string(status), reason, iterations, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// RecordPhase appends one phase record for a run.
func (s *Store) RecordPhase(ctx context.Context, runID, movement string, phase types.Phase, method types.MatchMethod, status types.ResponseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_phases (run_id, movement, phase, match_method, status, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, movement, string(phase), string(method.External()), string(status), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record phase: %w", err)
	}
	return nil
}

// RecentRuns returns the most recently started runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task, piece, status, COALESCE(reason, ''), iterations, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var status string
		var started, completed int64
		if err := rows.Scan(&r.ID, &r.Task, &r.Piece, &status, &r.Reason, &r.Iterations, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = types.PieceStatus(status)
		r.StartedAt = time.Unix(started, 0)
		if completed > 0 {
			r.CompletedAt = time.Unix(completed, 0)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/takt-labs/takt/pkg/instruction"
	"github.com/takt-labs/takt/pkg/types"
)

// executeArpeggio runs the data-driven variant: the CSV source is split
// into batches, each batch renders the prompt with its rows and runs as
// one provider call under bounded concurrency. The merged output is the
// movement's Phase-1 response, so rule evaluation sees all batches at
// once.
func (e *Engine) executeArpeggio(ctx context.Context, mov *types.Movement) movementResult {
	cfg := mov.Arpeggio
	header, rows, err := e.loadArpeggioSource(cfg.Source)
	if err != nil {
		return movementResult{err: err}
	}

	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	var batches [][][]string
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		batches = append(batches, rows[start:end])
	}
	if len(batches) == 0 {
		return movementResult{err: fmt.Errorf("arpeggio source %s has no data rows", cfg.Source)}
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	// Batch placeholders survive the main prompt assembly untouched and
	// are expanded per batch here.
	base := e.builder.Main(e.buildCtx(mov))
	sem := make(chan struct{}, concurrency)
	outputs := make([]string, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			prompt := instruction.ExpandBatch(base, header, batch, i)
			resp, err := e.call(gctx, mov, prompt, nil, true)
			if err != nil {
				return err
			}
			if resp.Status == types.StatusError {
				return fmt.Errorf("batch %d: %s", i, resp.Content)
			}
			outputs[i] = resp.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, errAborted) || ctx.Err() != nil {
			return movementResult{aborted: true}
		}
		return movementResult{err: err}
	}

	sep := cfg.MergeSeparator
	if sep == "" {
		sep = "\n\n"
	}
	return movementResult{
		response: &types.Response{
			Content: strings.Join(outputs, sep),
			Status:  types.StatusDone,
		},
	}
}

// loadArpeggioSource reads the CSV source relative to the worktree. The
// first row is the header used by {col:N:name} placeholders.
func (e *Engine) loadArpeggioSource(source string) (header []string, rows [][]string, err error) {
	path := source
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.cwd, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open arpeggio source: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse arpeggio source %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("arpeggio source %s needs a header and at least one row", path)
	}
	return records[0], records[1:], nil
}

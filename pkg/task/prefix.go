// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package task

import (
	"bytes"
	"hash/fnv"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var prefixPalette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgMagenta),
	color.New(color.FgBlue),
	color.New(color.FgRed),
}

// FlushWriter is an output stream with an explicit end-of-worker flush.
type FlushWriter interface {
	io.Writer
	Flush() error
}

type passthrough struct{ io.Writer }

func (passthrough) Flush() error { return nil }

// WorkerOutput returns the stream a scheduler worker writes through.
// A single worker gets the stream untouched; with several workers each
// one's lines carry the colored [name] prefix so interleaved output
// stays attributable.
func WorkerOutput(w io.Writer, name string, concurrency int) FlushWriter {
	if concurrency > 1 {
		return NewPrefixWriter(w, name)
	}
	return passthrough{w}
}

// PrefixWriter decorates every line written through it with a colored
// [task-name] tag. Output is line-buffered so concurrent workers never
// interleave mid-line; the color is a deterministic function of the
// task name.
type PrefixWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	color  *color.Color
	buf    bytes.Buffer
}

// NewPrefixWriter wraps w with a [name] prefix. Color is dropped when w
// is not a terminal.
func NewPrefixWriter(w io.Writer, name string) *PrefixWriter {
	c := prefixPalette[colorIndex(name)]
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		c = color.New()
	}
	return &PrefixWriter{w: w, prefix: "[" + name + "] ", color: c}
}

func colorIndex(name string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() % uint32(len(prefixPalette)))
}

// Write implements io.Writer. Complete lines are emitted with the
// prefix; a trailing partial line stays buffered until the next write
// or Flush.
func (p *PrefixWriter) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	for {
		line, err := p.buf.ReadString('\n')
		if err != nil {
			// Partial line: push it back and wait for the rest.
			p.buf.WriteString(line)
			break
		}
		if _, err := io.WriteString(p.w, p.color.Sprint(p.prefix)+line); err != nil {
			return len(data), err
		}
	}
	return len(data), nil
}

// Flush emits any buffered partial line with a trailing newline.
func (p *PrefixWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf.Len() == 0 {
		return nil
	}
	line := p.buf.String()
	p.buf.Reset()
	_, err := io.WriteString(p.w, p.color.Sprint(p.prefix)+line+"\n")
	return err
}

// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"io"

	"github.com/takt-labs/takt/pkg/types"
)

// consoleSink renders engine events as human-readable progress lines.
type consoleSink struct {
	w io.Writer
}

func (c consoleSink) Emit(e types.Event) {
	switch e.Type {
	case types.EventPieceStart:
		fmt.Fprintf(c.w, "▶ %s\n", e.Piece)
	case types.EventMovementStart:
		fmt.Fprintf(c.w, "  [%d] %s\n", e.Iteration, e.Movement)
	case types.EventMovementComplete:
		if e.Message != "" {
			fmt.Fprintf(c.w, "  [%d] %s ← %s (%s)\n", e.Iteration, e.Movement, e.Message, e.MatchMethod)
			return
		}
		fmt.Fprintf(c.w, "  [%d] %s done (%s)\n", e.Iteration, e.Movement, e.MatchMethod)
	case types.EventPieceComplete:
		if e.Message != "" {
			fmt.Fprintf(c.w, "■ %s: %s (%s)\n", e.Piece, e.Status, e.Message)
			return
		}
		fmt.Fprintf(c.w, "■ %s: %s\n", e.Piece, e.Status)
	case types.EventPieceAbort:
		fmt.Fprintf(c.w, "■ %s: aborted\n", e.Piece)
	}
}

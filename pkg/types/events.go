// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import "time"

// EventType identifies an observable engine event.
type EventType string

const (
	EventPieceStart       EventType = "piece:start"
	EventMovementStart    EventType = "movement:start"
	EventMovementPhase    EventType = "movement:phase"
	EventMovementComplete EventType = "movement:complete"
	EventPieceComplete    EventType = "piece:complete"
	EventPieceAbort       EventType = "piece:abort"
)

// Event is one observable step of a piece run, emitted through a sink.
// MatchMethod is already coalesced to its externally-visible form.
type Event struct {
	Type        EventType   `json:"type"`
	Piece       string      `json:"piece,omitempty"`
	Movement    string      `json:"movement,omitempty"`
	Phase       Phase       `json:"phase,omitempty"`
	MatchMethod MatchMethod `json:"matchMethod,omitempty"`
	Status      PieceStatus `json:"status,omitempty"`
	Iteration   int         `json:"iteration,omitempty"`
	Message     string      `json:"message,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// EventSink receives engine events.
type EventSink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

// Emit implements EventSink.
func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

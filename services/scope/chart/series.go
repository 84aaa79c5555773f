// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chart holds the in-memory chart model fed by the reconciler and
// the renderers that turn it into HTML, PNG, or terminal output.
package chart

import (
	"sync"

	"github.com/AleutianAI/AleutianScope/services/scope/reconcile"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// Snapshot is an immutable copy of the chart model.
type Snapshot struct {
	Names  []string
	X      []timekey.RecordID
	Values [][]float64
}

// Len returns the number of points on the x axis.
func (s Snapshot) Len() int { return len(s.X) }

// Window returns the displayed id range, or false when empty.
func (s Snapshot) Window() (timekey.Window, bool) {
	if len(s.X) == 0 {
		return timekey.Window{}, false
	}
	return timekey.Window{Start: s.X[0], End: s.X[len(s.X)-1]}, true
}

// Series is a reconcile.Sink that keeps every point in memory.
//
// Writes come from the viewer loop; Snapshot may be called from any
// goroutine. OnRedraw, when set, receives a snapshot on every Redraw.
type Series struct {
	mu       sync.RWMutex
	names    []string
	x        []timekey.RecordID
	values   [][]float64
	redraws  int
	onRedraw func(Snapshot)
}

// NewSeries returns an empty model. onRedraw may be nil.
func NewSeries(onRedraw func(Snapshot)) *Series {
	return &Series{onRedraw: onRedraw}
}

// Init implements reconcile.Sink.
func (s *Series) Init(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append([]string(nil), names...)
	s.values = make([][]float64, len(names))
	s.x = nil
}

// Apply implements reconcile.Sink.
func (s *Series) Apply(ins reconcile.Instruction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ins.Direction {
	case reconcile.Append:
		s.x = append(s.x, ins.ID)
		for i := range s.values {
			s.values[i] = append(s.values[i], valueAt(ins.Values, i))
		}
	case reconcile.Prepend:
		s.x = append([]timekey.RecordID{ins.ID}, s.x...)
		for i := range s.values {
			s.values[i] = append([]float64{valueAt(ins.Values, i)}, s.values[i]...)
		}
	}
}

func valueAt(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

// Redraw implements reconcile.Sink.
func (s *Series) Redraw() {
	s.mu.Lock()
	s.redraws++
	cb := s.onRedraw
	s.mu.Unlock()

	if cb != nil {
		cb(s.Snapshot())
	}
}

// Reset implements reconcile.Sink.
func (s *Series) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = nil
	s.x = nil
	s.values = nil
}

// Redraws returns how many times Redraw was called.
func (s *Series) Redraws() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redraws
}

// Snapshot copies the current model.
func (s *Series) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Names:  append([]string(nil), s.names...),
		X:      append([]timekey.RecordID(nil), s.x...),
		Values: make([][]float64, len(s.values)),
	}
	for i, v := range s.values {
		snap.Values[i] = append([]float64(nil), v...)
	}
	return snap
}

var _ reconcile.Sink = (*Series)(nil)

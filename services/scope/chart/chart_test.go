// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chart

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/reconcile"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

func filledSeries(t *testing.T) *Series {
	t.Helper()
	s := NewSeries(nil)
	s.Init([]string{"cpu", "mem"})
	s.Apply(reconcile.Instruction{ID: "2024-03-05T10:00:01", Values: []float64{1, 10}, Direction: reconcile.Append})
	s.Apply(reconcile.Instruction{ID: "2024-03-05T10:00:02", Values: []float64{2, 20}, Direction: reconcile.Append})
	s.Apply(reconcile.Instruction{ID: "2024-03-05T10:00:00", Values: []float64{0, 5}, Direction: reconcile.Prepend})
	return s
}

func TestSeries_AppendPrepend(t *testing.T) {
	s := filledSeries(t)
	snap := s.Snapshot()

	assert.Equal(t, []string{"cpu", "mem"}, snap.Names)
	assert.Equal(t, []timekey.RecordID{"2024-03-05T10:00:00", "2024-03-05T10:00:01", "2024-03-05T10:00:02"}, snap.X)
	assert.Equal(t, []float64{0, 1, 2}, snap.Values[0])
	assert.Equal(t, []float64{5, 10, 20}, snap.Values[1])

	w, ok := snap.Window()
	require.True(t, ok)
	assert.Equal(t, timekey.RecordID("2024-03-05T10:00:00"), w.Start)
	assert.Equal(t, timekey.RecordID("2024-03-05T10:00:02"), w.End)
}

func TestSeries_NoneDirectionIgnored(t *testing.T) {
	s := filledSeries(t)
	s.Apply(reconcile.Instruction{ID: "2024-03-05T10:00:01", Values: []float64{9, 9}})
	assert.Equal(t, 3, s.Snapshot().Len())
}

func TestSeries_ShortValuesPadWithZero(t *testing.T) {
	s := NewSeries(nil)
	s.Init([]string{"a", "b"})
	s.Apply(reconcile.Instruction{ID: "2024-03-05T10:00:00", Values: []float64{3}, Direction: reconcile.Append})
	assert.Equal(t, []float64{0}, s.Snapshot().Values[1])
}

func TestSeries_SnapshotIsACopy(t *testing.T) {
	s := filledSeries(t)
	snap := s.Snapshot()
	snap.Values[0][0] = 99
	snap.X[0] = "x"
	assert.Equal(t, 0.0, s.Snapshot().Values[0][0])
	assert.Equal(t, timekey.RecordID("2024-03-05T10:00:00"), s.Snapshot().X[0])
}

func TestSeries_RedrawCallback(t *testing.T) {
	var got []Snapshot
	s := NewSeries(func(snap Snapshot) { got = append(got, snap) })
	s.Init([]string{"cpu"})
	s.Apply(reconcile.Instruction{ID: "2024-03-05T10:00:00", Values: []float64{1}, Direction: reconcile.Append})
	s.Redraw()

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Len())
	assert.Equal(t, 1, s.Redraws())
}

func TestSeries_Reset(t *testing.T) {
	s := filledSeries(t)
	s.Reset()
	snap := s.Snapshot()
	assert.Zero(t, snap.Len())
	assert.Empty(t, snap.Names)
	_, ok := snap.Window()
	assert.False(t, ok)
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	err := RenderHTML(&buf, filledSeries(t).Snapshot(), HTMLOptions{Title: "cpu on web01"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "cpu on web01")
	assert.Contains(t, out, "2024-03-05T10:00:02")
	assert.Contains(t, out, "dataZoom")
}

func TestRenderPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPNG(&buf, filledSeries(t).Snapshot(), PNGOptions{Title: "cpu"}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))
}

func TestRenderPNG_NotEnoughPoints(t *testing.T) {
	s := NewSeries(nil)
	s.Init([]string{"cpu"})
	s.Apply(reconcile.Instruction{ID: "2024-03-05T10:00:00", Values: []float64{1}, Direction: reconcile.Append})

	err := RenderPNG(&bytes.Buffer{}, s.Snapshot(), PNGOptions{})
	assert.ErrorIs(t, err, ErrNotEnoughPoints)
}

func TestRenderTerminal(t *testing.T) {
	out := RenderTerminal(filledSeries(t).Snapshot(), 60)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "cpu")
	assert.Contains(t, lines[0], "▁")
	assert.Contains(t, lines[0], "█")
	assert.Contains(t, lines[1], "20")

	assert.Contains(t, RenderTerminal(Snapshot{}, 60), "no data")
}

func TestResample(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	got := resample(values, 4)
	require.Len(t, got, 4)
	assert.Equal(t, 0.0, got[0])
	assert.Equal(t, 9.0, got[3])
	assert.Equal(t, values[:3], resample(values[:3], 4))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "42", formatValue(42))
	assert.Equal(t, "1.50", formatValue(1.5))
	assert.Equal(t, "2.50k", formatValue(2500))
	assert.Equal(t, "3.00M", formatValue(3e6))
	assert.Equal(t, "1.00G", formatValue(1e9))
}

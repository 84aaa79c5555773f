// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package zoom turns chart zoom gestures into bounded fetches.
//
// The chart reports its zoom extent as {start%, end%} of the loaded data. A
// drag of the left handle to 0% with the width unchanged asks for older data;
// a drag of the right handle to 100% asks for newer data. Any width change is
// a rescale and only updates the remembered width.
package zoom

import (
	"math"
	"time"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/rangecache"
	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// Extent is the chart's zoom extent in percent of the loaded range.
type Extent struct {
	Start float64
	End   float64
}

// Width returns End - Start.
func (e Extent) Width() float64 { return e.End - e.Start }

// InitialExtent is the extent a freshly drawn chart starts with.
var InitialExtent = Extent{Start: 50, End: 100}

const widthTolerance = 0.01

// State is the controller state.
type State int

const (
	Idle State = iota
	BackfillPending
	TailPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case BackfillPending:
		return "backfill_pending"
	case TailPending:
		return "tail_pending"
	default:
		return "unknown"
	}
}

// ActionKind says what the viewer must do for a gesture.
type ActionKind int

const (
	// Fetch opens a bounded session over Action.Range.
	Fetch ActionKind = iota
	// Replay renders the cached records inside Action.Target.
	Replay
)

// Action is the result of an edge drag.
type Action struct {
	Kind ActionKind
	// Range is the id range to request. Zero for Replay.
	Range timekey.Window
	// Order is the order records should be applied in.
	Order stream.Order
	// Target is the displayed window once the action completes.
	Target  timekey.Window
	Verdict rangecache.Verdict
	// Cached is the cached stretch between the displayed window and Range
	// that must be replayed before the fetch starts. Zero when the fetch
	// is contiguous with the window.
	Cached timekey.Window
}

// rearmed is never a real extent, so the next edge drag is observed even
// when it repeats the last one.
var rearmed = Extent{Start: -1, End: -1}

// Controller is the zoom state machine. It is owned by the viewer loop and
// is not safe for concurrent use.
type Controller struct {
	cache   *rangecache.Cache
	logger  *logging.Logger
	state   State
	last    Extent
	width   float64
	pending Action
}

// New returns an Idle controller that consults cache for gaps.
func New(cache *rangecache.Cache, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		cache:  cache,
		logger: logger,
		last:   InitialExtent,
		width:  InitialExtent.Width(),
	}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Width returns the remembered extent width.
func (c *Controller) Width() float64 { return c.width }

// Sync records ext as the current extent without interpreting it. Used
// after the chart is redrawn with a fresh extent.
func (c *Controller) Sync(ext Extent) {
	c.last = ext
	c.width = ext.Width()
}

// Reset returns to Idle and forgets any pending action and extent.
func (c *Controller) Reset() {
	c.state = Idle
	c.pending = Action{}
	c.Sync(InitialExtent)
}

// Observe interprets a new zoom extent against the displayed window.
//
// Description:
//
//	Returns an action when the gesture is an edge drag that needs older or
//	newer data. For a Fetch the controller moves to BackfillPending or
//	TailPending and the caller must disable auto-refresh, open the bounded
//	session, and call Finish when it ends. Gestures while pending are
//	ignored.
//
// Inputs:
//
//	key    - the active cache key; its granularity gives the lookback
//	ext    - the new extent
//	window - the displayed window
//	now    - wall clock used to clamp tail requests
func (c *Controller) Observe(key datatypes.Key, ext Extent, window timekey.Window, now time.Time) (Action, bool) {
	if c.state != Idle {
		c.logger.Debug("zoom gesture ignored while fetch pending", "state", c.state.String())
		return Action{}, false
	}
	if ext == c.last {
		return Action{}, false
	}
	c.last = ext

	if math.Abs(ext.Width()-c.width) > widthTolerance {
		c.width = ext.Width()
		return Action{}, false
	}
	if window.Start == "" || window.End == "" {
		return Action{}, false
	}

	switch {
	case ext.Start == 0 && ext.End != 100:
		return c.backfill(key, window)
	case ext.End == 100 && ext.Start != 0:
		return c.tail(key, window, now)
	default:
		return Action{}, false
	}
}

func (c *Controller) backfill(key datatypes.Key, window timekey.Window) (Action, bool) {
	g := key.Granularity
	start, err := window.Start.Instant()
	if err != nil {
		c.logger.Warn("zoom backfill skipped", "start", window.Start, "error", err)
		return Action{}, false
	}
	newStart := timekey.ToRecordID(timekey.Ago(g.DefaultLookback(), g, start), g)
	desired := timekey.Window{Start: newStart, End: window.Start}
	target := timekey.Window{Start: newStart, End: window.End}

	missing, verdict := c.cache.MissingRange(key, desired)
	if verdict == rangecache.Covered {
		c.last = rearmed
		return Action{Kind: Replay, Order: stream.Descending, Target: target, Verdict: verdict}, true
	}

	c.state = BackfillPending
	c.pending = Action{Kind: Fetch, Range: missing, Order: stream.Descending, Target: target, Verdict: verdict}
	c.logger.Debug("zoom backfill", "range", missing.String(), "verdict", verdict.String())
	return c.pending, true
}

func (c *Controller) tail(key datatypes.Key, window timekey.Window, now time.Time) (Action, bool) {
	g := key.Granularity
	end, err := window.End.Instant()
	if err != nil {
		c.logger.Warn("zoom tail skipped", "end", window.End, "error", err)
		return Action{}, false
	}
	newEndAt := end.Add(g.Lookback())
	if newEndAt.After(now) {
		newEndAt = now
	}
	newEnd := timekey.ToRecordID(newEndAt, g)
	if newEnd <= window.End {
		return Action{}, false
	}
	desired := timekey.Window{Start: window.End, End: newEnd}
	target := timekey.Window{Start: window.Start, End: newEnd}

	missing, verdict := c.cache.MissingRange(key, desired)
	if verdict == rangecache.Covered {
		c.last = rearmed
		return Action{Kind: Replay, Order: stream.Ascending, Target: target, Verdict: verdict}, true
	}

	c.state = TailPending
	c.pending = Action{Kind: Fetch, Range: missing, Order: stream.Ascending, Target: target, Verdict: verdict}
	if verdict == rangecache.Tail && missing.Start > window.End {
		c.pending.Cached = timekey.Window{Start: window.End, End: missing.Start}
	}
	c.logger.Debug("zoom tail", "range", missing.String(), "verdict", verdict.String())
	return c.pending, true
}

// Finish ends the pending fetch and returns to Idle. On success it returns
// the window to display; on failure the window stays as it was. Either way
// the same edge drag may be repeated to fetch further.
func (c *Controller) Finish(success bool) (timekey.Window, bool) {
	if c.state == Idle {
		return timekey.Window{}, false
	}
	target := c.pending.Target
	c.state = Idle
	c.pending = Action{}
	c.last = rearmed
	if !success {
		return timekey.Window{}, false
	}
	return target, true
}

// Pending returns the in-flight action, if any.
func (c *Controller) Pending() (Action, bool) {
	return c.pending, c.state != Idle
}

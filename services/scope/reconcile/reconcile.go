// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconcile turns incoming records into ordered chart instructions.
//
// For every (id, record) pair the Reconciler synthesises the cluster host,
// resolves the active series selector to one scalar per series, decides
// whether the point extends the chart at its end or its start, records it
// in the range cache, and forwards an instruction to the chart sink.
// Points that fall inside the displayed range are never re-rendered.
//
// # Thread Safety
//
// Reconciler is not safe for concurrent use. It runs on the viewer's event
// loop together with the cache and sink it drives.
package reconcile

import (
	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/rangecache"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// Direction is where an instruction places its point.
type Direction int

const (
	// None means the id is already inside the displayed range.
	None Direction = iota
	Append
	Prepend
)

func (d Direction) String() string {
	switch d {
	case Append:
		return "append"
	case Prepend:
		return "prepend"
	default:
		return "none"
	}
}

// Instruction tells a sink to add one point to every series.
type Instruction struct {
	ID        timekey.RecordID
	Values    []float64
	Direction Direction
}

// Sink consumes render instructions. Implementations live in the chart
// package.
type Sink interface {
	// Init declares the series, in display order. Called once before the
	// first Apply after a Reset.
	Init(series []string)
	// Apply adds one point. Direction is never None.
	Apply(ins Instruction)
	// Redraw publishes the accumulated points.
	Redraw()
	// Reset clears every series and the x axis.
	Reset()
}

// redrawEvery is the throttle for fine-granularity updates.
const redrawEvery = 10

// Outcome reports what OnIncoming did.
type Outcome struct {
	Direction Direction
	Cache     rangecache.InsertOutcome
	Redrawn   bool
}

// Reconciler tracks what the chart displays and feeds it.
type Reconciler struct {
	cache  *rangecache.Cache
	sink   Sink
	logger *logging.Logger

	ctx datatypes.Context

	first, last timekey.RecordID
	count       int
	initialized bool
	unflushed   int

	lastPayload map[string]datatypes.Record
}

// New returns a reconciler writing to cache and sink.
func New(cache *rangecache.Cache, sink Sink, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{
		cache:       cache,
		sink:        sink,
		logger:      logger,
		lastPayload: make(map[string]datatypes.Record),
	}
}

// SetContext installs the key and selector used for subsequent records.
// It does not clear the chart; call Reset for that.
func (r *Reconciler) SetContext(ctx datatypes.Context) {
	r.ctx = ctx
}

// Context returns the installed context.
func (r *Reconciler) Context() datatypes.Context { return r.ctx }

// OnIncoming processes one streamed record.
//
// Description:
//
//	Adds the cluster host, resolves the selector, picks append or prepend
//	against the displayed bounds, inserts into the range cache (a no-op for
//	coarse granularities) and emits an instruction. Fine granularities
//	redraw every tenth displayed point unless force is set.
//
// Inputs:
//
//	id      - record id
//	payload - decoded record; not modified
//	isLive  - the record came from the live-tail session
//	force   - redraw immediately
func (r *Reconciler) OnIncoming(id timekey.RecordID, payload datatypes.Record, isLive, force bool) Outcome {
	r.lastPayload[r.ctx.Key.Topic] = payload

	out := Outcome{Direction: r.direction(id)}
	out.Cache = r.cache.Insert(r.ctx.Key, id, payload)

	if out.Direction == None {
		r.logger.Debug("interior record not rendered", "id", id, "live", isLive)
		return out
	}

	r.render(id, payload, out.Direction)
	out.Redrawn = r.maybeRedraw(force)
	return out
}

// Replay renders cached entries without touching the cache. Entries must be
// in the order they should be applied: ascending to append, descending to
// prepend.
func (r *Reconciler) Replay(entries []rangecache.Entry) {
	for _, e := range entries {
		if dir := r.direction(e.ID); dir != None {
			r.render(e.ID, e.Record, dir)
		}
	}
	r.Flush()
}

// Flush forces a redraw of anything not yet published.
func (r *Reconciler) Flush() {
	r.unflushed = 0
	r.sink.Redraw()
}

// Reset clears the chart and the displayed bounds. The cache is left to
// its owner.
func (r *Reconciler) Reset() {
	r.first, r.last = "", ""
	r.count = 0
	r.initialized = false
	r.unflushed = 0
	r.sink.Reset()
}

// Displayed returns the first and last displayed ids and the point count.
func (r *Reconciler) Displayed() (first, last timekey.RecordID, count int) {
	return r.first, r.last, r.count
}

// LastPayload returns the most recent record seen for topic, used for host
// and attribute discovery.
func (r *Reconciler) LastPayload(topic string) (datatypes.Record, bool) {
	rec, ok := r.lastPayload[topic]
	return rec, ok
}

// ForgetPayloads drops the discovery state.
func (r *Reconciler) ForgetPayloads() {
	r.lastPayload = make(map[string]datatypes.Record)
}

func (r *Reconciler) direction(id timekey.RecordID) Direction {
	switch {
	case r.count == 0 || id > r.last:
		return Append
	case id < r.first:
		return Prepend
	default:
		return None
	}
}

func (r *Reconciler) render(id timekey.RecordID, payload datatypes.Record, dir Direction) {
	if !r.initialized {
		r.sink.Init(r.ctx.Selector.SeriesNames())
		r.initialized = true
	}

	values := r.ctx.Selector.Values(payload.WithCluster())

	switch dir {
	case Append:
		if r.count == 0 {
			r.first = id
		}
		r.last = id
	case Prepend:
		r.first = id
	}
	r.count++

	r.sink.Apply(Instruction{ID: id, Values: values, Direction: dir})
	r.unflushed++
}

func (r *Reconciler) maybeRedraw(force bool) bool {
	if force || !r.ctx.Key.Granularity.Fine() || r.unflushed >= redrawEvery {
		r.Flush()
		return true
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/derived"
	"github.com/AleutianAI/AleutianScope/services/scope/rangecache"
	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scope/zoom"
)

// ShowRequest selects what to chart. Empty fields keep the current value.
type ShowRequest struct {
	Topic string
	ID    string

	// Start and End are user time input (DD, MM-DD or YYYY-MM-DD with an
	// optional THH[:MM[:SS]]). Both empty shows the latest lookback.
	Start string
	End   string

	Hosts []string
	Attrs []datatypes.AttrRef
}

// =============================================================================
// Chart operations
// =============================================================================

// Show redraws the chart for req.
//
// Description:
//
//	Turns auto-refresh off, validates the range, clears the chart, replays
//	whatever the range cache already holds for the window and fetches only
//	the missing part. Invalid input is rejected before anything changes.
func (v *Viewer) Show(ctx context.Context, req ShowRequest) error {
	return v.call(ctx, func() error { return v.show(req) })
}

func (v *Viewer) show(req ShowRequest) error {
	now := v.cfg.Now()
	g := v.profile.Unit

	topic := firstNonEmpty(req.Topic, v.profile.Topic)
	id := firstNonEmpty(req.ID, v.profile.ID)
	if err := validation.ValidateIdent("topic", topic); err != nil {
		return err
	}
	if err := validation.ValidateIdent("id", id); err != nil {
		return err
	}

	var start, end timekey.RecordID
	var err error
	if req.Start != "" {
		if start, err = timekey.NormalizeUserTime(req.Start, now); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRange, err)
		}
	}
	if req.End != "" {
		if end, err = timekey.NormalizeUserTime(req.End, now); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRange, err)
		}
	}
	window, err := timekey.ResolveWindow(start, end, g, now, v.ctx.Window)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}

	hosts := v.profile.Host
	if len(req.Hosts) > 0 {
		hosts = req.Hosts
	}
	attrs := v.profile.Attr
	if len(req.Attrs) > 0 {
		attrs = req.Attrs
	}
	funcs := v.funcs
	if topic != v.profile.Topic {
		funcs = v.compileFuncs(topic)
	}
	sel, err := v.selector(hosts, attrs, funcs)
	if err != nil {
		return err
	}

	v.disableAuto()
	v.closeFetch()
	v.zoom.Reset()
	v.rec.ForgetPayloads()

	v.profile.Topic, v.profile.ID = topic, id
	v.profile.Host = slices.Clone(hosts)
	v.profile.Attr = slices.Clone(attrs)
	v.funcs = funcs

	key := datatypes.Key{Topic: topic, SeriesID: id, Granularity: g}
	v.ctx.Key = key
	v.ctx.Selector = sel
	v.rec.SetContext(v.ctx)
	v.rec.Reset()

	missing, verdict := v.cache.MissingRange(key, window)
	if verdict != rangecache.Full {
		v.replay(window, stream.Ascending)
	}
	if verdict == rangecache.Covered {
		v.ctx.Window = window
		return nil
	}

	v.logger.Info("fetching", "key", key.String(), "range", missing.String(), "verdict", verdict.String())
	v.openFetch(missing, fetchOrder(verdict), window, false)
	return nil
}

// Zoom reports a new chart zoom extent. Edge drags fetch older or newer
// data; other changes only rescale.
func (v *Viewer) Zoom(ctx context.Context, ext zoom.Extent) error {
	return v.call(ctx, func() error {
		if v.fetch != nil && !v.fetch.zoom {
			v.zoom.Sync(ext)
			return nil
		}
		act, ok := v.zoom.Observe(v.ctx.Key, ext, v.ctx.Window, v.cfg.Now())
		if !ok {
			return nil
		}
		switch act.Kind {
		case zoom.Replay:
			v.disableAuto()
			v.replay(act.Target, act.Order)
			v.ctx.Window = act.Target
		case zoom.Fetch:
			if act.Cached.Start != "" {
				v.replay(act.Cached, stream.Ascending)
			}
			v.logger.Info("zoom fetch", "range", act.Range.String(), "order", act.Order)
			v.openFetch(act.Range, act.Order, act.Target, true)
		}
		return nil
	})
}

// SetAutoRefresh turns the live tail on or off.
func (v *Viewer) SetAutoRefresh(ctx context.Context, on bool) error {
	return v.call(ctx, func() error {
		if !on {
			v.disableAuto()
			return nil
		}
		if v.auto != AutoOff {
			return nil
		}
		return v.enableAuto()
	})
}

// SetGranularity changes the chart unit. Day and hour need auto-refresh
// off. The chart is cleared; the next Show fetches at the new unit.
func (v *Viewer) SetGranularity(ctx context.Context, g timekey.Granularity) error {
	if !g.Valid() {
		return fmt.Errorf("%w: %q", timekey.ErrUnknownGranularity, g)
	}
	return v.call(ctx, func() error {
		if v.auto != AutoOff && !g.LiveCapable() {
			return ErrAutoRefreshUnsupported
		}
		if g == v.profile.Unit {
			return nil
		}
		if v.fetch != nil {
			return ErrFetchPending
		}

		v.profile.Unit = g
		v.ctx.Key.Granularity = g
		v.ctx.Window = convertWindow(v.ctx.Window, g)
		v.rec.SetContext(v.ctx)
		v.rec.Reset()
		v.zoom.Reset()
		if v.auto != AutoOff {
			v.openLive()
		}
		return nil
	})
}

func convertWindow(w timekey.Window, g timekey.Granularity) timekey.Window {
	var out timekey.Window
	if t, err := w.Start.Instant(); err == nil {
		out.Start = timekey.ToRecordID(t, g)
	}
	if t, err := w.End.Instant(); err == nil {
		out.End = timekey.ToRecordID(t, g)
	}
	return out
}

// =============================================================================
// Topic and attribute operations
// =============================================================================

// SelectTopic switches to topic using its catalog defaults and returns the
// topic's series ids. Auto-refresh is turned off; Show draws the result.
func (v *Viewer) SelectTopic(ctx context.Context, topic string) ([]string, error) {
	if v.cfg.Store == nil {
		return nil, ErrNoStore
	}
	topics, err := v.cfg.Store.Topics(ctx)
	if err != nil {
		return nil, fmt.Errorf("select topic: %w", err)
	}
	meta, ok := topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	ids, err := v.cfg.Store.IDs(ctx, topic)
	if err != nil {
		v.logger.Warn("loading ids failed", "topic", topic, "error", err)
	}

	err = v.call(ctx, func() error {
		v.disableAuto()
		v.topics = topics
		v.profile.Topic = topic
		if meta.ID != "" {
			v.profile.ID = meta.ID
		}
		v.profile.Host = slices.Clone(meta.Host)
		if len(v.profile.Host) == 0 {
			v.profile.Host = []string{datatypes.ClusterHost}
		}
		if len(meta.Attr) > 0 {
			v.profile.Attr = slices.Clone(meta.Attr)
		}
		v.funcs = v.compileFuncs(topic)
		v.profile.TopicAttrs(topic)
		return nil
	})
	return ids, err
}

// Topics returns the backend's topic catalog.
func (v *Viewer) Topics(ctx context.Context) (datatypes.Topics, error) {
	if v.cfg.Store == nil {
		return nil, ErrNoStore
	}
	return v.cfg.Store.Topics(ctx)
}

// DefineAttr adds an attribute to the current topic. An empty body adds a
// plain attribute name; otherwise body is compiled as a derived attribute
// over a host's attribute map.
func (v *Viewer) DefineAttr(ctx context.Context, name, body string) error {
	name = strings.TrimSpace(name)
	body = strings.TrimSpace(body)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAttr)
	}

	var fn derived.Func
	if body != "" {
		var err error
		if fn, err = derived.Compile(name, body); err != nil {
			return err
		}
	}

	return v.call(ctx, func() error {
		ta := v.profile.TopicAttrs(v.profile.Topic)
		if fn == nil {
			ta.Attr[name] = true
			return nil
		}
		ta.Func[name] = datatypes.FuncDef{Def: body}
		v.funcs[name] = fn
		v.logger.Info("derived attribute defined", "topic", v.profile.Topic, "name", name)
		return nil
	})
}

// UndefineAttr removes a derived attribute from the current topic.
func (v *Viewer) UndefineAttr(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	return v.call(ctx, func() error {
		ta := v.profile.TopicAttrs(v.profile.Topic)
		if _, ok := ta.Func[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAttr, name)
		}
		delete(ta.Func, name)
		delete(v.funcs, name)
		return nil
	})
}

// compileFuncs compiles topic's derived attributes, reporting failures.
func (v *Viewer) compileFuncs(topic string) map[string]derived.Func {
	funcs, err := v.profile.CompileFuncs(topic)
	if err != nil {
		v.logger.Warn("derived attributes failed to compile", "topic", topic, "error", err)
		v.notify(err)
	}
	return funcs
}

// discover folds the hosts and attributes of the latest record into the
// profile.
func (v *Viewer) discover() {
	topic := v.ctx.Key.Topic
	rec, ok := v.rec.LastPayload(topic)
	if !ok {
		return
	}
	if v.profile.TopicAttrs(topic).Merge(rec) {
		v.logger.Debug("discovered hosts or attributes", "topic", topic)
	}
}

// =============================================================================
// Profile and status
// =============================================================================

// Profile returns a copy of the current profile.
func (v *Viewer) Profile(ctx context.Context) (datatypes.Profile, error) {
	var p datatypes.Profile
	err := v.call(ctx, func() error {
		p = v.profile.Clone()
		return nil
	})
	return p, err
}

// Save persists the current profile now.
func (v *Viewer) Save(ctx context.Context) error {
	if v.cfg.Store == nil {
		return ErrNoStore
	}
	p, err := v.Profile(ctx)
	if err != nil {
		return err
	}
	if err := v.cfg.Store.Save(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

// Status returns a summary for display.
func (v *Viewer) Status(ctx context.Context) (Status, error) {
	var st Status
	err := v.call(ctx, func() error {
		_, _, points := v.rec.Displayed()
		ta := v.profile.TopicAttrs(v.ctx.Key.Topic)
		funcs := make([]string, 0, len(ta.Func))
		for name := range ta.Func {
			funcs = append(funcs, name)
		}
		slices.Sort(funcs)

		st = Status{
			Key:      v.ctx.Key,
			Window:   v.ctx.Window,
			Auto:     v.auto,
			Zoom:     v.zoom.State(),
			Fetching: v.fetch != nil,
			Points:   points,
			Cached:   v.cache.Len(),
			Series:   v.ctx.Selector.SeriesNames(),
			Hosts:    ta.SortedHosts(),
			Attrs:    ta.SortedAttrs(),
			Funcs:    funcs,
		}
		return nil
	})
	return st, err
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

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
	"errors"
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianScope/services/scope/rangecache"
	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

var errStreamClosed = errors.New("stream closed before it ended")

// =============================================================================
// Live tail
// =============================================================================

// enableAuto turns auto-refresh on and opens the live tail.
func (v *Viewer) enableAuto() error {
	if !v.ctx.Key.Granularity.LiveCapable() {
		return ErrAutoRefreshUnsupported
	}
	if v.fetch != nil {
		return ErrFetchPending
	}
	v.profile.AutoFresh = true
	v.auto = AutoLive
	v.openLive()
	return nil
}

// disableAuto closes the live tail and cancels any scheduled reconnect.
func (v *Viewer) disableAuto() {
	v.profile.AutoFresh = false
	v.resumeAuto = false
	v.auto = AutoOff
	v.reconnect = nil
	v.closeLive()
}

// openLive opens a live tail from the window end when it is recent enough,
// otherwise from now on an empty chart.
func (v *Viewer) openLive() {
	if v.auto == AutoOff {
		return
	}
	v.closeLive()

	g := v.ctx.Key.Granularity
	now := v.cfg.Now()
	cursor := v.ctx.Window.End
	if !v.resumable(cursor) {
		v.logger.Info("window end too old to resume, starting from now", "end", cursor)
		v.cache.Reset()
		v.rec.Reset()
		v.zoom.Reset()
		cursor = timekey.ToRecordID(now, g)
		v.ctx.Window = timekey.Window{Start: cursor, End: cursor}
	}

	req := stream.Request{
		Start:   cursor,
		End:     timekey.Forever,
		Topic:   v.ctx.Key.Topic,
		ID:      v.ctx.Key.SeriesID,
		Dataset: g.Dataset(),
		Order:   stream.Ascending,
	}
	v.live = stream.Open(v.runCtx, v.cfg.Transport, req, v.logger)
	v.auto = AutoLive
}

func (v *Viewer) resumable(cursor timekey.RecordID) bool {
	if cursor == "" {
		return false
	}
	t, err := cursor.Instant()
	if err != nil {
		return false
	}
	d := v.cfg.Now().Sub(t)
	if d < 0 {
		d = -d
	}
	return d < v.cfg.ResumeWindow
}

func (v *Viewer) closeLive() {
	if v.live == nil {
		return
	}
	v.live.Close()
	v.live = nil
}

// scheduleReconnect arms the reconnect timer if auto-refresh is still on.
func (v *Viewer) scheduleReconnect() {
	if v.auto == AutoOff {
		return
	}
	v.auto = AutoWaiting
	v.reconnect = v.cfg.After(v.cfg.ReconnectDelay)
	v.logger.Info("live tail reconnect scheduled", "delay", v.cfg.ReconnectDelay)
}

func (v *Viewer) onLive(msg stream.Message, ok bool) {
	if !ok {
		v.live = nil
		v.scheduleReconnect()
		return
	}

	switch msg.Kind {
	case stream.KindRecord:
		if v.ctx.Window.Start == "" {
			v.ctx.Window.Start = msg.ID
		}
		if msg.ID > v.ctx.Window.End {
			v.ctx.Window.End = msg.ID
		}
		v.rec.OnIncoming(msg.ID, msg.Record, true, false)

	case stream.KindEnd:
		v.logger.Info("live tail ended by server", "session_id", msg.Session.ID())
		v.closeLive()
		v.scheduleReconnect()

	case stream.KindError:
		v.logger.Warn("live tail failed", "session_id", msg.Session.ID(), "error", msg.Err)
		v.closeLive()
		v.scheduleReconnect()
	}
}

// =============================================================================
// Bounded fetch
// =============================================================================

// openFetch disables auto-refresh and opens a bounded session over r.
func (v *Viewer) openFetch(r timekey.Window, order stream.Order, target timekey.Window, fromZoom bool) {
	v.disableAuto()
	v.closeFetch()

	req := stream.Request{
		Start:   r.Start,
		End:     r.End,
		Topic:   v.ctx.Key.Topic,
		ID:      v.ctx.Key.SeriesID,
		Dataset: v.ctx.Key.Granularity.Dataset(),
		Order:   order,
	}
	v.fetch = &bounded{
		session: stream.Open(v.runCtx, v.cfg.Transport, req, v.logger),
		target:  target,
		zoom:    fromZoom,
	}
}

func (v *Viewer) closeFetch() {
	if v.fetch == nil {
		return
	}
	v.fetch.session.Close()
	v.fetch = nil
}

func (v *Viewer) onFetch(msg stream.Message, ok bool) {
	if !ok {
		v.finishFetch(errStreamClosed)
		return
	}
	switch msg.Kind {
	case stream.KindRecord:
		v.rec.OnIncoming(msg.ID, msg.Record, false, false)
	case stream.KindEnd:
		v.finishFetch(nil)
	case stream.KindError:
		v.finishFetch(msg.Err)
	}
}

// finishFetch ends the bounded fetch. On success the target window is
// applied; on failure the window is left alone and the user is told.
// Records already streamed stay rendered and cached either way.
func (v *Viewer) finishFetch(err error) {
	f := v.fetch
	v.closeFetch()
	v.rec.Flush()

	if f.zoom {
		if w, ok := v.zoom.Finish(err == nil); ok {
			v.ctx.Window = w
		}
	} else if err == nil {
		v.ctx.Window = f.target
	}

	if err != nil {
		v.resumeAuto = false
		v.logger.Warn("bounded fetch failed", "error", err)
		v.notify(fmt.Errorf("%w: %w", ErrFetchFailed, err))
		return
	}
	if v.resumeAuto {
		v.resumeAuto = false
		_ = v.enableAuto()
	}
}

// replay renders cached records inside w in the given order.
func (v *Viewer) replay(w timekey.Window, order stream.Order) {
	entries := v.cache.Within(w)
	if order == stream.Descending {
		slices.Reverse(entries)
	}
	v.rec.Replay(entries)
}

// fetchOrder is the order a missing range must be streamed in.
func fetchOrder(verdict rangecache.Verdict) stream.Order {
	if verdict == rangecache.Backfill {
		return stream.Descending
	}
	return stream.Ascending
}

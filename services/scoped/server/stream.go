// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scoped/samples"
	"github.com/AleutianAI/AleutianScope/services/scoped/telemetry"
)

// sink is where a stream writes: SSE or WebSocket framing.
type sink interface {
	Record(id timekey.RecordID, data []byte) error
	End() error
	Fail(msg string) error
}

// plan is a validated stream ready to run, with its first batch fetched.
type plan struct {
	req   stream.Request
	query samples.Query
	first []samples.Sample
}

// prepare validates the request, takes a limiter token and runs the first
// query. Failures map to an HTTP status because nothing has been written
// to the client yet.
func (s *Server) prepare(c *gin.Context) (*plan, int, error) {
	req, err := stream.ParseRequest(c.Request.URL.Query())
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	if req.Live() {
		req.Order = stream.Ascending
	}

	q, err := samples.FromRequest(req, s.cfg.Now())
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	if req.Live() && !q.Unit.Fine() {
		// Coarse windows are only sent once they are complete.
		q.End = timekey.Truncate(q.End, q.Unit).Add(-q.Unit.Unit())
	}
	if q.Items() > samples.MaxItems {
		return nil, http.StatusBadRequest, fmt.Errorf("%w: %d ids, limit %d", samples.ErrTooManyItems, q.Items(), samples.MaxItems)
	}

	wait, cancel := context.WithTimeout(c.Request.Context(), s.cfg.LimitWait)
	defer cancel()
	if err := s.limiter.Wait(wait); err != nil {
		return nil, http.StatusTooManyRequests, errors.New("stream rate limit exceeded")
	}

	p := &plan{req: req, query: q}
	if q.End.Before(q.Start) {
		return p, 0, nil
	}
	if p.first, err = s.query(c.Request.Context(), q); err != nil {
		if errors.Is(err, samples.ErrInvalidQuery) || errors.Is(err, samples.ErrTooManyItems) {
			return nil, http.StatusBadRequest, err
		}
		return nil, http.StatusBadGateway, err
	}
	return p, 0, nil
}

func (s *Server) query(ctx context.Context, q samples.Query) ([]samples.Sample, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "samples.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic", q.Topic),
		attribute.String("id", q.ID),
		attribute.String("unit", string(q.Unit)),
	)

	start := time.Now()
	out, err := s.deps.Samples.Query(ctx, q)
	s.metrics.ObserveQuery(ctx, string(q.Unit), start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("samples", len(out)))
	return out, nil
}

// run writes the plan's records to out, then either ends a bounded stream
// or tails the store until ctx is done.
func (s *Server) run(ctx context.Context, p *plan, out sink) error {
	cursor, err := s.emit(ctx, out, p.first, "")
	if err != nil {
		return err
	}
	if !p.req.Live() {
		return out.End()
	}

	next := p.query
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := s.cfg.Now()
		next.Start = nextStart(next, cursor)
		next.End = timekey.Truncate(now, next.Unit)
		if !next.Unit.Fine() {
			next.End = next.End.Add(-next.Unit.Unit())
		}
		if next.End.Before(next.Start) {
			continue
		}
		if n := next.Items(); n > samples.MaxItems {
			next.Start = next.End.Add(-time.Duration(samples.MaxItems-1) * next.Step())
		}

		batch, err := s.query(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("live poll failed", "topic", next.Topic, "id", next.ID, "error", err)
			continue
		}
		if cursor, err = s.emit(ctx, out, batch, cursor); err != nil {
			return err
		}
	}
}

// emit writes every sample newer than cursor and returns the new cursor.
func (s *Server) emit(ctx context.Context, out sink, batch []samples.Sample, cursor timekey.RecordID) (timekey.RecordID, error) {
	sent := 0
	for _, smp := range batch {
		if cursor != "" && smp.ID <= cursor {
			continue
		}
		data, err := json.Marshal(smp.Record)
		if err != nil {
			return cursor, fmt.Errorf("encode record %s: %w", smp.ID, err)
		}
		if err := out.Record(smp.ID, data); err != nil {
			return cursor, err
		}
		sent++
		if smp.ID > cursor {
			cursor = smp.ID
		}
	}
	if sent > 0 {
		s.metrics.RecordsSent.Add(ctx, int64(sent))
	}
	return cursor, nil
}

// nextStart is the first instant a poll after cursor must cover. For the
// sampled dataset that is the next bucket, so a bucket is never sent twice.
func nextStart(q samples.Query, cursor timekey.RecordID) time.Time {
	if cursor == "" {
		return q.Start
	}
	at := cursor.MustInstant()
	if q.Unit == timekey.Second && q.Sampled {
		bucket := int64(samples.SampleBucket / time.Second)
		return time.Unix((at.Unix()/bucket+1)*bucket, 0).In(time.Local)
	}
	return at.Add(q.Unit.Unit())
}

// -----------------------------------------------------------------------------
// Server-Sent Events
// -----------------------------------------------------------------------------

type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (k *sseSink) write(ev stream.Event) error {
	if err := stream.WriteSSE(k.w, ev); err != nil {
		return err
	}
	k.flusher.Flush()
	return nil
}

func (k *sseSink) Record(id timekey.RecordID, data []byte) error {
	return k.write(stream.Event{ID: id, Type: stream.EventMessage, Data: data})
}

func (k *sseSink) End() error {
	return k.write(stream.Event{Type: stream.EventEnd, Data: []byte("end")})
}

func (k *sseSink) Fail(msg string) error {
	return k.write(stream.Event{Type: stream.EventError, Data: []byte(msg)})
}

func (s *Server) handleSSE(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		abort(c, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}
	p, status, err := s.prepare(c)
	if err != nil {
		abort(c, status, "invalid stream request", err)
		return
	}

	ctx := c.Request.Context()
	done := s.metrics.StreamOpened(ctx, "sse", p.req.Live())
	defer done()

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	out := &sseSink{w: c.Writer, flusher: flusher}
	if err := s.run(ctx, p, out); err != nil && ctx.Err() == nil {
		s.logger.Warn("stream aborted", "topic", p.req.Topic, "id", p.req.ID, "error", err)
		_ = out.Fail(err.Error())
	}
}

// -----------------------------------------------------------------------------
// WebSocket
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

type wsSink struct {
	conn *websocket.Conn
}

func (k *wsSink) Record(id timekey.RecordID, data []byte) error {
	return k.conn.WriteJSON(stream.WSFrame{ID: id, Event: stream.EventMessage, Data: data})
}

func (k *wsSink) End() error {
	if err := k.conn.WriteJSON(stream.WSFrame{Event: stream.EventEnd}); err != nil {
		return err
	}
	return k.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (k *wsSink) Fail(msg string) error {
	return k.conn.WriteJSON(stream.WSFrame{Event: stream.EventError, Error: msg})
}

func (s *Server) handleWS(c *gin.Context) {
	p, status, err := s.prepare(c)
	if err != nil {
		abort(c, status, "invalid stream request", err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// The client never sends data; reading detects when it goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	done := s.metrics.StreamOpened(ctx, "ws", p.req.Live())
	defer done()

	out := &wsSink{conn: conn}
	if err := s.run(ctx, p, out); err != nil && ctx.Err() == nil {
		s.logger.Warn("stream aborted", "topic", p.req.Topic, "id", p.req.ID, "error", err)
		_ = out.Fail(err.Error())
	}
}

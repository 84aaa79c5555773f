// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream owns streaming fetches from the scoped backend.
//
// A Session wraps one connection and exposes it as a channel of messages:
// zero or more records in arrival order, then exactly one End or Error,
// then the channel closes. Close cancels the connection and waits for the
// reader goroutine, so no message is delivered once Close returns.
//
// Bounded sessions request a closed [start, end] range. Live sessions
// request [cursor, forever] and run until closed or failed; reconnecting is
// the owner's decision.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

var (
	sessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "scope_stream",
		Name:      "sessions_opened_total",
		Help:      "Stream sessions opened by mode",
	}, []string{"mode"})

	sessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "scope_stream",
		Name:      "sessions_finished_total",
		Help:      "Stream sessions finished by outcome",
	}, []string{"mode", "outcome"})

	recordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "scope_stream",
		Name:      "records_dropped_total",
		Help:      "Events discarded because their payload could not be decoded",
	})
)

// Kind tags a session message.
type Kind int

const (
	KindRecord Kind = iota
	KindEnd
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindEnd:
		return "end"
	default:
		return "error"
	}
}

// Message is one item yielded by a session.
type Message struct {
	Kind    Kind
	ID      timekey.RecordID
	Record  datatypes.Record
	Err     error
	Session *Session
}

// Session is one streaming fetch.
type Session struct {
	id      string
	req     Request
	ch      chan Message
	cancel  context.CancelFunc
	done    chan struct{}
	closing sync.Once
	logger  *logging.Logger
}

// Open starts a session for req over t. The session runs until the stream
// ends, fails, ctx is cancelled, or Close is called.
func Open(ctx context.Context, t Transport, req Request, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:     uuid.New().String(),
		req:    req,
		ch:     make(chan Message),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.logger = logger.With("session_id", s.id, "topic", req.Topic, "mode", s.mode())

	sessionsOpened.WithLabelValues(s.mode()).Inc()
	s.logger.Debug("stream session opened", "start", req.Start, "end", req.End, "order", req.Order)

	go s.run(ctx, t)
	return s
}

func (s *Session) mode() string {
	if s.req.Live() {
		return "live"
	}
	return "bounded"
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Request returns the request the session was opened with.
func (s *Session) Request() Request { return s.req }

// Live reports whether this is a live-tail session.
func (s *Session) Live() bool { return s.req.Live() }

// C returns the message channel. It is closed after the terminal message,
// or without one if the session was closed.
func (s *Session) C() <-chan Message { return s.ch }

// Done is closed once the reader goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close cancels the session and waits for its reader to exit. It is
// idempotent and safe to call from any goroutine that is not itself
// blocked reading C.
func (s *Session) Close() {
	s.closing.Do(func() {
		s.cancel()
	})
	<-s.done
}

func (s *Session) run(ctx context.Context, t Transport) {
	defer close(s.done)
	defer close(s.ch)
	defer s.cancel()

	err := t.Stream(ctx, s.req, func(ev Event) error {
		if ev.Type != EventMessage {
			return nil
		}
		rec, err := datatypes.ParseRecord(ev.Data)
		if err != nil {
			recordsDropped.Inc()
			s.logger.Warn("dropping malformed event", "id", ev.ID, "error", err)
			return nil
		}
		return s.send(ctx, Message{Kind: KindRecord, ID: ev.ID, Record: rec, Session: s})
	})

	if ctx.Err() != nil {
		sessionOutcomes.WithLabelValues(s.mode(), "closed").Inc()
		s.logger.Debug("stream session closed")
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		sessionOutcomes.WithLabelValues(s.mode(), "error").Inc()
		s.logger.Warn("stream session failed", "error", err)
		_ = s.send(ctx, Message{Kind: KindError, Err: err, Session: s})
		return
	}
	sessionOutcomes.WithLabelValues(s.mode(), "end").Inc()
	s.logger.Debug("stream session ended")
	_ = s.send(ctx, Message{Kind: KindEnd, Session: s})
}

func (s *Session) send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// scriptedTransport replays fixed events, then returns err.
type scriptedTransport struct {
	events []Event
	err    error
	block  bool
}

func (s *scriptedTransport) Stream(ctx context.Context, req Request, emit func(Event) error) error {
	for _, ev := range s.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func collect(t *testing.T, s *Session) []Message {
	t.Helper()
	var out []Message
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatal("session did not finish")
		}
	}
}

func TestSession_RecordsThenEnd(t *testing.T) {
	tr := &scriptedTransport{events: []Event{
		{ID: "2025-04-21T16:00:00", Type: EventMessage, Data: []byte(`{"h1":{"x":1}}`)},
		{ID: "2025-04-21T16:00:01", Type: EventMessage, Data: []byte(`{"h1":{"x":2}}`)},
		{Type: EventEnd},
	}}
	s := Open(context.Background(), tr, testRequest, nil)
	defer s.Close()

	msgs := collect(t, s)
	require.Len(t, msgs, 3)
	assert.Equal(t, KindRecord, msgs[0].Kind)
	assert.Equal(t, timekey.RecordID("2025-04-21T16:00:00"), msgs[0].ID)
	assert.Equal(t, datatypes.Record{"h1": {"x": 2}}, msgs[1].Record)
	assert.Equal(t, KindEnd, msgs[2].Kind)
	assert.Same(t, s, msgs[2].Session)
	assert.NotEmpty(t, s.ID())
	assert.False(t, s.Live())
}

func TestSession_MalformedPayloadDropped(t *testing.T) {
	tr := &scriptedTransport{events: []Event{
		{ID: "2025-04-21T16:00:00", Type: EventMessage, Data: []byte(`{"h1":`)},
		{ID: "2025-04-21T16:00:01", Type: EventMessage, Data: []byte(`{"h1":{"x":2}}`)},
	}}
	s := Open(context.Background(), tr, testRequest, nil)
	defer s.Close()

	msgs := collect(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, timekey.RecordID("2025-04-21T16:00:01"), msgs[0].ID)
	assert.Equal(t, KindEnd, msgs[1].Kind)
}

func TestSession_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	tr := &scriptedTransport{
		events: []Event{{ID: "2025-04-21T16:00:00", Type: EventMessage, Data: []byte(`{}`)}},
		err:    boom,
	}
	s := Open(context.Background(), tr, testRequest, nil)
	defer s.Close()

	msgs := collect(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, KindError, msgs[1].Kind)
	assert.ErrorIs(t, msgs[1].Err, boom)
}

func TestSession_CloseStopsDelivery(t *testing.T) {
	tr := &scriptedTransport{
		events: []Event{
			{ID: "2025-04-21T16:00:00", Type: EventMessage, Data: []byte(`{}`)},
			{ID: "2025-04-21T16:00:01", Type: EventMessage, Data: []byte(`{}`)},
		},
		block: true,
	}
	req := testRequest
	req.End = timekey.Forever
	s := Open(context.Background(), tr, req, nil)
	assert.True(t, s.Live())

	first := <-s.C()
	assert.Equal(t, KindRecord, first.Kind)

	// The second record is pending in the unbuffered channel; Close must
	// abandon it rather than deliver it.
	s.Close()
	s.Close()

	_, ok := <-s.C()
	assert.False(t, ok, "channel closed with nothing delivered after Close")
	select {
	case <-s.Done():
	default:
		t.Fatal("reader still running after Close")
	}
}

func TestSession_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := Open(ctx, &scriptedTransport{block: true}, testRequest, nil)
	cancel()

	msgs := collect(t, s)
	assert.Empty(t, msgs, "cancellation yields neither end nor error")
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "record", KindRecord.String())
	assert.Equal(t, "end", KindEnd.String())
	assert.Equal(t, "error", KindError.String())
}

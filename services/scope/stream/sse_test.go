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
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

func TestSSEDecoder_BasicEvent(t *testing.T) {
	d := NewSSEDecoder()

	_, ok := d.Feed("id: 2025-04-21T16:30:00")
	assert.False(t, ok)
	_, ok = d.Feed(`data: {"h1":{"x":1}}`)
	assert.False(t, ok)

	ev, ok := d.Feed("")
	require.True(t, ok)
	assert.Equal(t, timekey.RecordID("2025-04-21T16:30:00"), ev.ID)
	assert.Equal(t, EventMessage, ev.Type)
	assert.JSONEq(t, `{"h1":{"x":1}}`, string(ev.Data))
}

func TestSSEDecoder_CommentsAndMultilineData(t *testing.T) {
	d := NewSSEDecoder()
	d.Feed(": keepalive")
	d.Feed("id:2025-04-21T16:30:01")
	d.Feed("data: {")
	d.Feed(`data: "h1":{"x":2}}`)

	ev, ok := d.Feed("\r")
	require.True(t, ok)
	assert.Equal(t, "{\n\"h1\":{\"x\":2}}", string(ev.Data))
}

func TestSSEDecoder_IDPersistsAndEndEvent(t *testing.T) {
	d := NewSSEDecoder()
	d.Feed("id: 2025-04-21T16:30:05")
	d.Feed("data: {}")
	_, ok := d.Feed("")
	require.True(t, ok)

	d.Feed("event: end")
	ev, ok := d.Feed("")
	require.True(t, ok)
	assert.Equal(t, EventEnd, ev.Type)
	assert.Equal(t, timekey.RecordID("2025-04-21T16:30:05"), ev.ID, "last id carries over")
	assert.True(t, ev.IsTerminal())
}

func TestSSEDecoder_BlankLinesWithoutFieldsIgnored(t *testing.T) {
	d := NewSSEDecoder()
	_, ok := d.Feed("")
	assert.False(t, ok)
	d.Feed("retry: 1000")
	_, ok = d.Feed("")
	assert.False(t, ok)
}

func TestReadSSE_StopsAtTerminal(t *testing.T) {
	body := strings.Join([]string{
		"id: 2025-04-21T16:30:00",
		`data: {"h1":{"x":1}}`,
		"",
		"id: 2025-04-21T16:30:01",
		`data: {"h1":{"x":2}}`,
		"",
		"event: end",
		"data: ",
		"",
		"id: 2025-04-21T16:30:02",
		`data: {"never":{}}`,
		"",
	}, "\n")

	var got []Event
	err := ReadSSE(context.Background(), strings.NewReader(body), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, EventEnd, got[2].Type)
}

func TestReadSSE_FlushesTrailingEventAtEOF(t *testing.T) {
	var got []Event
	err := ReadSSE(context.Background(), strings.NewReader("id: a\ndata: {}"), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestReadSSE_CallbackErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	err := ReadSSE(context.Background(), strings.NewReader("data: 1\n\ndata: 2\n\n"), func(Event) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestReadSSE_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadSSE(ctx, strings.NewReader("data: 1\n\n"), func(Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteSSE_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, Event{ID: "2025-04-21T16:30:00", Data: []byte(`{"h":{"x":1}}`)}))
	require.NoError(t, WriteSSE(&buf, Event{Type: EventEnd}))
	assert.Equal(t, "id: 2025-04-21T16:30:00\ndata: {\"h\":{\"x\":1}}\n\nevent: end\ndata: \n\n", buf.String())

	var got []Event
	require.NoError(t, ReadSSE(context.Background(), &buf, func(ev Event) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, EventEnd, got[1].Type)
}

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
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// =============================================================================
// Events
// =============================================================================

// EventType distinguishes data events from stream control events.
type EventType string

const (
	// EventMessage carries one record.
	EventMessage EventType = "message"
	// EventEnd marks the natural end of a bounded stream.
	EventEnd EventType = "end"
	// EventError carries a server-side failure description in Data.
	EventError EventType = "error"
)

// Event is one decoded server-sent event.
type Event struct {
	ID   timekey.RecordID
	Type EventType
	Data []byte
}

// IsTerminal reports whether no further events follow this one.
func (e Event) IsTerminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}

// =============================================================================
// Decoder
// =============================================================================

// SSEDecoder assembles event-stream lines into events.
//
// Description:
//
//	Lines are fed one at a time. Field lines ("id:", "event:", "data:")
//	accumulate into a pending event, comment lines (":") are ignored, and a
//	blank line dispatches the pending event. Multiple data lines are joined
//	with "\n". The last seen id persists across events, matching the
//	EventSource lastEventId rule.
//
// Thread Safety:
//
//	Not safe for concurrent use. Use one decoder per connection.
type SSEDecoder struct {
	lastID  timekey.RecordID
	evType  EventType
	data    []string
	pending bool
}

// NewSSEDecoder returns an empty decoder.
func NewSSEDecoder() *SSEDecoder {
	return &SSEDecoder{}
}

// Feed consumes one line (without its terminator) and returns a complete
// event when the line dispatches one.
func (d *SSEDecoder) Feed(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return d.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return Event{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "id":
		d.lastID = timekey.RecordID(value)
		d.pending = true
	case "event":
		d.evType = EventType(value)
		d.pending = true
	case "data":
		d.data = append(d.data, value)
		d.pending = true
	}
	return Event{}, false
}

func (d *SSEDecoder) dispatch() (Event, bool) {
	if !d.pending {
		return Event{}, false
	}
	ev := Event{
		ID:   d.lastID,
		Type: d.evType,
		Data: []byte(strings.Join(d.data, "\n")),
	}
	if ev.Type == "" {
		ev.Type = EventMessage
	}
	d.evType = ""
	d.data = d.data[:0]
	d.pending = false

	if ev.Type == EventMessage && len(ev.Data) == 0 {
		return Event{}, false
	}
	return ev, true
}

// maxLineBytes bounds a single SSE line. Records for large clusters can be
// far larger than bufio.Scanner's 64KiB default.
const maxLineBytes = 4 << 20

// ReadSSE decodes r and invokes callback for each event until the stream
// ends, a terminal event is delivered, callback fails, or ctx is done.
func ReadSSE(ctx context.Context, r io.Reader, callback func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	decoder := NewSSEDecoder()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, ok := decoder.Feed(scanner.Text())
		if !ok {
			continue
		}
		if err := callback(ev); err != nil {
			return err
		}
		if ev.IsTerminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	if ev, ok := decoder.dispatch(); ok {
		return callback(ev)
	}
	return nil
}

// WriteSSE renders an event in event-stream framing.
func WriteSSE(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Type != "" && ev.Type != EventMessage {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	for _, line := range strings.Split(string(ev.Data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

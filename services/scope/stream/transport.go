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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// Transport opens a streaming connection and delivers events in arrival
// order until the stream ends.
//
// Stream returns nil when the server ends the stream normally, ctx.Err()
// when ctx is cancelled, and any other error on transport failure. emit
// errors abort the stream and are returned unchanged.
type Transport interface {
	Stream(ctx context.Context, req Request, emit func(Event) error) error
}

// ServerError is an error event or non-200 response from the backend.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stream server error (status %d): %s", e.Status, e.Message)
	}
	return "stream server error: " + e.Message
}

// =============================================================================
// HTTP / Server-Sent Events
// =============================================================================

// HTTPTransport reads /stream as Server-Sent Events.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport returns a transport against baseURL. Streams are
// long-lived, so the client must not carry a global timeout.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{}}
}

// Stream implements Transport.
func (t *HTTPTransport) Stream(ctx context.Context, req Request, emit func(Event) error) error {
	u := t.BaseURL + "/stream?" + req.Query().Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ServerError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	err = ReadSSE(ctx, resp.Body, func(ev Event) error {
		if ev.Type == EventError {
			return &ServerError{Message: string(ev.Data)}
		}
		return emit(ev)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// =============================================================================
// WebSocket
// =============================================================================

// WSFrame is the JSON shape of one /ws/stream message, shared with the
// backend.
type WSFrame struct {
	ID    timekey.RecordID `json:"id,omitempty"`
	Event EventType        `json:"event,omitempty"`
	Data  json.RawMessage  `json:"data,omitempty"`
	Error string           `json:"error,omitempty"`
}

// WSTransport reads /ws/stream over a WebSocket.
type WSTransport struct {
	BaseURL string
	Dialer  *websocket.Dialer
}

// NewWSTransport accepts an http(s) or ws(s) base URL.
func NewWSTransport(baseURL string) *WSTransport {
	return &WSTransport{BaseURL: strings.TrimRight(baseURL, "/"), Dialer: websocket.DefaultDialer}
}

func (t *WSTransport) endpoint(req Request) (string, error) {
	u, err := url.Parse(t.BaseURL + "/ws/stream")
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = req.Query().Encode()
	return u.String(), nil
}

// Stream implements Transport.
func (t *WSTransport) Stream(ctx context.Context, req Request, emit func(Event) error) error {
	endpoint, err := t.endpoint(req)
	if err != nil {
		return err
	}
	conn, resp, err := t.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resp != nil {
			return &ServerError{Status: resp.StatusCode, Message: err.Error()}
		}
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var frame WSFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return fmt.Errorf("read websocket: %w", err)
		}

		switch frame.Event {
		case EventError:
			return &ServerError{Message: frame.Error}
		case EventEnd:
			return emit(Event{ID: frame.ID, Type: EventEnd})
		default:
			if err := emit(Event{ID: frame.ID, Type: EventMessage, Data: frame.Data}); err != nil {
				return err
			}
		}
	}
}

var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*WSTransport)(nil)
)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/chart"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// =============================================================================
// Fake backend
// =============================================================================

type fakeBackend struct {
	mu        sync.Mutex
	noProfile bool
	requests  []stream.Request
	inits     []string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/profile":
		b.mu.Lock()
		missing := b.noProfile
		b.mu.Unlock()
		if missing {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, map[string]any{
			"topic": "cpu", "id": "web", "attr": []any{"x"}, "host": []string{"h1"}, "unit": "s",
		})
	case "/profile/init":
		b.mu.Lock()
		b.inits = append(b.inits, r.URL.RawQuery)
		b.mu.Unlock()
		q := r.URL.Query()
		writeJSON(w, map[string]any{
			"topic": q.Get("topic"), "id": q.Get("id"), "attr": strings.Split(q.Get("attr"), ","), "unit": "s",
		})
	case "/topics":
		writeJSON(w, map[string]any{
			"cpu": map[string]any{"id": "web", "host": []string{"h1", "h2"}, "attr": []any{"x", map[string]string{"name": "busy"}}},
			"mem": map[string]any{"id": "db", "host": []string{"h1"}, "attr": []any{"used"}},
		})
	case "/ids":
		writeJSON(w, []string{"db", "web"})
	case "/stream":
		b.stream(w, r)
	default:
		http.NotFound(w, r)
	}
}

// stream emits three records from the requested start, one per second.
func (b *fakeBackend) stream(w http.ResponseWriter, r *http.Request) {
	req, err := stream.ParseRequest(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	start := req.Start.MustInstant()
	for i := 0; i < 3; i++ {
		id := timekey.ToRecordID(start.Add(time.Duration(i)*time.Second), timekey.Second)
		data := fmt.Sprintf(`{"h1":{"x":%d}}`, i+1)
		_ = stream.WriteSSE(w, stream.Event{ID: id, Data: []byte(data)})
	}
	_ = stream.WriteSSE(w, stream.Event{Type: stream.EventEnd, Data: []byte("end")})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// runCLI executes the command tree against backend and returns stdout.
func runCLI(t *testing.T, backend http.Handler, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "scope.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  dir: \"\"\n  level: error\n"), 0644))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--server", srv.URL}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// =============================================================================
// Command tests
// =============================================================================

func TestTopicsCommand(t *testing.T) {
	out, err := runCLI(t, &fakeBackend{}, "topics")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "TOPIC")
	assert.Contains(t, lines[1], "cpu")
	assert.Contains(t, lines[1], "h1,h2")
	assert.Contains(t, lines[1], "x,@busy")
	assert.Contains(t, lines[2], "mem")
}

func TestIDsCommand(t *testing.T) {
	out, err := runCLI(t, &fakeBackend{}, "ids", "mem")
	require.NoError(t, err)
	assert.Equal(t, "db\nweb\n", out)
}

func TestProfileShowCommand(t *testing.T) {
	out, err := runCLI(t, &fakeBackend{}, "profile", "show")
	require.NoError(t, err)

	var p datatypes.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "cpu", p.Topic)
	assert.Equal(t, timekey.Second, p.Unit)
}

func TestProfileInitWithFlags(t *testing.T) {
	backend := &fakeBackend{}
	out, err := runCLI(t, backend, "--user", "ops", "profile", "init", "--topic", "mem", "--id", "db", "--attr", "used,free")
	require.NoError(t, err)
	assert.Contains(t, out, `Created profile for "ops": mem/db`)

	require.Len(t, backend.inits, 1)
	assert.Contains(t, backend.inits[0], "user=ops")
	assert.Contains(t, backend.inits[0], "attr=used%2Cfree")
}

func TestRenderHTML(t *testing.T) {
	backend := &fakeBackend{}
	path := filepath.Join(t.TempDir(), "chart.html")
	out, err := runCLI(t, backend, "render",
		"--start", "2024-03-05T10:00:00", "--end", "2024-03-05T10:10:00", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 3 points to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cpu/web")
	assert.Contains(t, string(data), "2024-03-05T10:00:02")

	require.NotEmpty(t, backend.requests)
	last := backend.requests[len(backend.requests)-1]
	assert.Equal(t, timekey.RecordID("2024-03-05T10:00:00"), last.Start)
	assert.Equal(t, timekey.RecordID("2024-03-05T10:10:00"), last.End)
}

func TestRenderPNGFromExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	_, err := runCLI(t, &fakeBackend{}, "render",
		"--start", "2024-03-05T10:00:00", "--end", "2024-03-05T10:10:00", "-o", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestRenderWithoutProfile(t *testing.T) {
	_, err := runCLI(t, &fakeBackend{noProfile: true}, "render")
	assert.ErrorContains(t, err, "scope profile init")
}

func TestRenderInvalidRange(t *testing.T) {
	_, err := runCLI(t, &fakeBackend{}, "render", "--start", "2024-03-05T10:00:00", "--end", "2024-03-05T09:00:00")
	assert.ErrorContains(t, err, "end before start")
}

func TestInvalidTransportFlag(t *testing.T) {
	_, err := runCLI(t, &fakeBackend{}, "--transport", "smoke", "topics")
	assert.ErrorContains(t, err, "invalid flags")
}

// =============================================================================
// Helper tests
// =============================================================================

func TestRenderFormat(t *testing.T) {
	tests := []struct {
		opts renderOptions
		want string
	}{
		{renderOptions{}, "html"},
		{renderOptions{output: "a.PNG"}, "png"},
		{renderOptions{output: "a.htm"}, "html"},
		{renderOptions{output: "a.html", format: "png"}, "png"},
	}
	for _, tt := range tests {
		got, err := renderFormat(tt.opts, "html")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := renderFormat(renderOptions{output: "a.svg"}, "html")
	assert.Error(t, err)
}

func TestShowOptionsApply(t *testing.T) {
	p := datatypes.Profile{Topic: "cpu", ID: "web", Unit: timekey.Second}
	o := showOptions{id: "db", hosts: []string{"h2"}, attrs: []string{"x,@busy"}, unit: "m"}
	require.NoError(t, o.apply(&p))

	assert.Equal(t, "cpu", p.Topic)
	assert.Equal(t, "db", p.ID)
	assert.Equal(t, []string{"h2"}, p.Host)
	assert.Equal(t, []datatypes.AttrRef{datatypes.Plain("x"), datatypes.DerivedRef("busy")}, p.Attr)
	assert.Equal(t, timekey.Minute, p.Unit)

	assert.Error(t, showOptions{unit: "fortnight"}.apply(&p))
}

func TestLinePrinter_PrintsNewPointsOnce(t *testing.T) {
	var buf bytes.Buffer
	lp := newLinePrinter(&buf)

	snap := chart.Snapshot{
		Names:  []string{"x", "y"},
		X:      []timekey.RecordID{"2024-03-05T10:00:00", "2024-03-05T10:00:01"},
		Values: [][]float64{{1, 2}, {0.5, 3}},
	}
	lp.print(snap)
	snap.X = append(snap.X, "2024-03-05T10:00:02")
	snap.Values[0] = append(snap.Values[0], 4)
	snap.Values[1] = append(snap.Values[1], 5)
	lp.print(snap)

	assert.Equal(t,
		"2024-03-05T10:00:00  x=1  y=0.5\n"+
			"2024-03-05T10:00:01  x=2  y=3\n"+
			"2024-03-05T10:00:02  x=4  y=5\n",
		buf.String())
}

func TestIsTerminal_NonFile(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}

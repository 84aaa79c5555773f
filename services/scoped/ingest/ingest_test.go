// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scoped/samples"
)

type fakeStore struct {
	written  []samples.Point
	err      error
	failures int
	writes   int
}

func (f *fakeStore) Query(context.Context, samples.Query) ([]samples.Sample, error) { return nil, nil }
func (f *fakeStore) IDs(context.Context, string) ([]string, error)                  { return nil, nil }
func (f *fakeStore) Write(_ context.Context, points ...samples.Point) error {
	f.writes++
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("influx unavailable")
	}
	f.written = append(f.written, points...)
	return nil
}

func TestParseMessage(t *testing.T) {
	m, err := ParseMessage([]byte("web1 2026-01-05T09:00:01 web user=12 sys=3.5 state=up\n"))
	require.NoError(t, err)
	assert.Equal(t, "web1", m.Host)
	assert.Equal(t, "web", m.SeriesID)
	assert.Equal(t, map[string]float64{"user": 12, "sys": 3.5}, m.Values)

	p := m.Point("cpu")
	assert.Equal(t, "cpu", p.Topic)
	assert.Equal(t, time.Date(2026, 1, 5, 9, 0, 1, 0, time.Local), p.At)
}

func TestParseMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"too short", "web1 2026-01-05T09:00:01 web", ErrMalformed},
		{"bad id", "web1 yesterday web user=1", ErrMalformed},
		{"bad host", "we/b1 2026-01-05T09:00:01 web user=1", ErrMalformed},
		{"coarse id", "web1 2026-01-05T09:00 web user=1", ErrNotSecond},
		{"no numbers", "web1 2026-01-05T09:00:01 web state=up", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.line))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandle_MultiLine(t *testing.T) {
	store := &fakeStore{}
	value := []byte("web1 2026-01-05T09:00:01 web user=1\n\nweb2 2026-01-05T09:00:01 web user=2\nbroken\n")

	n, err := handle(context.Background(), store, "cpu", value)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, ErrMalformed)
	require.Len(t, store.written, 2)
	assert.Equal(t, "web2", store.written[1].Host)
}

func TestHandle_StoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("influx down")}
	n, err := handle(context.Background(), store, "cpu", []byte("web1 2026-01-05T09:00:01 web user=1"))
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "influx down")
	assert.ErrorIs(t, err, ErrStore)
}

// testConsumer builds a Consumer without a Kafka client. Retry timers fire
// immediately and commits are counted.
func testConsumer(store samples.Store, commits *int) *Consumer {
	return &Consumer{
		store:  store,
		logger: logging.Discard(),
		commit: func(context.Context) error {
			*commits++
			return nil
		},
		after: func(time.Duration) <-chan time.Time {
			ch := make(chan time.Time, 1)
			ch <- time.Time{}
			return ch
		},
	}
}

func records(values ...string) []*kgo.Record {
	out := make([]*kgo.Record, len(values))
	for i, v := range values {
		out[i] = &kgo.Record{Topic: "cpu", Value: []byte(v), Offset: int64(i)}
	}
	return out
}

func TestSettle_RetriesWriteBeforeCommit(t *testing.T) {
	store := &fakeStore{failures: 2}
	commits := 0
	c := testConsumer(store, &commits)

	ok := c.settle(context.Background(), records("web1 2026-01-05T09:00:01 web user=1"))
	assert.True(t, ok)
	assert.Equal(t, 3, store.writes)
	assert.Len(t, store.written, 1)
	assert.Equal(t, 1, commits)
}

func TestSettle_WriteFailureNeverCommits(t *testing.T) {
	store := &fakeStore{err: errors.New("influx down")}
	commits := 0
	c := testConsumer(store, &commits)
	c.after = func(time.Duration) <-chan time.Time { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := c.settle(ctx, records("web1 2026-01-05T09:00:01 web user=1", "web2 2026-01-05T09:00:01 web user=2"))
	assert.False(t, ok)
	assert.Equal(t, 1, store.writes, "the second record is not attempted")
	assert.Zero(t, commits)
}

func TestSettle_MalformedLinesAreCommitted(t *testing.T) {
	store := &fakeStore{}
	commits := 0
	c := testConsumer(store, &commits)

	ok := c.settle(context.Background(), records("broken", "web1 2026-01-05T09:00:01 web user=1"))
	assert.True(t, ok)
	assert.Equal(t, 1, store.writes)
	assert.Equal(t, 1, commits)
}

func TestNewConsumer_Validates(t *testing.T) {
	_, err := NewConsumer(Config{Topics: []string{"cpu"}}, &fakeStore{}, nil)
	assert.ErrorIs(t, err, ErrNoBrokers)

	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}}, &fakeStore{}, nil)
	assert.Error(t, err)

	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}, Topics: []string{"bad topic"}}, &fakeStore{}, nil)
	assert.Error(t, err)
}

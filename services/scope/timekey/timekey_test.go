// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timekey

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localTime(y int, mo time.Month, d, h, mi, s int) time.Time {
	return time.Date(y, mo, d, h, mi, s, 0, time.Local)
}

func TestToRecordID_TruncatesPerGranularity(t *testing.T) {
	ts := time.Date(2025, 4, 21, 16, 30, 5, 987654321, time.Local)

	assert.Equal(t, RecordID("2025-04-21"), ToRecordID(ts, Day))
	assert.Equal(t, RecordID("2025-04-21T16"), ToRecordID(ts, Hour))
	assert.Equal(t, RecordID("2025-04-21T16:30"), ToRecordID(ts, Minute))
	assert.Equal(t, RecordID("2025-04-21T16:30:05"), ToRecordID(ts, Second))
	assert.Equal(t, RecordID("2025-04-21T16:30:05"), ToRecordID(ts, Subsecond))
}

func TestRecordID_Instant(t *testing.T) {
	tests := []struct {
		id   RecordID
		want time.Time
	}{
		{"2025-04-21", localTime(2025, 4, 21, 0, 0, 0)},
		{"2025-04-21T16", localTime(2025, 4, 21, 16, 0, 0)},
		{"2025-04-21T16:30", localTime(2025, 4, 21, 16, 30, 0)},
		{"2025-04-21T16:30:05", localTime(2025, 4, 21, 16, 30, 5)},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			got, err := tt.id.Instant()
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestRecordID_InstantRejectsGarbage(t *testing.T) {
	for _, id := range []RecordID{"", "yesterday", "2025-13-01", "2025-04-21T25:00:00", Forever} {
		_, err := id.Instant()
		assert.True(t, errors.Is(err, ErrBadRecordID), "id %q", id)
		assert.False(t, id.Valid())
	}
}

func TestRecordID_Granularity(t *testing.T) {
	for id, want := range map[RecordID]Granularity{
		"2024-03-05":          Day,
		"2024-03-05T10":       Hour,
		"2024-03-05T10:30":    Minute,
		"2024-03-05T10:30:15": Second,
	} {
		got, err := id.Granularity()
		require.NoError(t, err)
		assert.Equal(t, want, got, "id %s", id)
	}
	_, err := RecordID("forever").Granularity()
	assert.ErrorIs(t, err, ErrBadRecordID)
}

func TestRecordID_RoundTrip(t *testing.T) {
	ts := localTime(2025, 12, 31, 23, 59, 59)
	for _, g := range All {
		id := ToRecordID(ts, g)
		back, err := id.Instant()
		require.NoError(t, err)
		assert.Equal(t, id, ToRecordID(back, g), "granularity %s", g)
	}
}

func TestRecordID_OrderingMatchesTime(t *testing.T) {
	a := ToRecordID(localTime(2025, 4, 21, 9, 59, 59), Second)
	b := ToRecordID(localTime(2025, 4, 21, 10, 0, 0), Second)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, Forever.After(b), "forever sorts after every id")
}

func TestGranularity_Properties(t *testing.T) {
	assert.Equal(t, 30, Day.DefaultLookback())
	assert.Equal(t, 30, Hour.DefaultLookback())
	assert.Equal(t, 300, Minute.DefaultLookback())
	assert.Equal(t, 1800, Second.DefaultLookback())
	assert.Equal(t, 1800, Subsecond.DefaultLookback())

	assert.Equal(t, 300*time.Minute, Minute.Lookback())
	assert.Equal(t, 30*time.Minute, Second.Lookback())

	for _, g := range []Granularity{Day, Hour, Minute} {
		assert.False(t, g.Cacheable(), "%s", g)
	}
	assert.True(t, Second.Cacheable())
	assert.True(t, Subsecond.Cacheable())

	assert.Equal(t, "all", Subsecond.Dataset())
	assert.Equal(t, "samp", Second.Dataset())

	assert.False(t, Hour.LiveCapable())
	assert.True(t, Minute.LiveCapable())
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("second")
	require.NoError(t, err)
	assert.Equal(t, Second, g)

	g, err = ParseGranularity("SS")
	require.NoError(t, err)
	assert.Equal(t, Subsecond, g)

	_, err = ParseGranularity("week")
	assert.ErrorIs(t, err, ErrUnknownGranularity)
	assert.False(t, Granularity("w").Valid())
}

func TestApproximatelyEqual(t *testing.T) {
	assert.True(t, ApproximatelyEqual("2025-04-21T16:30:00", "2025-04-21T16:30:06"))
	assert.True(t, ApproximatelyEqual("2025-04-21T16:30:06", "2025-04-21T16:30:00"))
	assert.False(t, ApproximatelyEqual("2025-04-21T16:30:00", "2025-04-21T16:30:07"))
	assert.True(t, ApproximatelyEqual("2025-04-21T16:30", "2025-04-21T16:30:05"))
	assert.False(t, ApproximatelyEqual("bogus", "2025-04-21T16:30:05"))
}

func TestShiftAndAgo(t *testing.T) {
	id, err := Shift("2025-04-21T16:30:00", 1800, Second)
	require.NoError(t, err)
	assert.Equal(t, RecordID("2025-04-21T16:00:00"), id)

	id, err = Shift("2025-04-21T16:30", -300, Minute)
	require.NoError(t, err)
	assert.Equal(t, RecordID("2025-04-21T21:30"), id)

	from := localTime(2025, 4, 21, 0, 0, 0)
	assert.Equal(t, from.Add(-30*24*time.Hour), Ago(30, Day, from))
	assert.Equal(t, from.Add(5*time.Second), Ago(-5, Second, from))
}

func TestWindow(t *testing.T) {
	w := Window{Start: "2025-04-21T16:00:00", End: "2025-04-21T16:30:00"}
	assert.True(t, w.Contains("2025-04-21T16:10:00"))
	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains("2025-04-21T16:30:01"))
	assert.False(t, w.Empty())
	assert.Equal(t, "[2025-04-21T16:00:00, 2025-04-21T16:30:00]", w.String())
}

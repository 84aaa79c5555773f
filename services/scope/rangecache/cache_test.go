// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rangecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

func key(g timekey.Granularity) datatypes.Key {
	return datatypes.Key{Topic: "cpu", SeriesID: "all", Granularity: g}
}

func rec(v float64) datatypes.Record {
	return datatypes.Record{"h1": {"x": v}}
}

// seeded returns a cache spanning 16:00:00..16:10:00 at one-minute steps.
func seeded(t *testing.T) *Cache {
	t.Helper()
	c := New(nil)
	k := key(timekey.Second)
	for _, id := range []timekey.RecordID{
		"2025-04-21T16:00:00", "2025-04-21T16:05:00", "2025-04-21T16:10:00",
	} {
		c.Insert(k, id, rec(1))
	}
	require.Equal(t, 3, c.Len())
	return c
}

// =============================================================================
// MissingRange
// =============================================================================

func TestMissingRange_CoarseAlwaysFull(t *testing.T) {
	for _, g := range []timekey.Granularity{timekey.Day, timekey.Hour, timekey.Minute} {
		t.Run(g.Name(), func(t *testing.T) {
			c := New(nil)
			k := key(g)
			desired := timekey.Window{Start: "2025-04-21T16:00", End: "2025-04-21T16:30"}

			// Inserts are ignored, so the cache can never serve coarse data.
			assert.Equal(t, Skipped, c.Insert(k, "2025-04-21T16:00", rec(1)))
			assert.Equal(t, Skipped, c.Insert(k, "2025-04-21T16:10", rec(2)))

			got, verdict := c.MissingRange(k, desired)
			assert.Equal(t, Full, verdict)
			assert.Equal(t, desired, got)
			assert.Zero(t, c.Len())
		})
	}
}

func TestMissingRange_EmptyCache(t *testing.T) {
	c := New(nil)
	desired := timekey.Window{Start: "2025-04-21T16:00:00", End: "2025-04-21T16:30:00"}

	got, verdict := c.MissingRange(key(timekey.Second), desired)
	assert.Equal(t, Full, verdict)
	assert.Equal(t, desired, got)
}

func TestMissingRange_TailOnly(t *testing.T) {
	c := seeded(t)
	desired := timekey.Window{Start: "2025-04-21T16:00:00", End: "2025-04-21T16:20:00"}

	got, verdict := c.MissingRange(key(timekey.Second), desired)
	assert.Equal(t, Tail, verdict)
	assert.Equal(t, timekey.Window{Start: "2025-04-21T16:10:00", End: "2025-04-21T16:20:00"}, got)
	assert.Equal(t, 3, c.Len(), "cache kept")
}

func TestMissingRange_TailWithApproximateStart(t *testing.T) {
	c := seeded(t)
	// Starts 5s before the cache: within tolerance, still counts as covered start.
	desired := timekey.Window{Start: "2025-04-21T15:59:55", End: "2025-04-21T16:20:00"}

	got, verdict := c.MissingRange(key(timekey.Second), desired)
	assert.Equal(t, Tail, verdict)
	assert.Equal(t, timekey.RecordID("2025-04-21T16:10:00"), got.Start)
}

func TestMissingRange_Covered(t *testing.T) {
	c := seeded(t)
	desired := timekey.Window{Start: "2025-04-21T16:01:00", End: "2025-04-21T16:09:00"}

	_, verdict := c.MissingRange(key(timekey.Second), desired)
	assert.Equal(t, Covered, verdict)

	replay := c.Within(desired)
	require.Len(t, replay, 1)
	assert.Equal(t, timekey.RecordID("2025-04-21T16:05:00"), replay[0].ID)
	assert.Len(t, c.Snapshot(), 3)
}

func TestMissingRange_Backfill(t *testing.T) {
	c := seeded(t)
	desired := timekey.Window{Start: "2025-04-21T15:30:00", End: "2025-04-21T16:00:00"}

	got, verdict := c.MissingRange(key(timekey.Second), desired)
	assert.Equal(t, Backfill, verdict)
	assert.Equal(t, desired, got)
	assert.Equal(t, 3, c.Len(), "backfill keeps the cache")

	// Records arriving newest first fold into the front of the run.
	k := key(timekey.Second)
	assert.Equal(t, Dropped, c.Insert(k, "2025-04-21T16:00:00", rec(9)))
	assert.Equal(t, Prepended, c.Insert(k, "2025-04-21T15:45:00", rec(2)))
	assert.Equal(t, Prepended, c.Insert(k, "2025-04-21T15:30:00", rec(3)))

	earliest, latest, ok := c.Bounds()
	require.True(t, ok)
	assert.Equal(t, timekey.RecordID("2025-04-21T15:30:00"), earliest)
	assert.Equal(t, timekey.RecordID("2025-04-21T16:10:00"), latest)
}

func TestMissingRange_UnbridgeableGapResets(t *testing.T) {
	c := seeded(t)
	desired := timekey.Window{Start: "2025-04-21T14:00:00", End: "2025-04-21T14:30:00"}

	got, verdict := c.MissingRange(key(timekey.Second), desired)
	assert.Equal(t, Full, verdict)
	assert.Equal(t, desired, got)
	assert.Zero(t, c.Len())
}

func TestMissingRange_EarlierStartOverlappingResets(t *testing.T) {
	c := seeded(t)
	desired := timekey.Window{Start: "2025-04-21T15:50:00", End: "2025-04-21T16:20:00"}

	_, verdict := c.MissingRange(key(timekey.Second), desired)
	assert.Equal(t, Full, verdict)
	assert.Zero(t, c.Len())
}

func TestMissingRange_KeyChangeResets(t *testing.T) {
	c := seeded(t)
	other := datatypes.Key{Topic: "net", SeriesID: "all", Granularity: timekey.Second}
	desired := timekey.Window{Start: "2025-04-21T16:00:00", End: "2025-04-21T16:05:00"}

	got, verdict := c.MissingRange(other, desired)
	assert.Equal(t, Full, verdict)
	assert.Equal(t, desired, got)
	assert.Zero(t, c.Len())
	assert.Equal(t, other, c.Key())
}

// =============================================================================
// Insert / Snapshot
// =============================================================================

func TestInsert_OrderIndependentOfLegalCallOrder(t *testing.T) {
	k := key(timekey.Second)
	id1, id2 := timekey.RecordID("2025-04-21T16:00:00"), timekey.RecordID("2025-04-21T16:00:01")

	ascending := New(nil)
	ascending.Insert(k, id1, rec(1))
	ascending.Insert(k, id2, rec(2))

	descending := New(nil)
	descending.Insert(k, id2, rec(2))
	descending.Insert(k, id1, rec(1))

	want := []Entry{{ID: id1, Record: rec(1)}, {ID: id2, Record: rec(2)}}
	assert.Equal(t, want, ascending.Snapshot())
	assert.Equal(t, want, descending.Snapshot())
}

func TestInsert_Idempotent(t *testing.T) {
	c := New(nil)
	k := key(timekey.Subsecond)

	assert.Equal(t, Seeded, c.Insert(k, "2025-04-21T16:00:00", rec(1)))
	before := c.Snapshot()

	assert.Equal(t, Dropped, c.Insert(k, "2025-04-21T16:00:00", rec(99)))
	assert.Equal(t, before, c.Snapshot(), "duplicates never overwrite")
}

func TestInsert_InteriorDropped(t *testing.T) {
	c := seeded(t)
	assert.Equal(t, Dropped, c.Insert(key(timekey.Second), "2025-04-21T16:07:00", rec(5)))
	assert.Equal(t, 3, c.Len())
}

func TestInsert_KeyChangeResets(t *testing.T) {
	c := seeded(t)
	other := key(timekey.Subsecond)

	assert.Equal(t, Seeded, c.Insert(other, "2025-04-21T17:00:00", rec(1)))
	assert.Equal(t, 1, c.Len())
}

func TestSnapshot_StrictlyIncreasing(t *testing.T) {
	c := seeded(t)
	k := key(timekey.Second)
	c.Insert(k, "2025-04-21T15:00:00", rec(1))
	c.Insert(k, "2025-04-21T17:00:00", rec(1))
	c.Insert(k, "2025-04-21T16:03:00", rec(1))

	snap := c.Snapshot()
	require.Len(t, snap, 5)
	for i := 1; i < len(snap); i++ {
		assert.Less(t, string(snap[i-1].ID), string(snap[i].ID))
	}
}

func TestReset(t *testing.T) {
	c := seeded(t)
	c.Reset()
	assert.Zero(t, c.Len())
	_, _, ok := c.Bounds()
	assert.False(t, ok)
	assert.Empty(t, c.Snapshot())
	assert.Nil(t, c.Within(timekey.Window{Start: "2025-04-21T00:00:00", End: "2025-04-22T00:00:00"}))
}

func TestVerdictAndOutcomeStrings(t *testing.T) {
	assert.Equal(t, "covered", Covered.String())
	assert.Equal(t, "backfill", Backfill.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "prepended", Prepended.String())
	assert.Equal(t, "skipped", Skipped.String())
}

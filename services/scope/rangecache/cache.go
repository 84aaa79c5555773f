// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rangecache keeps the records already fetched for the active chart.
//
// The cache holds one contiguous, strictly increasing run of record ids for
// a single (topic, series id, granularity) key. It only grows at its edges:
// records before the earliest id are prepended, records after the latest id
// are appended, and anything else is dropped. When the key changes, or a
// request cannot be bridged to the cached run, the whole cache is discarded.
//
// Coarse granularities (day, hour, minute) are never cached; every request
// for them is reported as fully missing.
//
// # Thread Safety
//
// Cache is not safe for concurrent use. It is owned by the viewer's event
// loop.
package rangecache

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "scope_cache",
		Name:      "lookups_total",
		Help:      "Range cache lookups by verdict",
	}, []string{"verdict"})

	insertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "scope_cache",
		Name:      "inserts_total",
		Help:      "Range cache inserts by outcome",
	}, []string{"outcome"})

	resetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "scope_cache",
		Name:      "resets_total",
		Help:      "Times the range cache was discarded",
	})
)

// Verdict classifies the result of MissingRange.
type Verdict int

const (
	// Covered means nothing needs fetching; replay from the cache.
	Covered Verdict = iota
	// Tail means only data after the cached run is missing.
	Tail
	// Backfill means the request ends where the cached run begins; fetch it
	// newest first so records prepend.
	Backfill
	// Full means the whole request must be fetched.
	Full
)

func (v Verdict) String() string {
	switch v {
	case Covered:
		return "covered"
	case Tail:
		return "tail"
	case Backfill:
		return "backfill"
	default:
		return "full"
	}
}

// InsertOutcome reports what Insert did with a record.
type InsertOutcome int

const (
	Skipped InsertOutcome = iota
	Seeded
	Prepended
	Appended
	Dropped
)

func (o InsertOutcome) String() string {
	switch o {
	case Seeded:
		return "seeded"
	case Prepended:
		return "prepended"
	case Appended:
		return "appended"
	case Dropped:
		return "dropped"
	default:
		return "skipped"
	}
}

// Entry is one cached record.
type Entry struct {
	ID     timekey.RecordID
	Record datatypes.Record
}

// Cache is the range cache. The zero value is not usable; call New.
type Cache struct {
	key     datatypes.Key
	keyed   bool
	ids     []timekey.RecordID
	records map[timekey.RecordID]datatypes.Record
	logger  *logging.Logger
}

// New creates an empty cache.
func New(logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cache{
		records: make(map[timekey.RecordID]datatypes.Record),
		logger:  logger,
	}
}

// Reset discards every cached record. The key is kept.
func (c *Cache) Reset() {
	if len(c.ids) > 0 {
		resetsTotal.Inc()
		c.logger.Debug("range cache reset", "key", c.key.String(), "entries", len(c.ids))
	}
	c.ids = nil
	c.records = make(map[timekey.RecordID]datatypes.Record)
}

// SetKey makes key the active key, resetting the cache if it differs.
func (c *Cache) SetKey(key datatypes.Key) {
	if c.keyed && c.key == key {
		return
	}
	c.Reset()
	c.key = key
	c.keyed = true
}

// Key returns the active key.
func (c *Cache) Key() datatypes.Key { return c.key }

// Len returns the number of cached records.
func (c *Cache) Len() int { return len(c.ids) }

// Bounds returns the earliest and latest cached ids.
func (c *Cache) Bounds() (earliest, latest timekey.RecordID, ok bool) {
	if len(c.ids) == 0 {
		return "", "", false
	}
	return c.ids[0], c.ids[len(c.ids)-1], true
}

// MissingRange reports which part of desired still has to be fetched for
// key. The returned window is meaningful unless the verdict is Covered.
//
//   - Uncacheable granularity: Full, desired.
//   - Empty cache or another key: reset, Full, desired.
//   - Cache starts at or before desired.Start (within 7s counts): Tail
//     {latest, desired.End} when desired ends after the cache, else Covered.
//   - desired ends where the cache starts: Backfill, desired; the cache is
//     kept so the fetched records prepend.
//   - Anything else cannot be bridged: reset, Full, desired.
func (c *Cache) MissingRange(key datatypes.Key, desired timekey.Window) (timekey.Window, Verdict) {
	if !key.Granularity.Cacheable() {
		lookupsTotal.WithLabelValues("uncacheable").Inc()
		return desired, Full
	}
	if !c.keyed || c.key != key || len(c.ids) == 0 {
		c.SetKey(key)
		c.Reset()
		lookupsTotal.WithLabelValues(Full.String()).Inc()
		return desired, Full
	}

	earliest, latest := c.ids[0], c.ids[len(c.ids)-1]

	if earliest <= desired.Start || timekey.ApproximatelyEqual(earliest, desired.Start) {
		if desired.End > latest {
			lookupsTotal.WithLabelValues(Tail.String()).Inc()
			return timekey.Window{Start: latest, End: desired.End}, Tail
		}
		lookupsTotal.WithLabelValues(Covered.String()).Inc()
		return timekey.Window{}, Covered
	}

	if desired.End == earliest || timekey.ApproximatelyEqual(desired.End, earliest) {
		lookupsTotal.WithLabelValues(Backfill.String()).Inc()
		return desired, Backfill
	}

	c.logger.Debug("range cache cannot bridge request",
		"key", key.String(), "desired", desired.String(),
		"earliest", earliest, "latest", latest)
	c.Reset()
	lookupsTotal.WithLabelValues(Full.String()).Inc()
	return desired, Full
}

// Insert adds a record for key if it extends the cached run. A record for
// a different key resets the cache first.
func (c *Cache) Insert(key datatypes.Key, id timekey.RecordID, rec datatypes.Record) InsertOutcome {
	outcome := c.insert(key, id, rec)
	insertsTotal.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (c *Cache) insert(key datatypes.Key, id timekey.RecordID, rec datatypes.Record) InsertOutcome {
	if !key.Granularity.Cacheable() {
		return Skipped
	}
	c.SetKey(key)

	if len(c.ids) == 0 {
		c.ids = append(c.ids, id)
		c.records[id] = rec
		return Seeded
	}
	switch {
	case id < c.ids[0]:
		c.ids = append([]timekey.RecordID{id}, c.ids...)
		c.records[id] = rec
		return Prepended
	case id > c.ids[len(c.ids)-1]:
		c.ids = append(c.ids, id)
		c.records[id] = rec
		return Appended
	default:
		return Dropped
	}
}

// Snapshot returns every cached record in ascending id order.
func (c *Cache) Snapshot() []Entry {
	out := make([]Entry, len(c.ids))
	for i, id := range c.ids {
		out[i] = Entry{ID: id, Record: c.records[id]}
	}
	return out
}

// Within returns the cached records inside w, ascending.
func (c *Cache) Within(w timekey.Window) []Entry {
	lo := sort.Search(len(c.ids), func(i int) bool { return c.ids[i] >= w.Start })
	hi := sort.Search(len(c.ids), func(i int) bool { return c.ids[i] > w.End })
	if lo >= hi {
		return nil
	}
	out := make([]Entry, 0, hi-lo)
	for _, id := range c.ids[lo:hi] {
		out = append(out, Entry{ID: id, Record: c.records[id]})
	}
	return out
}

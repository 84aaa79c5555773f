// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package samples stores and queries per-host attribute samples.
//
// # Data Model
//
// One InfluxDB point per (topic, series id, host, second):
//
//	measurement = topic
//	tags        = id, host
//	fields      = attribute name -> float value
//	time        = the record id's instant
//
// Queries group the points back into records keyed by record id at the
// requested granularity. Minute, hour and day records are sums over their
// window computed by Flux aggregateWindow.
package samples

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// MaxItems caps the number of record ids one query may span.
const MaxItems = 3600

// SampleBucket is the width of a sampled-dataset bucket at Second
// granularity. Only the first second present in each bucket is kept.
const SampleBucket = 6 * time.Second

var (
	// ErrTooManyItems is returned when a query spans more than MaxItems ids.
	ErrTooManyItems = errors.New("too many items")

	// ErrInvalidQuery wraps Query validation failures.
	ErrInvalidQuery = errors.New("invalid sample query")
)

// Sample is one record: every host's values at one record id.
type Sample struct {
	ID     timekey.RecordID
	Record datatypes.Record
}

// Point is one host's values at one instant, the unit of ingest.
type Point struct {
	Topic  string
	ID     string
	Host   string
	At     time.Time
	Values map[string]float64
}

// Query selects the samples of one series.
type Query struct {
	Topic string
	ID    string
	Start time.Time
	End   time.Time
	Unit  timekey.Granularity
	// Sampled keeps one second per SampleBucket. Ignored above Second.
	Sampled bool
	Order   stream.Order
}

// Step is the spacing between consecutive ids the query can return.
func (q Query) Step() time.Duration {
	if q.Unit.Fine() && q.Sampled {
		return SampleBucket
	}
	return q.Unit.Unit()
}

// Items is the number of ids the query spans.
func (q Query) Items() int {
	if q.End.Before(q.Start) {
		return 0
	}
	return int(q.End.Sub(q.Start)/q.Step()) + 1
}

// FromRequest converts a /stream request into a Query. End is clamped to
// now and Start to End. A live request queries up to now.
func FromRequest(req stream.Request, now time.Time) (Query, error) {
	if req.Start == "" {
		return Query{}, fmt.Errorf("%w: start is required", ErrInvalidQuery)
	}
	unit, err := req.Start.Granularity()
	if err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	sampled := req.Dataset != stream.DatasetAll
	if unit == timekey.Second && !sampled {
		unit = timekey.Subsecond
	}
	start := req.Start.MustInstant()

	end := now
	if !req.Live() && req.End != "" {
		endUnit, err := req.End.Granularity()
		if err != nil {
			return Query{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		if endUnit != unit && !(endUnit == timekey.Second && unit == timekey.Subsecond) {
			return Query{}, fmt.Errorf("%w: start %s and end %s differ in granularity", ErrInvalidQuery, req.Start, req.End)
		}
		end = req.End.MustInstant()
	}
	if end.After(now) {
		end = now
	}
	end = timekey.Truncate(end, unit)
	if start.After(end) {
		start = end
	}

	q := Query{
		Topic:   req.Topic,
		ID:      req.ID,
		Start:   start,
		End:     end,
		Unit:    unit,
		Sampled: sampled,
		Order:   req.Order,
	}
	if q.Order == "" {
		q.Order = stream.Ascending
	}
	return q, nil
}

// Store is the sample backend the HTTP server and ingest write through.
type Store interface {
	// Query returns the samples of q ordered by q.Order.
	Query(ctx context.Context, q Query) ([]Sample, error)
	// IDs lists the series ids seen for topic, sorted.
	IDs(ctx context.Context, topic string) ([]string, error)
	// Write stores points.
	Write(ctx context.Context, points ...Point) error
}

// row is one (time, host, attribute, value) result row.
type row struct {
	at    time.Time
	host  string
	field string
	value float64
}

// assemble groups rows into samples at q's granularity, applies sampling
// and ordering.
func assemble(q Query, rows []row) []Sample {
	byID := map[timekey.RecordID]datatypes.Record{}
	for _, r := range rows {
		id := timekey.ToRecordID(r.at, q.Unit)
		rec, ok := byID[id]
		if !ok {
			rec = datatypes.Record{}
			byID[id] = rec
		}
		attrs, ok := rec[r.host]
		if !ok {
			attrs = map[string]float64{}
			rec[r.host] = attrs
		}
		if q.Unit.Fine() {
			attrs[r.field] = r.value
		} else {
			attrs[r.field] += r.value
		}
	}

	ids := make([]timekey.RecordID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if q.Unit == timekey.Second && q.Sampled {
		ids = sampleIDs(ids)
	}

	out := make([]Sample, 0, len(ids))
	for _, id := range ids {
		out = append(out, Sample{ID: id, Record: byID[id]})
	}
	if q.Order == stream.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// sampleIDs keeps the first id of every SampleBucket. ids must be sorted.
func sampleIDs(ids []timekey.RecordID) []timekey.RecordID {
	out := ids[:0]
	last := int64(-1)
	for _, id := range ids {
		bucket := id.MustInstant().Unix() / int64(SampleBucket/time.Second)
		if bucket == last {
			continue
		}
		last = bucket
		out = append(out, id)
	}
	return out
}

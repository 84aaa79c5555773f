// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package samples

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// idLookback bounds the tag-value scan behind IDs.
const idLookback = "-30d"

// InfluxStore implements Store on InfluxDB 2.x.
type InfluxStore struct {
	QueryAPI api.QueryAPI
	WriteAPI api.WriteAPIBlocking
	Bucket   string
	logger   *logging.Logger
}

// NewInfluxStore wraps the query and write APIs of one bucket.
func NewInfluxStore(q api.QueryAPI, w api.WriteAPIBlocking, bucket string, logger *logging.Logger) *InfluxStore {
	if logger == nil {
		logger = logging.Discard()
	}
	return &InfluxStore{QueryAPI: q, WriteAPI: w, Bucket: bucket, logger: logger}
}

// Query implements Store.
func (s *InfluxStore) Query(ctx context.Context, q Query) ([]Sample, error) {
	if err := validation.ValidateIdent("topic", q.Topic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := validation.ValidateIdent("id", q.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if !q.Unit.Valid() {
		return nil, fmt.Errorf("%w: unit %q", ErrInvalidQuery, q.Unit)
	}
	if n := q.Items(); n > MaxItems {
		return nil, fmt.Errorf("%w: %d ids at %s, limit %d", ErrTooManyItems, n, q.Unit.Name(), MaxItems)
	}

	flux := s.buildFlux(q)
	result, err := s.QueryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}

	var rows []row
	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		host, _ := rec.ValueByKey("host").(string)
		rows = append(rows, row{at: rec.Time(), host: host, field: rec.Field(), value: v})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}

	out := assemble(q, rows)
	s.logger.Debug("samples queried",
		"topic", q.Topic, "id", q.ID, "unit", string(q.Unit),
		"rows", len(rows), "samples", len(out))
	return out, nil
}

// buildFlux renders q. Identifiers are validated before they reach here.
func (s *InfluxStore) buildFlux(q Query) string {
	var b strings.Builder
	aggregate := !q.Unit.Fine()
	if aggregate {
		_, offset := q.Start.Zone()
		b.WriteString("import \"timezone\"\n")
		fmt.Fprintf(&b, "option location = timezone.fixed(offset: %s)\n",
			(time.Duration(offset) * time.Second).String())
	}
	fmt.Fprintf(&b, "from(bucket: %q)\n", s.Bucket)
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n",
		q.Start.UTC().Format(time.RFC3339), q.End.Add(q.Unit.Unit()).UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q and r.id == %q)\n", q.Topic, q.ID)
	if aggregate {
		fmt.Fprintf(&b, "  |> aggregateWindow(every: %s, fn: sum, createEmpty: false, timeSrc: \"_start\")\n", fluxEvery(q.Unit))
	}
	b.WriteString("  |> keep(columns: [\"_time\", \"host\", \"_field\", \"_value\"])\n")
	b.WriteString("  |> group()\n")
	fmt.Fprintf(&b, "  |> sort(columns: [\"_time\"], desc: %t)\n", q.Order == stream.Descending)
	return b.String()
}

func fluxEvery(g timekey.Granularity) string {
	switch g {
	case timekey.Day:
		return "1d"
	case timekey.Hour:
		return "1h"
	case timekey.Minute:
		return "1m"
	default:
		return "1s"
	}
}

// IDs implements Store.
func (s *InfluxStore) IDs(ctx context.Context, topic string) ([]string, error) {
	if err := validation.ValidateIdent("topic", topic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	flux := fmt.Sprintf(`import "influxdata/influxdb/schema"
schema.tagValues(bucket: %q, tag: "id", predicate: (r) => r._measurement == %q, start: %s)
`, s.Bucket, topic, idLookback)

	result, err := s.QueryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	ids := []string{}
	for result.Next() {
		if id, ok := result.Record().Value().(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Write implements Store.
func (s *InfluxStore) Write(ctx context.Context, points ...Point) error {
	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		if err := p.Validate(); err != nil {
			return err
		}
		fields := make(map[string]interface{}, len(p.Values))
		for k, v := range p.Values {
			fields[k] = v
		}
		batch = append(batch, influxdb2.NewPoint(
			p.Topic,
			map[string]string{"id": p.ID, "host": p.Host},
			fields,
			timekey.Truncate(p.At, timekey.Second),
		))
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.WriteAPI.WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	return nil
}

// Validate checks the identifiers of p and that it carries values.
func (p Point) Validate() error {
	if err := validation.ValidateIdent("topic", p.Topic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := validation.ValidateIdent("id", p.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := validation.ValidateIdent("host", p.Host); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if len(p.Values) == 0 {
		return fmt.Errorf("%w: point %s/%s/%s has no values", ErrInvalidQuery, p.Topic, p.ID, p.Host)
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

var _ Store = (*InfluxStore)(nil)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AleutianAI/AleutianScope/services/scoped"

// Instruments are the backend's metrics.
type Instruments struct {
	StreamsOpened metric.Int64Counter
	ActiveStreams metric.Int64UpDownCounter
	RecordsSent   metric.Int64Counter
	QueryDuration metric.Float64Histogram
	SamplesStored metric.Int64Counter
	IngestErrors  metric.Int64Counter
}

var (
	instruments     *Instruments
	instrumentsOnce sync.Once
)

// Metrics returns the process-wide instruments, creating them on first use.
func Metrics() *Instruments {
	instrumentsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		// Instrument creation only fails on invalid names, which are constant.
		i := &Instruments{}
		i.StreamsOpened, _ = meter.Int64Counter("scoped_streams_opened_total",
			metric.WithDescription("Stream requests accepted, by transport and mode"))
		i.ActiveStreams, _ = meter.Int64UpDownCounter("scoped_streams_active",
			metric.WithDescription("Streams currently being served"))
		i.RecordsSent, _ = meter.Int64Counter("scoped_records_sent_total",
			metric.WithDescription("Records written to stream clients"))
		i.QueryDuration, _ = meter.Float64Histogram("scoped_query_duration_seconds",
			metric.WithDescription("Sample store query latency"),
			metric.WithUnit("s"))
		i.SamplesStored, _ = meter.Int64Counter("scoped_samples_stored_total",
			metric.WithDescription("Points written to the sample store, by source"))
		i.IngestErrors, _ = meter.Int64Counter("scoped_ingest_errors_total",
			metric.WithDescription("Ingest messages that could not be parsed or stored"))
		instruments = i
	})
	return instruments
}

// Tracer returns the backend tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StreamOpened records a stream start and returns the func that records its
// end.
func (i *Instruments) StreamOpened(ctx context.Context, transport string, live bool) func() {
	attrs := metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.Bool("live", live),
	)
	i.StreamsOpened.Add(ctx, 1, attrs)
	i.ActiveStreams.Add(ctx, 1, attrs)
	return func() { i.ActiveStreams.Add(context.WithoutCancel(ctx), -1, attrs) }
}

// ObserveQuery records how long a sample query took.
func (i *Instruments) ObserveQuery(ctx context.Context, unit string, start time.Time) {
	i.QueryDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("unit", unit)))
}

// Stored counts points written from source ("http" or "kafka").
func (i *Instruments) Stored(ctx context.Context, source string, n int) {
	i.SamplesStored.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

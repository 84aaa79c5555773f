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
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scoped/samples"
)

var (
	// ErrMalformed is returned for lines that do not have the
	// "host recordId seriesId k=v ..." shape.
	ErrMalformed = errors.New("malformed ingest message")

	// ErrNotSecond is returned for record ids coarser than a second. Coarse
	// records are derived from seconds at query time.
	ErrNotSecond = errors.New("only second record ids can be ingested")
)

// Message is one parsed ingest line.
type Message struct {
	Host     string
	ID       timekey.RecordID
	SeriesID string
	Values   map[string]float64
}

// ParseMessage parses "host recordId seriesId k=v k=v ...".
//
// Pairs whose value is not a number are skipped. A line left with no
// numeric pairs is malformed.
func ParseMessage(line []byte) (Message, error) {
	fields := strings.Fields(string(bytes.TrimSpace(line)))
	if len(fields) < 4 {
		return Message{}, fmt.Errorf("%w: want at least 4 fields, got %d", ErrMalformed, len(fields))
	}

	m := Message{
		Host:     fields[0],
		ID:       timekey.RecordID(fields[1]),
		SeriesID: fields[2],
		Values:   make(map[string]float64, len(fields)-3),
	}
	if err := validation.ValidateIdent("host", m.Host); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validation.ValidateIdent("id", m.SeriesID); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	g, err := m.ID.Granularity()
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if g != timekey.Second {
		return Message{}, fmt.Errorf("%w: %s", ErrNotSecond, m.ID)
	}

	for _, kv := range fields[3:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		m.Values[k] = f
	}
	if len(m.Values) == 0 {
		return Message{}, fmt.Errorf("%w: no numeric values", ErrMalformed)
	}
	return m, nil
}

// Point converts m into a sample point of topic.
func (m Message) Point(topic string) samples.Point {
	return samples.Point{
		Topic:  topic,
		ID:     m.SeriesID,
		Host:   m.Host,
		At:     m.ID.MustInstant(),
		Values: m.Values,
	}
}

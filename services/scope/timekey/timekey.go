// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timekey converts between wall-clock instants and record ids.
//
// A record id is the textual x-axis key and stream cursor shared by the
// scope client and the scoped backend. It is a local-time rendering of an
// instant truncated to a granularity:
//
//	day        2025-04-21
//	hour       2025-04-21T16
//	minute     2025-04-21T16:30
//	second     2025-04-21T16:30:05
//	subsecond  2025-04-21T16:30:05
//
// Ids of one granularity sort lexicographically in chronological order.
package timekey

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Granularity
// =============================================================================

// Granularity is the time unit of a chart. Its string form is the wire
// code used in profiles and query strings.
type Granularity string

const (
	Day       Granularity = "d"
	Hour      Granularity = "h"
	Minute    Granularity = "m"
	Second    Granularity = "s"
	Subsecond Granularity = "ss"
)

// All lists every granularity from coarsest to finest.
var All = []Granularity{Day, Hour, Minute, Second, Subsecond}

// ErrUnknownGranularity is returned by ParseGranularity.
var ErrUnknownGranularity = errors.New("unknown granularity")

// ParseGranularity accepts wire codes ("s") and names ("second").
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d", "day":
		return Day, nil
	case "h", "hour":
		return Hour, nil
	case "m", "minute":
		return Minute, nil
	case "s", "second":
		return Second, nil
	case "ss", "subsecond":
		return Subsecond, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// Valid reports whether g is one of the defined granularities.
func (g Granularity) Valid() bool {
	switch g {
	case Day, Hour, Minute, Second, Subsecond:
		return true
	}
	return false
}

// Name returns the long name ("second").
func (g Granularity) Name() string {
	switch g {
	case Day:
		return "day"
	case Hour:
		return "hour"
	case Minute:
		return "minute"
	case Second:
		return "second"
	case Subsecond:
		return "subsecond"
	default:
		return string(g)
	}
}

// Cacheable reports whether fetched data of this granularity may be kept in
// the client range cache. Coarse units are always re-fetched.
func (g Granularity) Cacheable() bool {
	return g == Second || g == Subsecond
}

// Fine is an alias for Cacheable used where the question is about redraw
// throttling or auto-refresh rather than caching.
func (g Granularity) Fine() bool {
	return g.Cacheable()
}

// LiveCapable reports whether auto-refresh may run at this granularity.
func (g Granularity) LiveCapable() bool {
	return g == Minute || g == Second || g == Subsecond
}

// Dataset returns the backend dataset to request: every sample for
// subsecond charts, the sampled set otherwise.
func (g Granularity) Dataset() string {
	if g == Subsecond {
		return "all"
	}
	return "samp"
}

// Unit returns the duration of one unit.
func (g Granularity) Unit() time.Duration {
	switch g {
	case Day:
		return 24 * time.Hour
	case Hour:
		return time.Hour
	case Minute:
		return time.Minute
	default:
		return time.Second
	}
}

// DefaultLookback returns the width of the default window in units.
func (g Granularity) DefaultLookback() int {
	switch g {
	case Second, Subsecond:
		return 1800
	case Minute:
		return 300
	default:
		return 30
	}
}

// Lookback returns DefaultLookback as a duration. It is also the largest
// span a user may request at this granularity.
func (g Granularity) Lookback() time.Duration {
	return time.Duration(g.DefaultLookback()) * g.Unit()
}

func (g Granularity) layout() string {
	switch g {
	case Day:
		return "2006-01-02"
	case Hour:
		return "2006-01-02T15"
	case Minute:
		return "2006-01-02T15:04"
	default:
		return "2006-01-02T15:04:05"
	}
}

// =============================================================================
// RecordID
// =============================================================================

// RecordID is a record's timestamp-derived key.
type RecordID string

// Forever is the end cursor of a live-tail stream.
const Forever RecordID = "forever"

// ErrBadRecordID is returned when an id cannot be parsed.
var ErrBadRecordID = errors.New("malformed record id")

// ToRecordID truncates t to g in local time and renders it.
func ToRecordID(t time.Time, g Granularity) RecordID {
	return RecordID(Truncate(t, g).Format(g.layout()))
}

// Truncate drops every component of t finer than g, in local time.
func Truncate(t time.Time, g Granularity) time.Time {
	t = t.In(time.Local)
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	switch g {
	case Day:
		h, mi, s = 0, 0, 0
	case Hour:
		mi, s = 0, 0
	case Minute:
		s = 0
	}
	return time.Date(y, mo, d, h, mi, s, 0, time.Local)
}

// Instant parses id back into a local instant. Missing trailing components
// are zero.
func (id RecordID) Instant() (time.Time, error) {
	var layout string
	switch len(id) {
	case 10:
		layout = Day.layout()
	case 13:
		layout = Hour.layout()
	case 16:
		layout = Minute.layout()
	case 19:
		layout = Second.layout()
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadRecordID, string(id))
	}
	t, err := time.ParseInLocation(layout, string(id), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrBadRecordID, string(id), err)
	}
	return t, nil
}

// Granularity infers the unit of a well-formed id from its length.
// Second-length ids report Second; Subsecond is a dataset choice, not an
// id shape.
func (id RecordID) Granularity() (Granularity, error) {
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrBadRecordID, string(id))
	}
	switch len(id) {
	case 10:
		return Day, nil
	case 13:
		return Hour, nil
	case 16:
		return Minute, nil
	default:
		return Second, nil
	}
}

// MustInstant is Instant for ids already known to be well formed.
func (id RecordID) MustInstant() time.Time {
	t, err := id.Instant()
	if err != nil {
		panic(err)
	}
	return t
}

// Valid reports whether id parses.
func (id RecordID) Valid() bool {
	_, err := id.Instant()
	return err == nil
}

// Before compares ids lexicographically, which for ids of one granularity
// is chronological order.
func (id RecordID) Before(other RecordID) bool { return id < other }

// After is the converse of Before.
func (id RecordID) After(other RecordID) bool { return id > other }

// approxTolerance is the gap under which two ids count as the same boundary.
const approxTolerance = 7000 * time.Millisecond

// ApproximatelyEqual reports whether the instants of a and b are less than
// seven seconds apart. Unparseable ids are never equal.
func ApproximatelyEqual(a, b RecordID) bool {
	ta, err := a.Instant()
	if err != nil {
		return false
	}
	tb, err := b.Instant()
	if err != nil {
		return false
	}
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d < approxTolerance
}

// Ago returns the instant n units of g before from. Negative n moves forward.
func Ago(n int, g Granularity, from time.Time) time.Time {
	return from.Add(-time.Duration(n) * g.Unit())
}

// Shift returns the id n units of g before id (after, for negative n).
func Shift(id RecordID, n int, g Granularity) (RecordID, error) {
	t, err := id.Instant()
	if err != nil {
		return "", err
	}
	return ToRecordID(Ago(n, g, t), g), nil
}

// Window is a closed id range. Start <= End.
type Window struct {
	Start RecordID `json:"start"`
	End   RecordID `json:"end"`
}

// Empty reports whether the window covers a single id.
func (w Window) Empty() bool { return w.Start == w.End }

// Contains reports whether id lies within the window.
func (w Window) Contains(id RecordID) bool {
	return id >= w.Start && id <= w.End
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start, w.End)
}

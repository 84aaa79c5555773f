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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidTime is returned for user time input that cannot be normalized.
	ErrInvalidTime = errors.New("invalid date time")

	// ErrEndBeforeStart is returned when a requested range is inverted.
	ErrEndBeforeStart = errors.New("end before start")

	// ErrSpanTooLarge is returned when a requested range is wider than the
	// granularity's lookback.
	ErrSpanTooLarge = errors.New("requested span too large")
)

var (
	fullDatePattern  = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	monthDayPattern  = regexp.MustCompile(`^(\d{2})-(\d{2})`)
	dayOnlyPattern   = regexp.MustCompile(`^(\d{2})`)
	hmsPattern       = regexp.MustCompile(`\d{2}T(\d{2}):(\d{2}):(\d{2})$`)
	hmPattern        = regexp.MustCompile(`\d{2}T(\d{2}):(\d{2})$`)
	hourOnlyPattern  = regexp.MustCompile(`\d{2}T(\d{2})$`)
	minYear, maxYear = 2015, 2115
)

// NormalizeUserTime expands partial time input into a full second-precision
// id "YYYY-MM-DDTHH:MM:SS".
//
// Accepted forms are DD, MM-DD or YYYY-MM-DD, each optionally followed by
// THH, THH:MM or THH:MM:SS. Missing year, month and hour come from now;
// missing minutes and seconds are zero.
func NormalizeUserTime(input string, now time.Time) (RecordID, error) {
	in := strings.TrimSpace(input)
	if in == "" {
		return "", nil
	}
	now = now.In(time.Local)

	year, month, day, hour := now.Year(), int(now.Month()), -1, now.Hour()
	minute, second := 0, 0

	if m := fullDatePattern.FindStringSubmatch(in); m != nil {
		year, month, day = atoi(m[1]), atoi(m[2]), atoi(m[3])
	} else if m := monthDayPattern.FindStringSubmatch(in); m != nil {
		month, day = atoi(m[1]), atoi(m[2])
	} else if m := dayOnlyPattern.FindStringSubmatch(in); m != nil {
		day = atoi(m[1])
	}
	if day < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, input)
	}

	if m := hmsPattern.FindStringSubmatch(in); m != nil {
		hour, minute, second = atoi(m[1]), atoi(m[2]), atoi(m[3])
	} else if m := hmPattern.FindStringSubmatch(in); m != nil {
		hour, minute = atoi(m[1]), atoi(m[2])
	} else if m := hourOnlyPattern.FindStringSubmatch(in); m != nil {
		hour = atoi(m[1])
	}

	if year < minYear || year > maxYear ||
		month < 1 || month > 12 ||
		day < 1 || day > 31 ||
		hour < 0 || hour > 23 ||
		minute < 0 || minute > 59 ||
		second < 0 || second > 59 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, input)
	}

	return RecordID(fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", year, month, day, hour, minute, second)), nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ResolveWindow turns user supplied bounds into a window at granularity g.
//
// With one bound given, the other is placed one lookback away. With both
// given, the range must not be inverted or wider than the lookback. With
// neither, the window ends now and starts one lookback earlier, except that
// the current start is kept while it still precedes current.End.
func ResolveWindow(start, end RecordID, g Granularity, now time.Time, current Window) (Window, error) {
	lookback := g.Lookback()

	if start == "" && end == "" {
		s := ToRecordID(now.Add(-lookback), g)
		w := Window{Start: current.Start, End: ToRecordID(now, g)}
		if current.Start == "" || s > current.End {
			w.Start = s
		}
		return w, nil
	}

	var startT, endT time.Time
	var err error
	if end != "" {
		if endT, err = end.Instant(); err != nil {
			return Window{}, err
		}
	}
	if start != "" {
		if startT, err = start.Instant(); err != nil {
			return Window{}, err
		}
	} else {
		startT = endT.Add(-lookback)
	}
	if end == "" {
		endT = startT.Add(lookback)
	}

	diff := endT.Sub(startT)
	if diff < 0 {
		return Window{}, fmt.Errorf("%w: start %s end %s", ErrEndBeforeStart, start, end)
	}
	if diff > lookback {
		return Window{}, fmt.Errorf("%w: %s between %s and %s, unit is %s",
			ErrSpanTooLarge, diff, start, end, g.Name())
	}

	return Window{Start: ToRecordID(startT, g), End: ToRecordID(endT, g)}, nil
}

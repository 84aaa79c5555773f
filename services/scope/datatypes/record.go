// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the types shared by the scope client engine and
// the scoped backend: records, series selectors, profiles and topic
// metadata.
package datatypes

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ClusterHost is the synthetic host whose attributes are the sum over all
// other hosts of a record.
const ClusterHost = "cluster"

// Record maps host -> attribute -> value for one record id.
type Record map[string]map[string]float64

// ParseRecord decodes a JSON payload keyed by host name.
//
// Numeric strings are accepted; other non-numeric attribute values are
// skipped. A payload that is not a JSON object of objects is an error.
func ParseRecord(data []byte) (Record, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	rec := make(Record, len(raw))
	for host, attrs := range raw {
		values := make(map[string]float64, len(attrs))
		for name, msg := range attrs {
			if v, ok := decodeNumber(msg); ok {
				values[name] = v
			}
		}
		rec[host] = values
	}
	return rec, nil
}

func decodeNumber(msg json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Cluster sums every attribute across all hosts except ClusterHost.
func (r Record) Cluster() map[string]float64 {
	sum := make(map[string]float64)
	for host, attrs := range r {
		if host == ClusterHost {
			continue
		}
		for name, v := range attrs {
			sum[name] += v
		}
	}
	return sum
}

// WithCluster returns a shallow copy of r with the ClusterHost entry
// recomputed. r itself is not modified.
func (r Record) WithCluster() Record {
	out := make(Record, len(r)+1)
	for host, attrs := range r {
		if host != ClusterHost {
			out[host] = attrs
		}
	}
	out[ClusterHost] = r.Cluster()
	return out
}

// Value looks up host/attr, reporting whether it was present.
func (r Record) Value(host, attr string) (float64, bool) {
	attrs, ok := r[host]
	if !ok {
		return 0, false
	}
	v, ok := attrs[attr]
	return v, ok
}

// Hosts returns the sorted real host names.
func (r Record) Hosts() []string {
	hosts := make([]string, 0, len(r))
	for host := range r {
		if host != ClusterHost {
			hosts = append(hosts, host)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// Attrs returns the sorted union of attribute names.
func (r Record) Attrs() []string {
	seen := make(map[string]struct{})
	for _, attrs := range r {
		for name := range attrs {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

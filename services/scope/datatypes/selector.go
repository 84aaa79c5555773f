// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianScope/services/scope/derived"
)

// =============================================================================
// Attribute references
// =============================================================================

// AttrRef names a chart attribute. In JSON a plain attribute is a bare
// string and a derived one is an object {"name": ...}.
type AttrRef struct {
	Name    string
	Derived bool
}

// Plain returns a reference to an observed attribute.
func Plain(name string) AttrRef { return AttrRef{Name: name} }

// DerivedRef returns a reference to a user-defined attribute.
func DerivedRef(name string) AttrRef { return AttrRef{Name: name, Derived: true} }

// ParseAttrRefs parses command-line attribute lists. A leading "@" marks
// a derived attribute: "user,sys,@busy".
func ParseAttrRefs(list []string) []AttrRef {
	out := make([]AttrRef, 0, len(list))
	for _, item := range list {
		for _, name := range strings.Split(item, ",") {
			name = strings.TrimSpace(name)
			switch {
			case name == "" || name == "@":
			case strings.HasPrefix(name, "@"):
				out = append(out, DerivedRef(name[1:]))
			default:
				out = append(out, Plain(name))
			}
		}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (a AttrRef) MarshalJSON() ([]byte, error) {
	if a.Derived {
		return json.Marshal(struct {
			Name string `json:"name"`
		}{a.Name})
	}
	return json.Marshal(a.Name)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AttrRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Plain(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("attribute must be a string or {name}: %w", err)
	}
	*a = DerivedRef(obj.Name)
	return nil
}

// UnmarshalYAML accepts the same two shapes as UnmarshalJSON.
func (a *AttrRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*a = Plain(value.Value)
		return nil
	}
	var obj struct {
		Name string `yaml:"name"`
	}
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("attribute must be a string or {name}: %w", err)
	}
	*a = DerivedRef(obj.Name)
	return nil
}

// =============================================================================
// Series selector
// =============================================================================

// EntryKind tags a selector entry.
type EntryKind int

const (
	// Direct reads payload[host][attr].
	Direct EntryKind = iota
	// Derived evaluates a compiled function over payload[host].
	Derived
)

// SelectorEntry is one displayed series.
type SelectorEntry struct {
	Kind EntryKind
	Host string
	Attr string
	Func derived.Func
}

// Resolve computes the entry's scalar for rec. Absent hosts, absent
// attributes and failed evaluations all yield 0.
func (e SelectorEntry) Resolve(rec Record) float64 {
	switch e.Kind {
	case Derived:
		if e.Func == nil {
			return 0
		}
		v, err := e.Func(rec[e.Host])
		if err != nil {
			return 0
		}
		return v
	default:
		v, _ := rec.Value(e.Host, e.Attr)
		return v
	}
}

// Selector is the ordered list of displayed series.
type Selector struct {
	Entries []SelectorEntry
	names   []string
}

// MissingFuncError reports a derived reference with no compiled function.
type MissingFuncError struct{ Name string }

func (e *MissingFuncError) Error() string {
	return fmt.Sprintf("derived attribute %q is not defined", e.Name)
}

// BuildSelector forms the host-major cross product of hosts and attrs.
//
// Series are named "host/attr", or just "attr" when there is a single host
// or the host is ClusterHost. Derived references must have an entry in
// funcs.
func BuildSelector(hosts []string, attrs []AttrRef, funcs map[string]derived.Func) (Selector, error) {
	sel := Selector{}
	for _, host := range hosts {
		for _, a := range attrs {
			entry := SelectorEntry{Kind: Direct, Host: host, Attr: a.Name}
			if a.Derived {
				fn, ok := funcs[a.Name]
				if !ok {
					return Selector{}, &MissingFuncError{Name: a.Name}
				}
				entry.Kind = Derived
				entry.Func = fn
			}
			name := host + "/" + a.Name
			if len(hosts) == 1 || host == ClusterHost {
				name = a.Name
			}
			sel.Entries = append(sel.Entries, entry)
			sel.names = append(sel.names, name)
		}
	}
	return sel, nil
}

// Len returns the number of series.
func (s Selector) Len() int { return len(s.Entries) }

// SeriesNames returns display names in selector order.
func (s Selector) SeriesNames() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Values resolves every entry against rec, in order. rec should already
// carry its cluster host.
func (s Selector) Values(rec Record) []float64 {
	vals := make([]float64, len(s.Entries))
	for i, e := range s.Entries {
		vals[i] = e.Resolve(rec)
	}
	return vals
}

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
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/derived"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// =============================================================================
// Profile
// =============================================================================

// Profile is a user's persisted viewer state, exchanged with GET/PUT
// /profile.
type Profile struct {
	Topic     string                 `json:"topic"`
	ID        string                 `json:"id"`
	Attr      []AttrRef              `json:"attr"`
	Host      []string               `json:"host"`
	Unit      timekey.Granularity    `json:"unit"`
	AutoFresh bool                   `json:"autofresh"`
	Attrs     map[string]*TopicAttrs `json:"attrs"`
}

// TopicAttrs is what has been observed and defined for one topic.
type TopicAttrs struct {
	Host map[string]bool    `json:"host"`
	Attr map[string]bool    `json:"attr"`
	Func map[string]FuncDef `json:"func"`
}

// FuncDef is the source of a derived attribute.
type FuncDef struct {
	Def string `json:"def"`
}

// NewTopicAttrs returns an empty, non-nil TopicAttrs.
func NewTopicAttrs() *TopicAttrs {
	return &TopicAttrs{
		Host: map[string]bool{},
		Attr: map[string]bool{},
		Func: map[string]FuncDef{},
	}
}

// ApplyDefaults fills fields a freshly loaded profile may lack.
func (p *Profile) ApplyDefaults() {
	if p.Unit == "" {
		p.Unit = timekey.Second
	}
	if p.Attrs == nil {
		p.Attrs = map[string]*TopicAttrs{}
	}
	for topic, ta := range p.Attrs {
		if ta == nil {
			p.Attrs[topic] = NewTopicAttrs()
			continue
		}
		if ta.Host == nil {
			ta.Host = map[string]bool{}
		}
		if ta.Attr == nil {
			ta.Attr = map[string]bool{}
		}
		if ta.Func == nil {
			ta.Func = map[string]FuncDef{}
		}
	}
}

// Validate checks identifiers that will be sent back to the backend.
func (p *Profile) Validate() error {
	var errs []error
	if p.Topic != "" {
		errs = append(errs, validation.ValidateIdent("topic", p.Topic))
	}
	if p.ID != "" {
		errs = append(errs, validation.ValidateIdent("id", p.ID))
	}
	if p.Unit != "" && !p.Unit.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", timekey.ErrUnknownGranularity, p.Unit))
	}
	if p.AutoFresh && p.Unit != "" && !p.Unit.LiveCapable() {
		errs = append(errs, fmt.Errorf("auto refresh is not available at %s granularity", p.Unit.Name()))
	}
	return errors.Join(errs...)
}

// TopicAttrs returns the entry for topic, creating it if needed.
func (p *Profile) TopicAttrs(topic string) *TopicAttrs {
	if p.Attrs == nil {
		p.Attrs = map[string]*TopicAttrs{}
	}
	ta, ok := p.Attrs[topic]
	if !ok || ta == nil {
		ta = NewTopicAttrs()
		p.Attrs[topic] = ta
	}
	return ta
}

// Clone deep-copies the profile so it can be serialised off the event loop.
func (p *Profile) Clone() Profile {
	out := *p
	out.Attr = append([]AttrRef(nil), p.Attr...)
	out.Host = append([]string(nil), p.Host...)
	out.Attrs = make(map[string]*TopicAttrs, len(p.Attrs))
	for topic, ta := range p.Attrs {
		if ta == nil {
			continue
		}
		c := NewTopicAttrs()
		for k, v := range ta.Host {
			c.Host[k] = v
		}
		for k, v := range ta.Attr {
			c.Attr[k] = v
		}
		for k, v := range ta.Func {
			c.Func[k] = v
		}
		out.Attrs[topic] = c
	}
	return out
}

// CompileFuncs compiles the derived attributes of topic. Definitions that
// fail are reported but do not prevent the others from loading.
func (p *Profile) CompileFuncs(topic string) (map[string]derived.Func, error) {
	ta, ok := p.Attrs[topic]
	if !ok || ta == nil {
		return map[string]derived.Func{}, nil
	}
	names := make([]string, 0, len(ta.Func))
	for name := range ta.Func {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]derived.Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, derived.Definition{Name: name, Source: ta.Func[name].Def})
	}
	return derived.CompileAll(defs)
}

// Merge records the hosts and attributes of rec. It reports whether
// anything new was seen.
func (t *TopicAttrs) Merge(rec Record) bool {
	changed := false
	for host, attrs := range rec {
		if host == ClusterHost {
			continue
		}
		if !t.Host[host] {
			t.Host[host] = true
			changed = true
		}
		for name := range attrs {
			if !t.Attr[name] {
				t.Attr[name] = true
				changed = true
			}
		}
	}
	return changed
}

// SortedHosts returns the observed host names in order.
func (t *TopicAttrs) SortedHosts() []string { return sortedKeys(t.Host) }

// SortedAttrs returns the observed attribute names in order.
func (t *TopicAttrs) SortedAttrs() []string { return sortedKeys(t.Attr) }

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Topic catalog
// =============================================================================

// TopicMeta is the default selection for a topic, served by GET /topics.
type TopicMeta struct {
	ID   string    `json:"id" yaml:"id"`
	Host []string  `json:"host" yaml:"host"`
	Attr []AttrRef `json:"attr" yaml:"attr"`
}

// Topics maps topic name to its metadata.
type Topics map[string]TopicMeta

// Names returns the sorted topic names.
func (t Topics) Names() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Engine context
// =============================================================================

// Key identifies the data a chart shows. The range cache is valid only for
// one Key at a time.
type Key struct {
	Topic       string
	SeriesID    string
	Granularity timekey.Granularity
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Topic, k.SeriesID, k.Granularity)
}

// Context is the explicit viewer state handed to the engine components.
type Context struct {
	Key      Key
	Selector Selector
	Window   timekey.Window
}

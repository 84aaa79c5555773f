// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

// Order is the id order in which the server emits records.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// Dataset values accepted by the backend.
const (
	DatasetAll     = "all"
	DatasetSampled = "samp"
)

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid stream request")

// Request describes one /stream query.
type Request struct {
	Start   timekey.RecordID
	End     timekey.RecordID
	Topic   string
	ID      string
	Dataset string
	Order   Order
}

// Live reports whether the request tails forever.
func (r Request) Live() bool {
	return r.End == timekey.Forever
}

// Validate checks the request before it is sent.
func (r Request) Validate() error {
	if err := validation.ValidateIdent("topic", r.Topic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validation.ValidateIdent("id", r.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Start != "" && !r.Start.Valid() {
		return fmt.Errorf("%w: bad start %q", ErrInvalidRequest, r.Start)
	}
	if r.End != "" && !r.Live() && !r.End.Valid() {
		return fmt.Errorf("%w: bad end %q", ErrInvalidRequest, r.End)
	}
	if !r.Live() && r.Start != "" && r.End != "" && r.End < r.Start {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidRequest, r.End, r.Start)
	}
	switch r.Dataset {
	case "", DatasetAll, DatasetSampled:
	default:
		return fmt.Errorf("%w: unknown dataset %q", ErrInvalidRequest, r.Dataset)
	}
	switch r.Order {
	case "", Ascending, Descending:
	default:
		return fmt.Errorf("%w: unknown order %q", ErrInvalidRequest, r.Order)
	}
	return nil
}

// Query renders the request as /stream query parameters.
func (r Request) Query() url.Values {
	q := url.Values{}
	q.Set("start", string(r.Start))
	q.Set("end", string(r.End))
	q.Set("topic", r.Topic)
	q.Set("id", r.ID)
	if r.Dataset != "" {
		q.Set("dataset", r.Dataset)
	}
	if r.Order != "" {
		q.Set("order", string(r.Order))
	}
	return q
}

// ParseRequest is the inverse of Query, used by the backend.
func ParseRequest(q url.Values) (Request, error) {
	r := Request{
		Start:   timekey.RecordID(q.Get("start")),
		End:     timekey.RecordID(q.Get("end")),
		Topic:   q.Get("topic"),
		ID:      q.Get("id"),
		Dataset: q.Get("dataset"),
		Order:   Order(q.Get("order")),
	}
	if r.Dataset == "" {
		r.Dataset = DatasetSampled
	}
	if r.Order == "" {
		r.Order = Ascending
	}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

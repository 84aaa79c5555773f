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
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

func TestRequest_QueryAndParse(t *testing.T) {
	req := Request{
		Start:   "2025-04-21T16:00:00",
		End:     "2025-04-21T16:30:00",
		Topic:   "cpu",
		ID:      "all",
		Dataset: DatasetAll,
		Order:   Descending,
	}
	q := req.Query()
	assert.Equal(t, "desc", q.Get("order"))
	assert.Equal(t, "all", q.Get("dataset"))

	back, err := ParseRequest(q)
	require.NoError(t, err)
	assert.Equal(t, req, back)
}

func TestParseRequest_Defaults(t *testing.T) {
	q := url.Values{"start": {"2025-04-21T16:00:00"}, "end": {"forever"}, "topic": {"cpu"}, "id": {"all"}}
	req, err := ParseRequest(q)
	require.NoError(t, err)
	assert.True(t, req.Live())
	assert.Equal(t, DatasetSampled, req.Dataset)
	assert.Equal(t, Ascending, req.Order)
}

func TestRequest_Validate(t *testing.T) {
	base := Request{Start: "2025-04-21T16:00:00", End: "2025-04-21T16:30:00", Topic: "cpu", ID: "all"}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"bad topic", func(r *Request) { r.Topic = `cpu")` }},
		{"missing id", func(r *Request) { r.ID = "" }},
		{"bad start", func(r *Request) { r.Start = "yesterday" }},
		{"bad end", func(r *Request) { r.End = "later" }},
		{"inverted", func(r *Request) { r.Start, r.End = r.End, r.Start }},
		{"dataset", func(r *Request) { r.Dataset = "some" }},
		{"order", func(r *Request) { r.Order = "random" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidRequest)
		})
	}

	live := base
	live.End = timekey.Forever
	assert.NoError(t, live.Validate())

	open := base
	open.Start = ""
	assert.NoError(t, open.Validate())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdent(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"simple", "cpu", false},
		{"dotted", "node-01.rack_2", false},
		{"max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"leading dot", ".hidden", true},
		{"flux quote injection", `cpu") |> drop(`, true},
		{"space", "cpu load", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdent("topic", tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIdents(t *testing.T) {
	assert.NoError(t, ValidateIdents("host", []string{"h1", "h2"}))

	err := ValidateIdents("host", []string{"h1", "bad host", "x'"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad host")
	assert.Contains(t, err.Error(), "x'")
}

func TestSanitizeIdent(t *testing.T) {
	got, err := SanitizeIdent("id", "  job42 ")
	require.NoError(t, err)
	assert.Equal(t, "job42", got)

	_, err = SanitizeIdent("id", "   ")
	assert.Error(t, err)
}

func TestValidateAttrName(t *testing.T) {
	assert.NoError(t, ValidateAttrName("load_avg"))
	assert.NoError(t, ValidateAttrName("cpuPct2"))
	assert.Error(t, ValidateAttrName("x"), "needs at least two characters")
	assert.Error(t, ValidateAttrName("Load"))
	assert.Error(t, ValidateAttrName("1load"))
	assert.Error(t, ValidateAttrName("load-avg"))
}

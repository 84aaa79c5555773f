// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers that end up
// in Flux queries, storage keys, or derived-attribute environments.
//
// Topics, series ids and host names are interpolated into Flux filters by
// the backend, so anything outside the allowed alphabet is rejected before a
// query is built.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identPattern matches topic, series-id and host names.
// Allows letters, digits, dots, underscores and hyphens; max 64 characters.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// attrNamePattern matches names a user may give a derived attribute.
var attrNamePattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]+$`)

// ValidateIdent validates a topic, series id or host name.
//
// kind is used only in the error message ("topic", "id", "host").
//
// Example:
//
//	if err := validation.ValidateIdent("topic", topic); err != nil {
//	    return nil, fmt.Errorf("invalid request: %w", err)
//	}
//	// Safe to use in a Flux filter
func ValidateIdent(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if !identPattern.MatchString(value) {
		return fmt.Errorf("invalid %s format: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", kind, value)
	}
	return nil
}

// ValidateIdents validates several names of the same kind and reports all
// offenders at once.
func ValidateIdents(kind string, values []string) error {
	var invalid []string
	for _, v := range values {
		if err := ValidateIdent(kind, v); err != nil {
			invalid = append(invalid, v)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid %s values: %v", kind, invalid)
	}
	return nil
}

// SanitizeIdent trims whitespace and validates.
func SanitizeIdent(kind, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if err := ValidateIdent(kind, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateAttrName checks a derived-attribute name: a lowercase letter
// followed by at least one letter, digit or underscore.
func ValidateAttrName(name string) error {
	if !attrNamePattern.MatchString(name) {
		return fmt.Errorf("invalid attribute name %q (must match %s)", name, attrNamePattern.String())
	}
	return nil
}

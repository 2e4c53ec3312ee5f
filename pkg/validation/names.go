// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks identifiers that end up in graph descriptions,
// storage keys and configuration.
//
// Node names appear inside input references ("producer:port"), so a name
// containing a colon or whitespace would make a description ambiguous.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is wrapped by every validation failure.
var ErrInvalidName = errors.New("invalid name")

// namePattern matches graph, subgraph and node names.
// Allows: letters, digits, underscore, dot, hyphen, slash
// Must start with a letter, digit or underscore. Max length: 128.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_./\-]{0,127}$`)

// passNamePattern matches pass names: lowercase words joined by hyphens.
var passNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// ValidateName validates a graph, subgraph or node name.
//
// Valid names:
//   - 1-128 characters
//   - Letters, digits and _ . / -
//   - Not starting with . / or -
//
// Example:
//
//	if err := validation.ValidateName(n.Name); err != nil {
//	    return fmt.Errorf("node %d: %w", i, err)
//	}
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (must be 1-128 letters, digits, or _ . / - and not start with . / -)",
			ErrInvalidName, name)
	}
	return nil
}

// ValidateNames validates several names and reports every invalid one.
func ValidateNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateName(n); err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", n))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidName, strings.Join(invalid, ", "))
	}
	return nil
}

// ValidatePassName validates a pass registry name such as
// "dead-end-elimination".
func ValidatePassName(name string) error {
	if !passNamePattern.MatchString(name) {
		return fmt.Errorf("%w: pass %q (must be lowercase words joined by hyphens)", ErrInvalidName, name)
	}
	return nil
}

// SanitizePassName trims and lowercases name, then validates it.
//
//	name, err := validation.SanitizePassName(" Identity-Elimination ")
//	// name == "identity-elimination"
func SanitizePassName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidatePassName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Default limits.
const (
	// DefaultMaxDepth is the deepest subgraph nesting a Run will enter. The
	// top-level graph is depth 1.
	DefaultMaxDepth = 20

	// DefaultLastNodeThreshold is the fan-in above which a node is parked
	// until all of its producers have been seen.
	DefaultLastNodeThreshold = 1000

	// DefaultSafetyMultiplier bounds the nodes processed per graph to this
	// multiple of the graph's direct node count.
	DefaultSafetyMultiplier = 10
)

var configValidate = validator.New()

// Config controls driver limits.
type Config struct {
	// MaxDepth is the maximum subgraph nesting depth. Zero means default.
	MaxDepth int `yaml:"max_depth" json:"max_depth" validate:"gte=0"`

	// LastNodeThreshold is the fan-in above which nodes are deferred. Zero
	// means default.
	LastNodeThreshold int `yaml:"last_node_threshold" json:"last_node_threshold" validate:"gte=0"`

	// SafetyMultiplier scales the processed-node bound. Zero means default.
	SafetyMultiplier int `yaml:"safety_multiplier" json:"safety_multiplier" validate:"gte=0,lte=1000"`

	// StrictSafetyBound turns a bound overrun into ErrSafetyBoundExceeded
	// instead of a logged warning.
	StrictSafetyBound bool `yaml:"strict_safety_bound" json:"strict_safety_bound"`
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxDepth:          DefaultMaxDepth,
		LastNodeThreshold: DefaultLastNodeThreshold,
		SafetyMultiplier:  DefaultSafetyMultiplier,
	}
}

// Validate checks the config for negative or out-of-range values.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// withDefaults fills zero fields with the defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDepth == 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.LastNodeThreshold == 0 {
		c.LastNodeThreshold = d.LastNodeThreshold
	}
	if c.SafetyMultiplier == 0 {
		c.SafetyMultiplier = d.SafetyMultiplier
	}
	return c
}

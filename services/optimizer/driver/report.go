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
	"encoding/json"
	"time"
)

// Report summarizes one Run.
type Report struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Graph is the name of the top-level graph.
	Graph string `json:"graph"`

	// Passes lists the pass names in execution order.
	Passes []string `json:"passes"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	// GraphsOptimized counts invocations, including nested subgraphs.
	GraphsOptimized int `json:"graphs_optimized"`

	// NodesProcessed counts frontier pops that ran the pass list, summed
	// over every graph.
	NodesProcessed int `json:"nodes_processed"`

	// NodesDeleted counts nodes reported deleted by passes.
	NodesDeleted int `json:"nodes_deleted"`

	// MaxDepth is the deepest nesting level entered. The top-level graph
	// is depth 1.
	MaxDepth int `json:"max_depth"`

	// BoundOverruns counts graphs stopped by the safety bound.
	BoundOverruns int `json:"bound_overruns"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BoundReached reports whether any graph stopped at the safety bound.
func (r *Report) BoundReached() bool {
	return r.BoundOverruns > 0
}

// MarshalJSON keeps Duration readable alongside the raw nanoseconds.
func (r Report) MarshalJSON() ([]byte, error) {
	type alias Report
	return json.Marshal(struct {
		alias
		DurationText string `json:"duration"`
	}{alias: alias(r), DurationText: r.Duration.String()})
}

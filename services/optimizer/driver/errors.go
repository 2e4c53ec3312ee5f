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
	"errors"
	"fmt"

	"github.com/AleutianAI/graphopt/services/optimizer/graph"
)

// Sentinel errors for driver operations.
var (
	// ErrNilGraph is returned when a driver is constructed without a graph.
	ErrNilGraph = errors.New("graph must not be nil")

	// ErrNilContext is returned when Run is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNoPasses is returned when Run is called with an empty pass list.
	ErrNoPasses = errors.New("no passes to run")

	// ErrNilPass is returned when a named pass has no implementation.
	ErrNilPass = errors.New("pass must not be nil")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid driver config")

	// ErrDepthExceeded is returned when subgraph nesting goes deeper than
	// Config.MaxDepth.
	ErrDepthExceeded = errors.New("subgraph nesting depth exceeded")

	// ErrSubgraphNotFound is returned when a node names a subgraph that is
	// not registered on the root graph.
	ErrSubgraphNotFound = errors.New("subgraph not found")

	// ErrSuspendedNodesLeaked is returned when the frontier drains, passes
	// are asked to resume, and suspended nodes still remain.
	ErrSuspendedNodesLeaked = errors.New("suspended nodes leaked")

	// ErrSafetyBoundExceeded is returned in strict mode when a graph stops
	// at the processed-node bound with work still pending.
	ErrSafetyBoundExceeded = errors.New("safety bound exceeded")

	// ErrPassFailed matches any *PassError via errors.Is.
	ErrPassFailed = errors.New("pass failed")
)

// Pass hook names reported in PassError.Hook.
const (
	HookRun                  = "Run"
	HookOnFinishGraph        = "OnFinishGraph"
	HookOnSuspendNodesLeaked = "OnSuspendNodesLeaked"
)

// PassError wraps an error returned by a pass.
type PassError struct {
	// PassName is the name the pass was registered under.
	PassName string

	// Hook is the pass method that failed.
	Hook string

	// Graph is the name of the graph being optimized.
	Graph string

	// NodeName and NodeID identify the node being processed. Empty for
	// graph-level hooks.
	NodeName string
	NodeID   graph.NodeID

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PassError) Error() string {
	if e.NodeName != "" {
		return fmt.Sprintf("pass %q %s on node %s(#%d) in graph %q: %v",
			e.PassName, e.Hook, e.NodeName, e.NodeID, e.Graph, e.Err)
	}
	return fmt.Sprintf("pass %q %s in graph %q: %v", e.PassName, e.Hook, e.Graph, e.Err)
}

// Unwrap returns the underlying error.
func (e *PassError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrPassFailed.
func (e *PassError) Is(target error) bool {
	return target == ErrPassFailed
}

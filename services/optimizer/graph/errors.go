// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph operations.
var (
	// ErrNilNode is returned when a nil node is passed where one is required.
	ErrNilNode = errors.New("node must not be nil")

	// ErrNilGraph is returned when a nil graph is passed where one is required.
	ErrNilGraph = errors.New("graph must not be nil")

	// ErrNoOwner is returned when a node is not attached to any graph.
	ErrNoOwner = errors.New("node has no owning graph")

	// ErrForeignNode is returned when a node belongs to a different graph
	// than the one the operation was invoked on.
	ErrForeignNode = errors.New("node belongs to another graph")

	// ErrDuplicateNode is returned when adding a node whose name already
	// exists in the graph.
	ErrDuplicateNode = errors.New("duplicate node name")

	// ErrInvalidNode is returned when a node name is empty.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidIndex is returned for negative or out-of-range port or slot
	// indices.
	ErrInvalidIndex = errors.New("invalid port index")

	// ErrSlotOccupied is returned when connecting an input slot that already
	// has a producer.
	ErrSlotOccupied = errors.New("input slot already connected")

	// ErrDuplicateSubgraph is returned when a subgraph name is already
	// registered on the root graph.
	ErrDuplicateSubgraph = errors.New("duplicate subgraph name")

	// ErrSubgraphAttached is returned when attaching a subgraph that already
	// has a parent node.
	ErrSubgraphAttached = errors.New("subgraph already has a parent")
)

// NodeError wraps an error with the node that caused it.
type NodeError struct {
	NodeName string
	NodeID   NodeID
	Err      error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (#%d): %v", e.NodeName, e.NodeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// newNodeError creates a NodeError for n. n may be nil.
func newNodeError(n *Node, err error) *NodeError {
	if n == nil {
		return &NodeError{Err: err}
	}
	return &NodeError{NodeName: n.name, NodeID: n.id, Err: err}
}

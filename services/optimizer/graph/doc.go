// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the compute-graph model rewritten by optimization passes.
//
// A Graph holds an ordered collection of direct Nodes. Each Node has an
// ordered list of input slots (each bound to one producer output port, or
// left as a hole for an unconnected optional input), a list of consumers per
// output port, and the names of the subgraphs it owns. Subgraphs are
// registered on the root graph and resolved by name from any graph in the
// hierarchy.
//
// # Identity
//
// Nodes are compared by pointer. Every node also carries a process-unique
// ID that is never reused, which gives deterministic ordering for sets and
// readable diagnostics.
//
// # Ownership Model
//
// A node records its owning graph. RemoveNodeWithoutRelink detaches the node
// from the graph but never frees it; other components may still hold
// references and are expected to check their own tombstone sets before
// dereferencing.
//
// # Thread Safety
//
// Graph and Node are NOT safe for concurrent use. The pass driver mutates
// them from a single goroutine.
package graph

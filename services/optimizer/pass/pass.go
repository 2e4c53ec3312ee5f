// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pass defines the contract between graph-rewrite passes and the
// pass driver.
//
// A pass is run on one node at a time. After each Run the driver reads the
// pass's effect buffers (deleted nodes, repass requests, suspensions,
// resumptions) and folds them into its worklist; before the next Run it
// calls Init to clear them. Concrete passes embed BasePass, override Run,
// and report effects through the BasePass helpers.
//
// # Example
//
//	type DropIdentity struct {
//	    pass.BasePass
//	}
//
//	func (p *DropIdentity) Run(ctx context.Context, n *graph.Node) error {
//	    if n.Op() != "Identity" {
//	        return nil
//	    }
//	    return p.IsolateAndDeleteNode(n, map[int]int{0: 0}, false)
//	}
package pass

import (
	"context"

	"github.com/AleutianAI/graphopt/services/optimizer/graph"
)

// Option names a driver-controlled pass option.
type Option string

// OptionOptimizeAfterSubgraph is set on every pass while the driver re-runs
// a node whose subgraphs have just converged.
const OptionOptimizeAfterSubgraph Option = "optimize-after-subgraph"

// Pass is the capability set the driver needs from a transformation pass.
//
// Description:
//
//	Run transforms (or inspects) a single node. The effect accessors are
//	read by the driver immediately after each Run and are only valid until
//	the next Init. Any non-nil error from Run aborts the whole driver run.
//
// Thread Safety:
//
//	Passes are driven from a single goroutine and need no locking.
type Pass interface {
	// Run processes one node.
	Run(ctx context.Context, node *graph.Node) error

	// Init clears per-node effect buffers before each Run.
	Init()

	// NodesDeleted returns nodes removed by the last Run.
	NodesDeleted() []*graph.Node

	// NodesNeedRePassImmediately returns nodes to push to the front of the
	// frontier, with a diagnostic label each.
	NodesNeedRePassImmediately() map[*graph.Node]string

	// NodesNeedRePass returns nodes to revisit later in this macro-iteration.
	NodesNeedRePass() []*graph.Node

	// NodesSuspend returns nodes whose iteration is blocked until resumed.
	NodesSuspend() []*graph.Node

	// NodesResume returns previously suspended nodes to unblock, with a
	// diagnostic label each.
	NodesResume() map[*graph.Node]string

	// GlobalNodesNeedRePassImmediately returns nodes to push to the front
	// of the root graph's frontier.
	GlobalNodesNeedRePassImmediately() []*graph.Node

	// OnStartPassGraph is called once per graph before its first node, and
	// again after a node's subgraphs converge.
	OnStartPassGraph(g *graph.Graph)

	// OnFinishGraph is called after g converges. Returned nodes are
	// repassed in the next outer iteration.
	OnFinishGraph(g *graph.Graph) ([]*graph.Node, error)

	// OnSuspendNodesLeaked is called when the frontier is empty but
	// suspended nodes remain. Passes may resume nodes here.
	OnSuspendNodesLeaked() error

	// SetOption sets a driver-controlled option.
	SetOption(opt Option, value string)

	// ClearOptions removes every option.
	ClearOptions()
}

// NamedPass pairs a pass with the name used in diagnostics.
//
// Pass must hold a usable value. A nil pointer stored in the interface,
// such as (*FuncPass)(nil), is not detected and panics on first use.
type NamedPass struct {
	Name string
	Pass Pass
}

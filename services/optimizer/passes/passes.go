// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package passes provides the built-in graph rewrite passes and a registry
// that resolves pass names from configuration.
package passes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/graphopt/services/optimizer/graph"
	"github.com/AleutianAI/graphopt/services/optimizer/pass"
)

// AttrKeep marks a node that passes must never delete.
const AttrKeep = "keep"

func kept(n *graph.Node) bool {
	v, ok := n.Attr(AttrKeep)
	return ok && v != "false"
}

// IdentityElimination removes pass-through nodes.
//
// A node qualifies when its op is in Ops, it has exactly one input slot
// that is connected, and it owns no subgraphs. Consumers are rebound to the
// node's producer and both neighbours are revisited.
type IdentityElimination struct {
	pass.BasePass

	// Ops lists the op names treated as identities.
	Ops map[string]bool

	// Immediate revisits neighbours before anything else.
	Immediate bool

	removed int
}

// NewIdentityElimination handles "Identity" and "StopGradient" ops.
func NewIdentityElimination() *IdentityElimination {
	return &IdentityElimination{
		Ops: map[string]bool{"Identity": true, "StopGradient": true},
	}
}

// Run implements pass.Pass.
func (p *IdentityElimination) Run(_ context.Context, n *graph.Node) error {
	if !p.Ops[n.Op()] || kept(n) || len(n.SubgraphNames()) > 0 {
		return nil
	}
	inputs := n.Inputs()
	if len(inputs) != 1 || inputs[0].IsHole() {
		return nil
	}
	if err := p.IsolateAndDeleteNode(n, map[int]int{0: 0}, p.Immediate); err != nil {
		return fmt.Errorf("eliminate identity %s: %w", n, err)
	}
	p.removed++
	return nil
}

// Removed returns how many nodes this pass deleted.
func (p *IdentityElimination) Removed() int {
	return p.removed
}

// DeadEndElimination removes side-effect-free nodes nothing consumes.
//
// Deleting a dead end can leave its producers without consumers, so the
// producers are revisited; a chain of dead ends collapses back to front.
type DeadEndElimination struct {
	pass.BasePass

	// Ops lists the op names that are safe to drop when unused.
	Ops map[string]bool

	removed int
}

// NewDeadEndElimination handles "NoOp" and "Const" ops.
func NewDeadEndElimination() *DeadEndElimination {
	return &DeadEndElimination{
		Ops: map[string]bool{"NoOp": true, "Const": true},
	}
}

// Run implements pass.Pass.
func (p *DeadEndElimination) Run(_ context.Context, n *graph.Node) error {
	if !p.Ops[n.Op()] || kept(n) || len(n.SubgraphNames()) > 0 {
		return nil
	}
	if len(n.OutNodes()) > 0 {
		return nil
	}
	if err := p.IsolateAndDeleteNode(n, nil, false); err != nil {
		return fmt.Errorf("eliminate dead end %s: %w", n, err)
	}
	p.removed++
	return nil
}

// Removed returns how many nodes this pass deleted.
func (p *DeadEndElimination) Removed() int {
	return p.removed
}

// Visit is one node visit seen by a VisitRecorder.
type Visit struct {
	Graph         string `json:"graph"`
	Node          string `json:"node"`
	AfterSubgraph bool   `json:"after_subgraph,omitempty"`
}

// VisitRecorder records the order nodes are visited in. It never changes
// the graph.
type VisitRecorder struct {
	pass.BasePass

	logger *slog.Logger
	visits []Visit
}

// NewVisitRecorder creates a recorder that also logs each visit at Debug
// when logger is non-nil.
func NewVisitRecorder(logger *slog.Logger) *VisitRecorder {
	return &VisitRecorder{logger: logger}
}

// Run implements pass.Pass.
func (p *VisitRecorder) Run(_ context.Context, n *graph.Node) error {
	_, after := p.GetOption(pass.OptionOptimizeAfterSubgraph)
	v := Visit{Node: n.Name(), AfterSubgraph: after}
	if g := n.Owner(); g != nil {
		v.Graph = g.Name()
	}
	p.visits = append(p.visits, v)
	if p.logger != nil {
		p.logger.Debug("visit",
			slog.String("graph", v.Graph),
			slog.String("node", v.Node),
			slog.Bool("after_subgraph", v.AfterSubgraph),
		)
	}
	return nil
}

// Visits returns a copy of the recorded visits.
func (p *VisitRecorder) Visits() []Visit {
	out := make([]Visit, len(p.visits))
	copy(out, p.visits)
	return out
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package passes

import (
	"context"

	"github.com/AleutianAI/graphopt/services/optimizer/graph"
	"github.com/AleutianAI/graphopt/services/optimizer/pass"
)

// AttrHoldUntil names a node in the same graph that must be visited before
// the holding node is.
const AttrHoldUntil = "hold_until"

// Hold delays nodes until a named sibling has been visited.
//
// A node carrying AttrHoldUntil is suspended when one of its producers is
// visited, and resumed once the named node is visited. If the named node
// is never reached, the leak hook releases what is still held in the graph
// being optimized. Holds placed in enclosing graphs stay in place.
type Hold struct {
	pass.BasePass

	visited map[*graph.Graph]map[string]bool
	held    map[*graph.Graph]map[*graph.Node]string
	current *graph.Graph
}

// NewHold creates a Hold pass.
func NewHold() *Hold {
	return &Hold{
		visited: make(map[*graph.Graph]map[string]bool),
		held:    make(map[*graph.Graph]map[*graph.Node]string),
	}
}

// OnStartPassGraph implements pass.Pass.
func (p *Hold) OnStartPassGraph(g *graph.Graph) {
	p.enter(g)
}

// enter makes g the graph whose holds the leak hook releases.
func (p *Hold) enter(g *graph.Graph) {
	if p.visited == nil {
		p.visited = make(map[*graph.Graph]map[string]bool)
		p.held = make(map[*graph.Graph]map[*graph.Node]string)
	}
	if p.visited[g] == nil {
		p.visited[g] = make(map[string]bool)
	}
	if p.held[g] == nil {
		p.held[g] = make(map[*graph.Node]string)
	}
	p.current = g
}

// Run implements pass.Pass.
func (p *Hold) Run(_ context.Context, n *graph.Node) error {
	g := n.Owner()
	if g == nil {
		return nil
	}
	p.enter(g)
	p.visited[g][n.Name()] = true
	held := p.held[g]

	for _, out := range n.OutNodes() {
		target, ok := out.Attr(AttrHoldUntil)
		if !ok || p.visited[g][target] {
			continue
		}
		if _, exists := g.Node(target); !exists {
			continue
		}
		if _, already := held[out]; !already {
			held[out] = target
			p.AddNodeSuspend(out)
		}
	}

	for node, target := range held {
		if target == n.Name() {
			delete(held, node)
			p.AddNodeResume(node, "released by "+n.Name())
		}
	}
	return nil
}

// OnSuspendNodesLeaked implements pass.Pass.
func (p *Hold) OnSuspendNodesLeaked() error {
	held := p.held[p.current]
	for node := range held {
		p.AddNodeResume(node, "leak release")
		delete(held, node)
	}
	return nil
}

// Held returns how many nodes are currently suspended by this pass.
func (p *Hold) Held() int {
	total := 0
	for _, held := range p.held {
		total += len(held)
	}
	return total
}

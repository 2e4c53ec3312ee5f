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
	"fmt"
	"sort"
)

// Graph is an ordered collection of nodes plus the subgraph registry.
//
// Description:
//
//	A Graph with no parent node is the root. Nested graphs are attached to
//	an owning node with AddSubgraph and are registered by name on the root,
//	so GetSubgraph resolves the same name from anywhere in the hierarchy.
//
// Thread Safety:
//
//	Graph is NOT safe for concurrent use.
type Graph struct {
	name      string
	nodes     []*Node
	byName    map[string]*Node
	parent    *Node
	subgraphs map[string]*Graph
}

// New creates an empty root graph.
func New(name string) *Graph {
	return &Graph{
		name:      name,
		byName:    make(map[string]*Node),
		subgraphs: make(map[string]*Graph),
	}
}

// Name returns the graph's name.
func (g *Graph) Name() string {
	return g.name
}

// Parent returns the node owning this graph, or nil for the root.
func (g *Graph) Parent() *Node {
	return g.parent
}

// IsRoot reports whether the graph has no parent node.
func (g *Graph) IsRoot() bool {
	return g.parent == nil
}

// Root walks parent links up to the root graph.
//
// A nested graph whose owning node has been removed from its graph is
// treated as the root of its own detached hierarchy.
func (g *Graph) Root() *Graph {
	cur := g
	for cur.parent != nil && cur.parent.owner != nil {
		cur = cur.parent.owner
	}
	return cur
}

// AddNode creates a node and appends it to the graph.
//
// Inputs:
//
//	name - Node name. Must be non-empty and unique within the graph.
//	op - Operation type (e.g., "Identity", "Conv2D").
//
// Outputs:
//
//	*Node - The new node.
//	error - ErrInvalidNode or ErrDuplicateNode.
func (g *Graph) AddNode(name, op string) (*Node, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidNode)
	}
	if _, exists := g.byName[name]; exists {
		return nil, fmt.Errorf("%w: %q in graph %q", ErrDuplicateNode, name, g.name)
	}
	n := &Node{
		id:    NodeID(lastNodeID.Add(1)),
		name:  name,
		op:    op,
		owner: g,
	}
	g.nodes = append(g.nodes, n)
	g.byName[name] = n
	return n, nil
}

// Node looks up a direct node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Nodes returns a copy of the direct nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// NodeCount returns the number of direct nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Contains reports whether n is a direct node of g.
func (g *Graph) Contains(n *Node) bool {
	return n != nil && n.owner == g
}

// AddEdge connects output port srcPort of src to input slot dstSlot of dst.
//
// Description:
//
//	Input slots below dstSlot that are not yet connected become holes.
//	Both nodes must be direct nodes of g.
//
// Outputs:
//
//	error - ErrNilNode, ErrForeignNode, ErrInvalidIndex or ErrSlotOccupied.
func (g *Graph) AddEdge(src *Node, srcPort int, dst *Node, dstSlot int) error {
	if src == nil || dst == nil {
		return ErrNilNode
	}
	if src.owner != g {
		return newNodeError(src, ErrForeignNode)
	}
	if dst.owner != g {
		return newNodeError(dst, ErrForeignNode)
	}
	if srcPort < 0 || dstSlot < 0 {
		return fmt.Errorf("%w: %s:%d -> %s:%d", ErrInvalidIndex, src.name, srcPort, dst.name, dstSlot)
	}
	for len(dst.inputs) <= dstSlot {
		dst.inputs = append(dst.inputs, Endpoint{})
	}
	if !dst.inputs[dstSlot].IsHole() {
		return newNodeError(dst, fmt.Errorf("%w: slot %d", ErrSlotOccupied, dstSlot))
	}
	dst.inputs[dstSlot] = Endpoint{Node: src, Index: srcPort}
	src.addConsumer(srcPort, Endpoint{Node: dst, Index: dstSlot})
	return nil
}

// RemoveEdge disconnects input slot dstSlot of dst, leaving a hole.
func (g *Graph) RemoveEdge(dst *Node, dstSlot int) error {
	if dst == nil {
		return ErrNilNode
	}
	if dst.owner != g {
		return newNodeError(dst, ErrForeignNode)
	}
	if dstSlot < 0 || dstSlot >= len(dst.inputs) {
		return newNodeError(dst, fmt.Errorf("%w: slot %d", ErrInvalidIndex, dstSlot))
	}
	in := dst.inputs[dstSlot]
	if in.IsHole() {
		return nil
	}
	in.Node.removeConsumer(in.Index, Endpoint{Node: dst, Index: dstSlot})
	dst.inputs[dstSlot] = Endpoint{}
	return nil
}

// RemoveNodeWithoutRelink detaches n from the graph's node collection.
//
// Description:
//
//	The node's edges are left untouched; callers rewire or isolate first.
//	The node's owner is cleared so later removals fail loudly.
//
// Outputs:
//
//	error - ErrNilNode, ErrNoOwner or ErrForeignNode.
func (g *Graph) RemoveNodeWithoutRelink(n *Node) error {
	if n == nil {
		return ErrNilNode
	}
	if n.owner == nil {
		return newNodeError(n, ErrNoOwner)
	}
	if n.owner != g {
		return newNodeError(n, ErrForeignNode)
	}
	for i, cur := range g.nodes {
		if cur == n {
			g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
			break
		}
	}
	delete(g.byName, n.name)
	n.owner = nil
	return nil
}

// IsolateNode rewires n's consumers around it and clears n's edges.
//
// Description:
//
//	For every output port o of n, each consumer of o is rebound to the
//	producer feeding input slot ioMap[o] of n. Consumers of ports that are
//	not in ioMap, or whose mapped input is a hole, are left with a hole.
//	Afterwards n has no inputs and no consumers.
//
// Inputs:
//
//	n - The node to isolate. Must be a direct node of g.
//	ioMap - Output port index to input slot index.
//
// Outputs:
//
//	error - ErrNilNode, ErrNoOwner, ErrForeignNode or ErrInvalidIndex. The
//	graph is not modified when an error is returned.
//
// Example:
//
//	// A -> Identity -> C becomes A -> C
//	err := g.IsolateNode(identity, map[int]int{0: 0})
func (g *Graph) IsolateNode(n *Node, ioMap map[int]int) error {
	if n == nil {
		return ErrNilNode
	}
	if n.owner == nil {
		return newNodeError(n, ErrNoOwner)
	}
	if n.owner != g {
		return newNodeError(n, ErrForeignNode)
	}
	for out, in := range ioMap {
		if out < 0 || in < 0 || in >= len(n.inputs) {
			return newNodeError(n, fmt.Errorf("%w: output %d -> input %d", ErrInvalidIndex, out, in))
		}
	}

	for port, consumers := range n.outputs {
		var producer Endpoint
		if in, ok := ioMap[port]; ok {
			producer = n.inputs[in]
		}
		for _, c := range consumers {
			c.Node.inputs[c.Index] = producer
			if !producer.IsHole() {
				producer.Node.addConsumer(producer.Index, c)
			}
		}
	}
	for slot, in := range n.inputs {
		if !in.IsHole() {
			in.Node.removeConsumer(in.Index, Endpoint{Node: n, Index: slot})
		}
	}
	n.inputs = nil
	n.outputs = nil
	return nil
}

// AddSubgraph attaches sub to owner and registers it on the root graph.
//
// Description:
//
//	Subgraphs already registered on sub (when sub was built as its own
//	root first) are moved to the new root registry.
//
// Outputs:
//
//	error - ErrNilNode, ErrNilGraph, ErrForeignNode, ErrSubgraphAttached or
//	ErrDuplicateSubgraph.
func (g *Graph) AddSubgraph(owner *Node, sub *Graph) error {
	if owner == nil {
		return ErrNilNode
	}
	if sub == nil {
		return ErrNilGraph
	}
	if owner.owner != g {
		return newNodeError(owner, ErrForeignNode)
	}
	if sub.parent != nil {
		return fmt.Errorf("%w: %q", ErrSubgraphAttached, sub.name)
	}
	root := g.Root()
	if sub == root {
		return fmt.Errorf("%w: %q is the root", ErrSubgraphAttached, sub.name)
	}
	if _, exists := root.subgraphs[sub.name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateSubgraph, sub.name)
	}
	for name := range sub.subgraphs {
		if _, exists := root.subgraphs[name]; exists || name == sub.name {
			return fmt.Errorf("%w: %q", ErrDuplicateSubgraph, name)
		}
	}

	sub.parent = owner
	owner.subgraphs = append(owner.subgraphs, sub.name)
	root.subgraphs[sub.name] = sub
	for name, nested := range sub.subgraphs {
		root.subgraphs[name] = nested
	}
	sub.subgraphs = make(map[string]*Graph)
	return nil
}

// GetSubgraph resolves a subgraph by name through the root registry.
func (g *Graph) GetSubgraph(name string) *Graph {
	return g.Root().subgraphs[name]
}

// Subgraphs returns every registered subgraph sorted by name.
func (g *Graph) Subgraphs() []*Graph {
	root := g.Root()
	names := make([]string, 0, len(root.subgraphs))
	for name := range root.subgraphs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Graph, 0, len(names))
	for _, name := range names {
		out = append(out, root.subgraphs[name])
	}
	return out
}

// AncestorIn maps n to the node of g that (transitively) owns it.
//
// Description:
//
//	Walks up parent-graph links from n until reaching a node whose owner is
//	g. Returns n itself when n is a direct node of g.
//
// Outputs:
//
//	*Node - The ancestor in g.
//	bool - False when n is nil, detached, or not nested under g.
func (g *Graph) AncestorIn(n *Node) (*Node, bool) {
	for cur := n; cur != nil; {
		if cur.owner == nil {
			return nil, false
		}
		if cur.owner == g {
			return cur, true
		}
		cur = cur.owner.parent
	}
	return nil, false
}

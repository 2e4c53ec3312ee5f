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
	"sync/atomic"
)

// NodeID is a process-unique node identifier. IDs are never reused.
type NodeID uint64

var lastNodeID atomic.Uint64

// Endpoint identifies one port of a node.
//
// For an input slot, Endpoint names the producer node and the producer's
// output port. For a consumer entry, it names the consumer node and the
// consumer's input slot. A zero Endpoint (nil Node) is a hole.
type Endpoint struct {
	Node  *Node
	Index int
}

// IsHole reports whether the endpoint is unconnected.
func (e Endpoint) IsHole() bool {
	return e.Node == nil
}

// Node is a single operation in a Graph.
type Node struct {
	id        NodeID
	name      string
	op        string
	owner     *Graph
	inputs    []Endpoint
	outputs   [][]Endpoint
	subgraphs []string
	attrs     map[string]string
}

// ID returns the node's process-unique identifier.
func (n *Node) ID() NodeID {
	return n.id
}

// Name returns the node's name, unique within its graph.
func (n *Node) Name() string {
	return n.name
}

// Op returns the node's operation type.
func (n *Node) Op() string {
	return n.op
}

// Owner returns the graph the node is attached to, or nil once removed.
func (n *Node) Owner() *Graph {
	return n.owner
}

// String returns "name(#id)" for diagnostics.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(#%d)", n.name, n.id)
}

// Attr returns the value of a node attribute.
func (n *Node) Attr(key string) (string, bool) {
	v, ok := n.attrs[key]
	return v, ok
}

// SetAttr sets a node attribute.
func (n *Node) SetAttr(key, value string) {
	if n.attrs == nil {
		n.attrs = make(map[string]string)
	}
	n.attrs[key] = value
}

// Attrs returns a copy of the node's attributes.
func (n *Node) Attrs() map[string]string {
	out := make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		out[k] = v
	}
	return out
}

// Inputs returns a copy of the node's input slots, holes included.
func (n *Node) Inputs() []Endpoint {
	out := make([]Endpoint, len(n.inputs))
	copy(out, n.inputs)
	return out
}

// Input returns the producer bound to input slot i.
func (n *Node) Input(i int) (Endpoint, bool) {
	if i < 0 || i >= len(n.inputs) {
		return Endpoint{}, false
	}
	return n.inputs[i], true
}

// OutputPorts returns the number of output ports that have ever been wired.
func (n *Node) OutputPorts() int {
	return len(n.outputs)
}

// Consumers returns a copy of the consumers attached to output port.
func (n *Node) Consumers(port int) []Endpoint {
	if port < 0 || port >= len(n.outputs) {
		return nil
	}
	out := make([]Endpoint, len(n.outputs[port]))
	copy(out, n.outputs[port])
	return out
}

// InNodes returns the distinct producer nodes in input-slot order.
func (n *Node) InNodes() []*Node {
	out := make([]*Node, 0, len(n.inputs))
	seen := make(map[*Node]struct{}, len(n.inputs))
	for _, in := range n.inputs {
		if in.Node == nil {
			continue
		}
		if _, ok := seen[in.Node]; ok {
			continue
		}
		seen[in.Node] = struct{}{}
		out = append(out, in.Node)
	}
	return out
}

// OutNodes returns the distinct consumer nodes in port then insertion order.
func (n *Node) OutNodes() []*Node {
	out := make([]*Node, 0)
	seen := make(map[*Node]struct{})
	for _, consumers := range n.outputs {
		for _, c := range consumers {
			if _, ok := seen[c.Node]; ok {
				continue
			}
			seen[c.Node] = struct{}{}
			out = append(out, c.Node)
		}
	}
	return out
}

// FanIn returns the number of distinct producers.
func (n *Node) FanIn() int {
	return len(n.InNodes())
}

// SubgraphNames returns the names of the subgraphs this node owns, in
// attachment order.
func (n *Node) SubgraphNames() []string {
	out := make([]string, len(n.subgraphs))
	copy(out, n.subgraphs)
	return out
}

// addConsumer appends c to output port, growing the port list as needed.
func (n *Node) addConsumer(port int, c Endpoint) {
	for len(n.outputs) <= port {
		n.outputs = append(n.outputs, nil)
	}
	n.outputs[port] = append(n.outputs[port], c)
}

// removeConsumer drops c from output port.
func (n *Node) removeConsumer(port int, c Endpoint) {
	if port < 0 || port >= len(n.outputs) {
		return
	}
	kept := n.outputs[port][:0]
	for _, e := range n.outputs[port] {
		if e != c {
			kept = append(kept, e)
		}
	}
	n.outputs[port] = kept
}

// SortByID sorts nodes in ascending ID order, which is creation order.
func SortByID(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].id < nodes[j].id
	})
}

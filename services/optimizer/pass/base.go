// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pass

import (
	"context"
	"fmt"

	"github.com/AleutianAI/graphopt/services/optimizer/graph"
)

// nodeList is an insertion-ordered node set.
type nodeList struct {
	order []*graph.Node
	index map[*graph.Node]struct{}
}

func (l *nodeList) add(n *graph.Node) {
	if n == nil {
		return
	}
	if l.index == nil {
		l.index = make(map[*graph.Node]struct{})
	}
	if _, ok := l.index[n]; ok {
		return
	}
	l.index[n] = struct{}{}
	l.order = append(l.order, n)
}

func (l *nodeList) nodes() []*graph.Node {
	out := make([]*graph.Node, len(l.order))
	copy(out, l.order)
	return out
}

func (l *nodeList) reset() {
	l.order = nil
	l.index = nil
}

// BasePass implements the bookkeeping half of Pass.
//
// Description:
//
//	Embed BasePass in a concrete pass and override Run. The Add* helpers
//	record effects that the driver collects after Run returns. Hooks default
//	to no-ops.
//
// Example:
//
//	type MyPass struct {
//	    pass.BasePass
//	}
//
//	func (p *MyPass) Run(ctx context.Context, n *graph.Node) error {
//	    p.AddRePassNode(n)
//	    return nil
//	}
type BasePass struct {
	deleted         nodeList
	repass          nodeList
	suspend         nodeList
	globalImmediate nodeList
	immediate       map[*graph.Node]string
	resume          map[*graph.Node]string
	options         map[Option]string
}

// Run returns ErrNotImplemented. Concrete passes must override it.
func (b *BasePass) Run(_ context.Context, _ *graph.Node) error {
	return ErrNotImplemented
}

// Init clears every per-node effect buffer. Options are kept.
func (b *BasePass) Init() {
	b.deleted.reset()
	b.repass.reset()
	b.suspend.reset()
	b.globalImmediate.reset()
	b.immediate = nil
	b.resume = nil
}

// NodesDeleted returns nodes recorded with AddNodeDeleted.
func (b *BasePass) NodesDeleted() []*graph.Node {
	return b.deleted.nodes()
}

// NodesNeedRePassImmediately returns nodes recorded with AddImmediateRePassNode.
func (b *BasePass) NodesNeedRePassImmediately() map[*graph.Node]string {
	return copyLabels(b.immediate)
}

// NodesNeedRePass returns nodes recorded with AddRePassNode.
func (b *BasePass) NodesNeedRePass() []*graph.Node {
	return b.repass.nodes()
}

// NodesSuspend returns nodes recorded with AddNodeSuspend.
func (b *BasePass) NodesSuspend() []*graph.Node {
	return b.suspend.nodes()
}

// NodesResume returns nodes recorded with AddNodeResume.
func (b *BasePass) NodesResume() map[*graph.Node]string {
	return copyLabels(b.resume)
}

// GlobalNodesNeedRePassImmediately returns nodes recorded with
// AddGlobalImmediateRePassNode.
func (b *BasePass) GlobalNodesNeedRePassImmediately() []*graph.Node {
	return b.globalImmediate.nodes()
}

// OnStartPassGraph is a no-op.
func (b *BasePass) OnStartPassGraph(_ *graph.Graph) {}

// OnFinishGraph requests no repass.
func (b *BasePass) OnFinishGraph(_ *graph.Graph) ([]*graph.Node, error) {
	return nil, nil
}

// OnSuspendNodesLeaked is a no-op.
func (b *BasePass) OnSuspendNodesLeaked() error {
	return nil
}

// SetOption sets opt to value.
func (b *BasePass) SetOption(opt Option, value string) {
	if b.options == nil {
		b.options = make(map[Option]string)
	}
	b.options[opt] = value
}

// ClearOptions removes every option.
func (b *BasePass) ClearOptions() {
	b.options = nil
}

// GetOption returns the value of opt.
func (b *BasePass) GetOption(opt Option) (string, bool) {
	v, ok := b.options[opt]
	return v, ok
}

// AddRePassNode asks the driver to revisit n later in this macro-iteration.
func (b *BasePass) AddRePassNode(n *graph.Node) {
	b.repass.add(n)
}

// AddImmediateRePassNode asks the driver to revisit n before anything else.
func (b *BasePass) AddImmediateRePassNode(n *graph.Node, label string) {
	if n == nil {
		return
	}
	if b.immediate == nil {
		b.immediate = make(map[*graph.Node]string)
	}
	b.immediate[n] = label
}

// AddNodeDeleted records that n was removed from its graph.
func (b *BasePass) AddNodeDeleted(n *graph.Node) {
	b.deleted.add(n)
}

// AddNodeSuspend blocks n until a pass resumes it.
func (b *BasePass) AddNodeSuspend(n *graph.Node) {
	b.suspend.add(n)
}

// AddNodeResume unblocks a previously suspended node.
func (b *BasePass) AddNodeResume(n *graph.Node, label string) {
	if n == nil {
		return
	}
	if b.resume == nil {
		b.resume = make(map[*graph.Node]string)
	}
	b.resume[n] = label
}

// AddGlobalImmediateRePassNode asks the root driver to revisit n (or its
// root-level ancestor) before anything else.
func (b *BasePass) AddGlobalImmediateRePassNode(n *graph.Node) {
	b.globalImmediate.add(n)
}

// AddRePassNodesWithInOut records n's producers and consumers for repass.
func (b *BasePass) AddRePassNodesWithInOut(n *graph.Node) {
	for _, in := range n.InNodes() {
		b.AddRePassNode(in)
	}
	for _, out := range n.OutNodes() {
		b.AddRePassNode(out)
	}
}

// AddImmediateRePassNodesWithInOut records n's producers and consumers for
// immediate repass.
func (b *BasePass) AddImmediateRePassNodesWithInOut(n *graph.Node, label string) {
	for _, in := range n.InNodes() {
		b.AddImmediateRePassNode(in, label)
	}
	for _, out := range n.OutNodes() {
		b.AddImmediateRePassNode(out, label)
	}
}

// IsolateAndDeleteNode removes n from its graph, rewiring consumers per ioMap.
//
// Description:
//
//	Records n's current producers and consumers for repass (immediately
//	when immediate is true), isolates n with ioMap, detaches it from its
//	owning graph and marks it deleted.
//
// Inputs:
//
//	n - The node to delete.
//	ioMap - Output port index to input slot index, see graph.IsolateNode.
//	immediate - Push neighbours to the frontier front instead of the
//	    deferred repass list.
//
// Outputs:
//
//	error - Non-nil if n is nil, has no owner, or isolation fails.
func (b *BasePass) IsolateAndDeleteNode(n *graph.Node, ioMap map[int]int, immediate bool) error {
	if n == nil {
		return graph.ErrNilNode
	}
	g := n.Owner()
	if g == nil {
		return fmt.Errorf("delete %s: %w", n, graph.ErrNoOwner)
	}

	if immediate {
		b.AddImmediateRePassNodesWithInOut(n, "isolate "+n.Name())
	} else {
		b.AddRePassNodesWithInOut(n)
	}

	if err := g.IsolateNode(n, ioMap); err != nil {
		return fmt.Errorf("isolate %s: %w", n, err)
	}
	if err := g.RemoveNodeWithoutRelink(n); err != nil {
		return fmt.Errorf("remove %s: %w", n, err)
	}
	b.AddNodeDeleted(n)
	return nil
}

func copyLabels(in map[*graph.Node]string) map[*graph.Node]string {
	out := make(map[*graph.Node]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// FuncPass wraps a function as a Pass.
//
// Description:
//
//	The function receives the FuncPass itself so it can report effects
//	through the embedded BasePass helpers.
//
// Example:
//
//	p := pass.NewFuncPass(func(ctx context.Context, p *pass.FuncPass, n *graph.Node) error {
//	    p.AddRePassNode(n)
//	    return nil
//	})
type FuncPass struct {
	BasePass
	fn func(context.Context, *FuncPass, *graph.Node) error
}

// NewFuncPass creates a pass from fn.
func NewFuncPass(fn func(context.Context, *FuncPass, *graph.Node) error) *FuncPass {
	return &FuncPass{fn: fn}
}

// Run calls the wrapped function.
func (p *FuncPass) Run(ctx context.Context, n *graph.Node) error {
	if p.fn == nil {
		return ErrNotImplemented
	}
	return p.fn(ctx, p, n)
}

var (
	_ Pass = (*BasePass)(nil)
	_ Pass = (*FuncPass)(nil)
)

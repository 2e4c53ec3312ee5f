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
	"container/list"
	"sync"

	"github.com/AleutianAI/graphopt/services/optimizer/graph"
)

type nodeSet map[*graph.Node]struct{}

func (s nodeSet) has(n *graph.Node) bool {
	_, ok := s[n]
	return ok
}

// sorted returns the members in ID order for deterministic iteration.
func (s nodeSet) sorted() []*graph.Node {
	out := make([]*graph.Node, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	graph.SortByID(out)
	return out
}

// graphState is the worklist of one driver invocation on one graph.
//
// seen marks nodes that were enqueued at least once. queued counts how many
// times a node currently sits in the frontier; only pushFront may raise it
// above one.
type graphState struct {
	frontier  *list.List
	queued    map[*graph.Node]int
	seen      nodeSet
	passed    nodeSet
	deleted   nodeSet
	suspended nodeSet
	last      nodeSet
	processed int
	bound     int
}

func newGraphState(bound int) *graphState {
	return &graphState{
		frontier:  list.New(),
		queued:    make(map[*graph.Node]int),
		seen:      make(nodeSet),
		passed:    make(nodeSet),
		deleted:   make(nodeSet),
		suspended: make(nodeSet),
		last:      make(nodeSet),
		bound:     bound,
	}
}

// pushBack enqueues n unless it is already in the frontier.
func (s *graphState) pushBack(n *graph.Node) bool {
	if s.queued[n] > 0 {
		return false
	}
	s.frontier.PushBack(n)
	s.queued[n]++
	s.seen[n] = struct{}{}
	return true
}

// pushBackIfNotSeen enqueues n only on its first discovery.
func (s *graphState) pushBackIfNotSeen(n *graph.Node) bool {
	if s.seen.has(n) {
		return false
	}
	return s.pushBack(n)
}

// pushFront enqueues n ahead of everything else, even if already queued.
func (s *graphState) pushFront(n *graph.Node) {
	s.frontier.PushFront(n)
	s.queued[n]++
	s.seen[n] = struct{}{}
}

func (s *graphState) popFront() (*graph.Node, bool) {
	e := s.frontier.Front()
	if e == nil {
		return nil, false
	}
	s.frontier.Remove(e)
	n := e.Value.(*graph.Node)
	if s.queued[n] <= 1 {
		delete(s.queued, n)
	} else {
		s.queued[n]--
	}
	return n, true
}

func (s *graphState) empty() bool {
	return s.frontier.Len() == 0
}

func (s *graphState) queueLen() int {
	return s.frontier.Len()
}

func (s *graphState) boundReached() bool {
	return s.processed >= s.bound
}

func (s *graphState) markDeleted(n *graph.Node) {
	s.deleted[n] = struct{}{}
	delete(s.suspended, n)
	delete(s.last, n)
}

func (s *graphState) allInputsSeen(n *graph.Node) bool {
	for _, in := range n.InNodes() {
		if !s.seen.has(in) {
			return false
		}
	}
	return true
}

func (s *graphState) anyInputSuspended(n *graph.Node) bool {
	for _, in := range n.InNodes() {
		if s.suspended.has(in) {
			return true
		}
	}
	return false
}

// ready is the frontier admission predicate for a discovered successor.
func (s *graphState) ready(n *graph.Node) bool {
	if s.deleted.has(n) || s.last.has(n) {
		return false
	}
	if s.suspended.has(n) {
		return false
	}
	return s.allInputsSeen(n) && !s.anyInputSuspended(n)
}

// repassState collects nodes to revisit within one macro-iteration.
type repassState struct {
	order []*graph.Node
	index nodeSet
}

func newRepassState() *repassState {
	return &repassState{index: make(nodeSet)}
}

func (r *repassState) add(n *graph.Node) bool {
	if r.index.has(n) {
		return false
	}
	r.index[n] = struct{}{}
	r.order = append(r.order, n)
	return true
}

func (r *repassState) erase(n *graph.Node) {
	if !r.index.has(n) {
		return
	}
	delete(r.index, n)
	for i, cur := range r.order {
		if cur == n {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *repassState) clear() {
	r.order = nil
	r.index = make(nodeSet)
}

func (r *repassState) nodes() []*graph.Node {
	out := make([]*graph.Node, len(r.order))
	copy(out, r.order)
	return out
}

func (r *repassState) empty() bool {
	return len(r.order) == 0
}

// rootRepass carries global immediate repass requests from nested
// invocations up to the top-level invocation. One instance is shared by all
// recursive invocations of a single Run.
type rootRepass struct {
	mu    sync.Mutex
	order []*graph.Node
	index nodeSet
}

func newRootRepass() *rootRepass {
	return &rootRepass{index: make(nodeSet)}
}

func (r *rootRepass) add(n *graph.Node) {
	if n == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index.has(n) {
		return
	}
	r.index[n] = struct{}{}
	r.order = append(r.order, n)
}

// take returns the pending nodes and clears the carrier.
func (r *rootRepass) take() []*graph.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.order
	r.order = nil
	r.index = make(nodeSet)
	return out
}

func (r *rootRepass) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order) == 0
}

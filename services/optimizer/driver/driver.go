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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/graphopt/services/optimizer/graph"
	"github.com/AleutianAI/graphopt/services/optimizer/pass"
)

// Driver applies passes to the nodes of a graph until a fixed point.
//
// Description:
//
//	Driver keeps a FIFO frontier of nodes whose producers have all been
//	seen, runs every pass on each node it pops, and applies the effects the
//	passes report: deletions, deferred and immediate repasses, suspensions,
//	resumptions and global repasses. Nodes that own subgraphs are recursed
//	into and then re-run with pass.OptionOptimizeAfterSubgraph set.
//
//	Each graph is bounded to SafetyMultiplier times its direct node count
//	of processed nodes. Reaching the bound with work left is logged and
//	counted, and is only an error when StrictSafetyBound is set.
//
// Thread Safety:
//
//	A Driver must not be shared across goroutines while Run is executing.
//	Passes are not required to be safe for concurrent use.
type Driver struct {
	graph  *graph.Graph
	cfg    Config
	logger *slog.Logger

	afterGraph []pass.NamedPass

	// Per-Run state, shared with nested invocations.
	depth   int
	top     *graph.Graph
	carrier *rootRepass
	stats   *runStats
}

type runStats struct {
	graphs        int
	processed     int
	deleted       int
	maxDepth      int
	boundOverruns int
}

// New creates a driver for g.
//
// Inputs:
//
//	g - The graph to optimize. Must not be nil.
//	cfg - Limits. Zero fields take the defaults.
//	logger - Logger for scheduling logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Driver - The configured driver.
//	error - ErrNilGraph or ErrInvalidConfig.
func New(g *graph.Graph, cfg Config, logger *slog.Logger) (*Driver, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		graph:  g,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "driver")),
		depth:  1,
		top:    g,
	}, nil
}

// Config returns the effective limits.
func (d *Driver) Config() Config {
	return d.cfg
}

// AddPassAfterGraphOptimized registers passes that only participate through
// their OnFinishGraph hook, and only on the top-level graph.
func (d *Driver) AddPassAfterGraphOptimized(passes []pass.NamedPass) {
	d.afterGraph = append(d.afterGraph, passes...)
}

// Run applies passes to the graph until a fixed point is reached.
//
// Description:
//
//	Passes run on each node in list order. The first error from any pass
//	aborts the whole run. Subgraphs owned by processed nodes are optimized
//	with the same passes. Cancelling ctx stops the run between nodes.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	passes - Non-empty list of named passes. Each Pass must be non-nil,
//	    including the value inside the interface.
//
// Outputs:
//
//	*Report - Summary of the run. Returned even when err is non-nil, except
//	    for argument errors.
//	error - ErrNoPasses, ErrNilPass, a *PassError, ErrDepthExceeded,
//	    ErrSubgraphNotFound, ErrSuspendedNodesLeaked,
//	    ErrSafetyBoundExceeded (strict mode) or the context error.
func (d *Driver) Run(ctx context.Context, passes []pass.NamedPass) (*Report, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := checkPasses(passes); err != nil {
		return nil, err
	}
	if len(d.afterGraph) > 0 {
		if err := checkPasses(d.afterGraph); err != nil {
			return nil, fmt.Errorf("after-graph passes: %w", err)
		}
	}

	d.depth = 1
	d.top = d.graph
	d.carrier = newRootRepass()
	d.stats = &runStats{}

	report := &Report{
		RunID:     uuid.NewString(),
		Graph:     d.graph.Name(),
		Passes:    passNames(passes),
		StartedAt: time.Now(),
	}
	logger := d.logger.With(slog.String("run_id", report.RunID))
	logger.Info("optimization started",
		slog.String("graph", report.Graph),
		slog.Int("nodes", d.graph.NodeCount()),
		slog.Int("passes", len(passes)),
	)

	ctx, span := tracer.Start(ctx, "Driver.Run",
		trace.WithAttributes(
			attribute.String("run.id", report.RunID),
			attribute.String("graph.name", report.Graph),
			attribute.StringSlice("passes", report.Passes),
		),
	)
	defer span.End()

	err := d.runGraph(ctx, passes)

	report.Duration = time.Since(report.StartedAt)
	report.GraphsOptimized = d.stats.graphs
	report.NodesProcessed = d.stats.processed
	report.NodesDeleted = d.stats.deleted
	report.MaxDepth = d.stats.maxDepth
	report.BoundOverruns = d.stats.boundOverruns
	report.Success = err == nil
	if err != nil {
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("optimization failed",
			slog.String("graph", report.Graph),
			slog.String("error", err.Error()),
		)
		return report, err
	}

	span.SetAttributes(
		attribute.Int("run.nodes_processed", report.NodesProcessed),
		attribute.Int("run.graphs_optimized", report.GraphsOptimized),
	)
	logger.Info("optimization complete",
		slog.String("graph", report.Graph),
		slog.Int("nodes_processed", report.NodesProcessed),
		slog.Int("nodes_deleted", report.NodesDeleted),
		slog.Int("graphs", report.GraphsOptimized),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func checkPasses(passes []pass.NamedPass) error {
	if len(passes) == 0 {
		return ErrNoPasses
	}
	for i, np := range passes {
		if np.Pass == nil {
			return fmt.Errorf("%w: %q at index %d", ErrNilPass, np.Name, i)
		}
	}
	return nil
}

func passNames(passes []pass.NamedPass) []string {
	out := make([]string, len(passes))
	for i, np := range passes {
		out[i] = np.Name
	}
	return out
}

// child creates the invocation for a subgraph one level deeper.
func (d *Driver) child(sub *graph.Graph) *Driver {
	return &Driver{
		graph:   sub,
		cfg:     d.cfg,
		logger:  d.logger,
		depth:   d.depth + 1,
		top:     d.top,
		carrier: d.carrier,
		stats:   d.stats,
	}
}

func (d *Driver) isTop() bool {
	return d.graph == d.top
}

// runGraph is one invocation on one graph.
func (d *Driver) runGraph(ctx context.Context, passes []pass.NamedPass) error {
	if d.depth > d.cfg.MaxDepth {
		return fmt.Errorf("%w: graph %q at depth %d (max %d)",
			ErrDepthExceeded, d.graph.Name(), d.depth, d.cfg.MaxDepth)
	}

	start := time.Now()
	ctx, span := startGraphSpan(ctx, d.graph.Name(), d.depth, d.graph.NodeCount())
	defer span.End()

	d.stats.graphs++
	if d.depth > d.stats.maxDepth {
		d.stats.maxDepth = d.depth
	}

	for _, np := range passes {
		np.Pass.OnStartPassGraph(d.graph)
	}

	gs := newGraphState(d.graph.NodeCount() * d.cfg.SafetyMultiplier)
	d.seedFrontier(gs)

	err := d.converge(ctx, passes, gs, span)

	d.stats.processed += gs.processed
	d.stats.deleted += len(gs.deleted)
	recordGraphRun(ctx, d.depth, time.Since(start), gs.processed, err == nil)
	span.SetAttributes(
		attribute.Int("graph.nodes_processed", gs.processed),
		attribute.Int("graph.nodes_deleted", len(gs.deleted)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// seedFrontier enqueues source nodes and parks high fan-in nodes.
func (d *Driver) seedFrontier(gs *graphState) {
	for _, n := range d.graph.Nodes() {
		fanIn := n.FanIn()
		switch {
		case fanIn == 0:
			gs.pushBackIfNotSeen(n)
		case fanIn > d.cfg.LastNodeThreshold:
			gs.last[n] = struct{}{}
		}
	}
}

// converge runs macro-iterations until the frontier and suspension set are
// both empty or the safety bound stops the graph.
func (d *Driver) converge(ctx context.Context, passes []pass.NamedPass, gs *graphState, span trace.Span) error {
	for {
		if len(gs.suspended) > 0 {
			if err := d.resumeLeaked(ctx, passes, gs); err != nil {
				return err
			}
		}

		if err := d.drain(ctx, passes, gs); err != nil {
			return err
		}

		if len(gs.suspended) > 0 {
			if gs.boundReached() {
				break
			}
			continue
		}
		if !gs.empty() {
			break
		}

		if err := d.finishGraph(passes, gs); err != nil {
			return err
		}
		if gs.empty() || gs.boundReached() {
			break
		}
	}

	if gs.empty() && len(gs.suspended) == 0 {
		return nil
	}
	return d.boundOverrun(ctx, gs, span)
}

// boundOverrun reports a graph stopped by the safety bound.
func (d *Driver) boundOverrun(ctx context.Context, gs *graphState, span trace.Span) error {
	d.stats.boundOverruns++
	recordBoundOverrun(ctx, d.depth)
	span.AddEvent("safety_bound_reached", trace.WithAttributes(
		attribute.Int("processed", gs.processed),
		attribute.Int("bound", gs.bound),
		attribute.Int("queued", gs.queueLen()),
		attribute.Int("suspended", len(gs.suspended)),
	))
	d.logger.Warn("safety bound reached with pending work, a pass may be cycling",
		slog.String("graph", d.graph.Name()),
		slog.Int("depth", d.depth),
		slog.Int("processed", gs.processed),
		slog.Int("bound", gs.bound),
		slog.Int("queued", gs.queueLen()),
		slog.Int("suspended", len(gs.suspended)),
	)
	if d.cfg.StrictSafetyBound {
		return fmt.Errorf("%w: graph %q processed %d nodes (bound %d)",
			ErrSafetyBoundExceeded, d.graph.Name(), gs.processed, gs.bound)
	}
	return nil
}

// drain runs one macro-iteration: move repass and carrier nodes into the
// frontier and process until it is empty, the bound is hit, or no repass
// work remains.
func (d *Driver) drain(ctx context.Context, passes []pass.NamedPass, gs *graphState) error {
	rs := newRepassState()
	for {
		d.flushCarrier(gs)
		for _, n := range rs.nodes() {
			if gs.deleted.has(n) || gs.suspended.has(n) {
				continue
			}
			gs.pushBack(n)
		}
		rs.clear()

		for !gs.empty() && !gs.boundReached() {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("graph %q: %w", d.graph.Name(), err)
			}
			n, _ := gs.popFront()
			if gs.deleted.has(n) || gs.suspended.has(n) {
				continue
			}
			if n.Owner() != d.graph {
				d.logger.Debug("skipping node no longer in graph",
					slog.String("graph", d.graph.Name()),
					slog.String("node", n.String()),
				)
				continue
			}
			if err := d.processNode(ctx, passes, gs, rs, n); err != nil {
				return err
			}
			d.flushCarrier(gs)
		}

		d.releaseLast(gs)

		if gs.boundReached() {
			// Keep pending repasses visible as unfinished work.
			for _, n := range rs.nodes() {
				if !gs.deleted.has(n) && !gs.suspended.has(n) {
					gs.pushBack(n)
				}
			}
			return nil
		}
		if gs.empty() && rs.empty() && (!d.isTop() || d.carrier.empty()) {
			return nil
		}
	}
}

// flushCarrier moves global repass requests to the front of the top-level
// frontier. Nested invocations leave the carrier alone.
func (d *Driver) flushCarrier(gs *graphState) {
	if !d.isTop() {
		return
	}
	nodes := d.carrier.take()
	for i := len(nodes) - 1; i >= 0; i-- {
		anc, ok := d.graph.AncestorIn(nodes[i])
		if !ok {
			d.logger.Debug("dropping global repass for node outside graph",
				slog.String("graph", d.graph.Name()),
				slog.String("node", nodes[i].String()),
			)
			continue
		}
		if gs.deleted.has(anc) || gs.suspended.has(anc) {
			continue
		}
		gs.pushFront(anc)
	}
}

// releaseLast appends parked high fan-in nodes whose producers are all seen.
func (d *Driver) releaseLast(gs *graphState) {
	for _, n := range gs.last.sorted() {
		if gs.deleted.has(n) {
			delete(gs.last, n)
			continue
		}
		if !gs.allInputsSeen(n) || gs.suspended.has(n) || gs.anyInputSuspended(n) {
			continue
		}
		delete(gs.last, n)
		gs.pushBackIfNotSeen(n)
	}
}

// processNode runs every pass on n, recurses into its subgraphs and
// discovers its successors.
func (d *Driver) processNode(ctx context.Context, passes []pass.NamedPass, gs *graphState, rs *repassState, n *graph.Node) error {
	gs.processed++
	gs.seen[n] = struct{}{}
	before := n.OutNodes()

	deleted, err := d.runPasses(ctx, passes, gs, rs, n)
	if err != nil {
		return err
	}
	gs.passed[n] = struct{}{}

	if !deleted && len(n.SubgraphNames()) > 0 {
		optimized, err := d.runSubgraphs(ctx, passes, n)
		if err != nil {
			return err
		}
		if optimized {
			if err := d.rerunAfterSubgraphs(ctx, passes, gs, rs, n); err != nil {
				return err
			}
		}
	}

	d.enqueueSuccessors(gs, n, before)
	return nil
}

// runPasses runs each pass on n in order and applies its effects. It
// reports whether n was deleted, which stops the remaining passes.
func (d *Driver) runPasses(ctx context.Context, passes []pass.NamedPass, gs *graphState, rs *repassState, n *graph.Node) (bool, error) {
	for _, np := range passes {
		np.Pass.Init()
		start := time.Now()
		err := np.Pass.Run(ctx, n)
		recordPassRun(ctx, np.Name, time.Since(start), err)
		if err != nil {
			return false, &PassError{
				PassName: np.Name,
				Hook:     HookRun,
				Graph:    d.graph.Name(),
				NodeName: n.Name(),
				NodeID:   n.ID(),
				Err:      err,
			}
		}
		d.applyEffects(np, gs, rs)
		if gs.deleted.has(n) {
			d.logger.Debug("node deleted, skipping remaining passes",
				slog.String("pass", np.Name),
				slog.String("node", n.String()),
			)
			return true, nil
		}
	}
	return false, nil
}

// applyEffects folds the effect buffers of one pass run into the state.
func (d *Driver) applyEffects(np pass.NamedPass, gs *graphState, rs *repassState) {
	p := np.Pass

	for _, n := range p.NodesDeleted() {
		gs.markDeleted(n)
		rs.erase(n)
	}

	for _, n := range p.NodesSuspend() {
		if gs.deleted.has(n) {
			continue
		}
		gs.suspended[n] = struct{}{}
		rs.erase(n)
	}

	d.admitResumed(gs, rs, d.lift(gs, p.NodesResume()))

	immediate := p.NodesNeedRePassImmediately()
	keys := sortedLabelKeys(immediate)
	for i := len(keys) - 1; i >= 0; i-- {
		n := keys[i]
		if gs.deleted.has(n) || gs.suspended.has(n) || n.Owner() != d.graph {
			continue
		}
		d.logger.Debug("immediate repass",
			slog.String("pass", np.Name),
			slog.String("node", n.String()),
			slog.String("label", immediate[n]),
		)
		gs.pushFront(n)
	}

	for _, n := range p.NodesNeedRePass() {
		if gs.deleted.has(n) || n.Owner() != d.graph {
			continue
		}
		if gs.seen.has(n) || gs.allInputsSeen(n) {
			rs.add(n)
			continue
		}
		d.logger.Debug("dropping repass for node with unseen producers",
			slog.String("pass", np.Name),
			slog.String("node", n.String()),
		)
	}

	for _, n := range p.GlobalNodesNeedRePassImmediately() {
		d.carrier.add(n)
	}
}

// lift removes the resumed nodes from the suspended set and returns those
// that still belong to this graph, in ID order.
func (d *Driver) lift(gs *graphState, resume map[*graph.Node]string) []*graph.Node {
	var lifted []*graph.Node
	for _, n := range sortedLabelKeys(resume) {
		if !gs.suspended.has(n) {
			continue
		}
		delete(gs.suspended, n)
		if gs.deleted.has(n) || n.Owner() != d.graph {
			continue
		}
		d.logger.Debug("node resumed",
			slog.String("node", n.String()),
			slog.String("label", resume[n]),
		)
		lifted = append(lifted, n)
	}
	return lifted
}

// admitResumed places lifted nodes once the whole batch is out of the
// suspended set. A ready node goes back to the frontier even if it was seen
// before. A seen node that is not ready waits in the repass set, or goes to
// the frontier directly when there is no macro-iteration to flush it.
func (d *Driver) admitResumed(gs *graphState, rs *repassState, lifted []*graph.Node) {
	for _, n := range lifted {
		switch {
		case gs.ready(n):
			gs.pushBack(n)
		case gs.seen.has(n) && rs != nil:
			rs.add(n)
		case gs.seen.has(n):
			gs.pushBack(n)
		}
	}
}

// runSubgraphs optimizes every subgraph n owns with a nested invocation.
func (d *Driver) runSubgraphs(ctx context.Context, passes []pass.NamedPass, n *graph.Node) (bool, error) {
	optimized := false
	for _, name := range n.SubgraphNames() {
		sub := d.graph.GetSubgraph(name)
		if sub == nil {
			return optimized, fmt.Errorf("%w: %q owned by %s", ErrSubgraphNotFound, name, n)
		}
		d.logger.Debug("entering subgraph",
			slog.String("node", n.String()),
			slog.String("subgraph", name),
			slog.Int("depth", d.depth+1),
		)
		if err := d.child(sub).runGraph(ctx, passes); err != nil {
			return optimized, fmt.Errorf("subgraph %q of %s: %w", name, n, err)
		}
		optimized = true
	}
	return optimized, nil
}

// rerunAfterSubgraphs gives passes a second look at n once its subgraphs
// have converged.
func (d *Driver) rerunAfterSubgraphs(ctx context.Context, passes []pass.NamedPass, gs *graphState, rs *repassState, n *graph.Node) error {
	for _, np := range passes {
		np.Pass.OnStartPassGraph(d.graph)
		np.Pass.SetOption(pass.OptionOptimizeAfterSubgraph, "true")
	}
	defer func() {
		for _, np := range passes {
			np.Pass.ClearOptions()
		}
	}()
	_, err := d.runPasses(ctx, passes, gs, rs, n)
	return err
}

// enqueueSuccessors pushes successors of n that became ready. Consumers
// that n dropped during the passes are considered when they are left with
// no producers at all.
func (d *Driver) enqueueSuccessors(gs *graphState, n *graph.Node, before []*graph.Node) {
	current := n.OutNodes()
	kept := make(nodeSet, len(current))
	for _, s := range current {
		kept[s] = struct{}{}
		if s.Owner() == d.graph && !gs.seen.has(s) && gs.ready(s) {
			gs.pushBack(s)
		}
	}
	for _, s := range before {
		if kept.has(s) || s.Owner() != d.graph {
			continue
		}
		if len(s.InNodes()) == 0 && !gs.seen.has(s) && gs.ready(s) {
			gs.pushBack(s)
		}
	}
}

// resumeLeaked asks every pass to resume what it suspended once the
// frontier has drained with suspensions outstanding.
func (d *Driver) resumeLeaked(ctx context.Context, passes []pass.NamedPass, gs *graphState) error {
	recordLeakedSuspension(ctx, d.depth)
	d.logger.Info("frontier drained with suspended nodes, requesting resume",
		slog.String("graph", d.graph.Name()),
		slog.Int("suspended", len(gs.suspended)),
	)
	var lifted []*graph.Node
	for _, np := range passes {
		np.Pass.Init()
		if err := np.Pass.OnSuspendNodesLeaked(); err != nil {
			return &PassError{
				PassName: np.Name,
				Hook:     HookOnSuspendNodesLeaked,
				Graph:    d.graph.Name(),
				Err:      err,
			}
		}
		lifted = append(lifted, d.lift(gs, np.Pass.NodesResume())...)
	}
	graph.SortByID(lifted)
	d.admitResumed(gs, nil, lifted)

	if gs.empty() && len(gs.suspended) > 0 {
		names := make([]string, 0, len(gs.suspended))
		for _, n := range gs.suspended.sorted() {
			names = append(names, n.String())
		}
		return fmt.Errorf("%w: graph %q: %s",
			ErrSuspendedNodesLeaked, d.graph.Name(), strings.Join(names, ", "))
	}
	return nil
}

// finishGraph runs the OnFinishGraph hooks and enqueues the nodes they
// return, mapped to their ancestors in this graph.
func (d *Driver) finishGraph(passes []pass.NamedPass, gs *graphState) error {
	hooks := passes
	if d.isTop() && len(d.afterGraph) > 0 {
		hooks = make([]pass.NamedPass, 0, len(passes)+len(d.afterGraph))
		hooks = append(hooks, passes...)
		hooks = append(hooks, d.afterGraph...)
	}
	for _, np := range hooks {
		nodes, err := np.Pass.OnFinishGraph(d.graph)
		if err != nil {
			return &PassError{
				PassName: np.Name,
				Hook:     HookOnFinishGraph,
				Graph:    d.graph.Name(),
				Err:      err,
			}
		}
		for _, n := range nodes {
			anc, ok := d.graph.AncestorIn(n)
			if !ok || gs.deleted.has(anc) || gs.suspended.has(anc) {
				continue
			}
			gs.pushBack(anc)
		}
	}
	return nil
}

func sortedLabelKeys(m map[*graph.Node]string) []*graph.Node {
	out := make([]*graph.Node, 0, len(m))
	for n := range m {
		if n != nil {
			out = append(out, n)
		}
	}
	graph.SortByID(out)
	return out
}

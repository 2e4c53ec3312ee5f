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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for driver operations.
var (
	tracer = otel.Tracer("graphopt.driver")
	meter  = otel.Meter("graphopt.driver")
)

// Metrics for pass scheduling.
var (
	graphRunLatency  metric.Float64Histogram
	nodesProcessed   metric.Int64Counter
	passLatency      metric.Float64Histogram
	passFailures     metric.Int64Counter
	boundOverruns    metric.Int64Counter
	leakedSuspension metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		graphRunLatency, err = meter.Float64Histogram(
			"driver_graph_run_duration_seconds",
			metric.WithDescription("Duration of one driver invocation on a graph"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesProcessed, err = meter.Int64Counter(
			"driver_nodes_processed_total",
			metric.WithDescription("Nodes popped from the frontier and run through the pass list"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passLatency, err = meter.Float64Histogram(
			"driver_pass_duration_seconds",
			metric.WithDescription("Duration of a single pass run on a single node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passFailures, err = meter.Int64Counter(
			"driver_pass_failures_total",
			metric.WithDescription("Pass invocations that returned an error"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		boundOverruns, err = meter.Int64Counter(
			"driver_safety_bound_overruns_total",
			metric.WithDescription("Graph invocations stopped by the processed-node safety bound"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		leakedSuspension, err = meter.Int64Counter(
			"driver_leaked_suspensions_total",
			metric.WithDescription("Times the frontier drained while nodes were still suspended"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordGraphRun(ctx context.Context, depth int, duration time.Duration, processed int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Int("depth", depth),
		attribute.Bool("success", success),
	)
	graphRunLatency.Record(ctx, duration.Seconds(), attrs)
	nodesProcessed.Add(ctx, int64(processed), metric.WithAttributes(attribute.Int("depth", depth)))
}

func recordPassRun(ctx context.Context, passName string, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("pass", passName))
	passLatency.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		passFailures.Add(ctx, 1, attrs)
	}
}

func recordBoundOverrun(ctx context.Context, depth int) {
	if initMetrics() != nil {
		return
	}
	boundOverruns.Add(ctx, 1, metric.WithAttributes(attribute.Int("depth", depth)))
}

func recordLeakedSuspension(ctx context.Context, depth int) {
	if initMetrics() != nil {
		return
	}
	leakedSuspension.Add(ctx, 1, metric.WithAttributes(attribute.Int("depth", depth)))
}

// startGraphSpan creates a span for one invocation on one graph.
func startGraphSpan(ctx context.Context, graphName string, depth, nodeCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Driver.RunGraph",
		trace.WithAttributes(
			attribute.String("graph.name", graphName),
			attribute.Int("graph.depth", depth),
			attribute.Int("graph.node_count", nodeCount),
		),
	)
}

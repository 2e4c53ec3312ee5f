// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner optimizes graph description files with a configured pass
// pipeline.
//
// Each file gets its own graph, its own pass instances and its own driver,
// so files can be optimized concurrently while every driver stays
// single-threaded.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/graphopt/services/optimizer/driver"
	"github.com/AleutianAI/graphopt/services/optimizer/graph"
	"github.com/AleutianAI/graphopt/services/optimizer/graphspec"
	"github.com/AleutianAI/graphopt/services/optimizer/passes"
)

// ErrNoFiles is returned by RunFiles when called without paths.
var ErrNoFiles = errors.New("no graph files given")

// ReportSaver persists run reports.
type ReportSaver interface {
	Save(ctx context.Context, report *driver.Report) error
}

// Options configures a Runner.
type Options struct {
	// Driver configures every driver the runner creates.
	Driver driver.Config

	// Passes lists pass names in execution order.
	Passes []string

	// Registry resolves pass names. Defaults to passes.DefaultRegistry.
	Registry *passes.Registry

	// OutDir receives "<name>.opt.yaml" for each optimized file. Empty
	// skips writing.
	OutDir string

	// Reports stores every report when non-nil.
	Reports ReportSaver

	// Concurrency bounds how many files run at once. Zero means one per
	// file.
	Concurrency int

	Logger *slog.Logger
}

// Result is the outcome for one file.
type Result struct {
	Path   string
	Output string
	Report *driver.Report
	Err    error
}

// Runner optimizes graph files.
//
// # Thread Safety
//
// RunFile and RunFiles may be called concurrently.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Registry == nil {
		opts.Registry = passes.DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be >= 0, got %d", opts.Concurrency)
	}
	if err := opts.Driver.Validate(); err != nil {
		return nil, err
	}
	// Resolve names once so a typo fails before any file is read.
	if _, err := opts.Registry.Build(opts.Passes, opts.Logger); err != nil {
		return nil, err
	}
	return &Runner{opts: opts, logger: opts.Logger.With(slog.String("component", "runner"))}, nil
}

// RunFile optimizes a single file.
//
// Description:
//
//	Loads and builds the graph, runs fresh pass instances over it, writes
//	the optimized description when OutDir is set and saves the report when
//	a ReportSaver is configured. A failed driver run still saves its report.
//
// Inputs:
//
//	ctx - Cancels the driver between nodes.
//	path - The graph description file.
//
// Outputs:
//
//	*Result - Always non-nil; Err mirrors the returned error.
//	error - Load, build, driver, write or save failure.
func (r *Runner) RunFile(ctx context.Context, path string) (*Result, error) {
	res := &Result{Path: path}
	res.Err = r.runFile(ctx, path, res)
	return res, res.Err
}

func (r *Runner) runFile(ctx context.Context, path string, res *Result) error {
	spec, err := graphspec.Load(path)
	if err != nil {
		return err
	}
	g, err := spec.Build()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	pipeline, err := r.opts.Registry.Build(r.opts.Passes, r.logger)
	if err != nil {
		return err
	}
	d, err := driver.New(g, r.opts.Driver, r.logger.With(slog.String("file", path)))
	if err != nil {
		return err
	}

	report, runErr := d.Run(ctx, pipeline)
	res.Report = report

	if report != nil && r.opts.Reports != nil {
		if err := r.opts.Reports.Save(ctx, report); err != nil {
			r.logger.Warn("failed to save run report",
				slog.String("file", path),
				slog.String("run_id", report.RunID),
				slog.String("error", err.Error()),
			)
			if runErr == nil {
				return fmt.Errorf("save report: %w", err)
			}
		}
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", path, runErr)
	}

	if r.opts.OutDir != "" {
		out, err := r.writeOutput(path, g)
		if err != nil {
			return err
		}
		res.Output = out
	}

	r.logger.Info("graph optimized",
		slog.String("file", path),
		slog.String("run_id", report.RunID),
		slog.Int("nodes_processed", report.NodesProcessed),
		slog.Int("nodes_deleted", report.NodesDeleted),
		slog.Duration("duration", report.Duration),
	)
	return nil
}

func (r *Runner) writeOutput(path string, g *graph.Graph) (string, error) {
	spec := graphspec.FromGraph(g)
	data, err := spec.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(r.opts.OutDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	out := filepath.Join(r.opts.OutDir, OutputName(path))
	if err := os.WriteFile(out, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

// OutputName maps "dir/model.yaml" to "model.opt.yaml".
func OutputName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".opt" + ext
}

// RunFiles optimizes paths concurrently.
//
// Every file is attempted even when others fail. Results are returned in
// the order of paths and the error joins every per-file failure in the
// same order.
func (r *Runner) RunFiles(ctx context.Context, paths []string) ([]*Result, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}

	results := make([]*Result, len(paths))
	errs := make([]error, len(paths))

	g, gCtx := errgroup.WithContext(ctx)
	if r.opts.Concurrency > 0 {
		g.SetLimit(r.opts.Concurrency)
	}
	for i, path := range paths {
		g.Go(func() error {
			results[i], errs[i] = r.RunFile(gCtx, path)
			// Per-file failures must not cancel the other files.
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/graphopt/services/optimizer/passes"
	"github.com/AleutianAI/graphopt/services/optimizer/runner"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runOutDir      string
	runConcurrency int
	runNoReports   bool
	runMetricsAddr string
	runPasses      []string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// runCmd optimizes one or more graph files.
var runCmd = &cobra.Command{
	Use:   "run GRAPH.yaml...",
	Short: "Optimize graph description files",
	Long: `Optimize each graph description with the configured pass pipeline.

Files are optimized concurrently, each with its own driver and pass
instances. A failure in one file does not stop the others; the command
exits non-zero if any file failed.

Examples:
  graphopt run model.yaml
  graphopt run graphs/*.yaml --out optimized/
  graphopt run model.yaml --passes identity-elimination,hold --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOptimize,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", "",
		"Write optimized graphs to this directory as NAME.opt.yaml")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0,
		"Maximum files optimized at once (0 = all)")
	runCmd.Flags().BoolVar(&runNoReports, "no-reports", false,
		"Do not store run reports")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while running")
	runCmd.Flags().StringSliceVar(&runPasses, "passes", nil,
		"Override the configured pass pipeline")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := app.startTelemetry(ctx, runMetricsAddr); err != nil {
		return err
	}
	r, err := newRunner(runOutDir, runConcurrency, runNoReports)
	if err != nil {
		return err
	}

	results, runErr := r.RunFiles(ctx, args)
	if err := printResults(cmd.OutOrStdout(), results, jsonOutput); err != nil {
		return err
	}
	return runErr
}

// newRunner builds a runner from the loaded config and the shared flags.
func newRunner(outDir string, concurrency int, noReports bool) (*runner.Runner, error) {
	pipeline := app.cfg.Passes
	if len(runPasses) > 0 {
		pipeline = runPasses
	}
	opts := runner.Options{
		Driver:      app.cfg.Driver,
		Passes:      pipeline,
		Registry:    passes.DefaultRegistry(),
		OutDir:      outDir,
		Concurrency: concurrency,
		Logger:      app.logger.Slog(),
	}
	if !noReports {
		store, err := app.openReports(false)
		if err != nil {
			return nil, err
		}
		if store != nil {
			opts.Reports = store
		}
	}
	return runner.New(opts)
}

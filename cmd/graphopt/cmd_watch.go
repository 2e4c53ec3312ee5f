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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/graphopt/services/optimizer/watch"
)

var (
	watchOutDir   string
	watchDebounce = watch.DefaultDebounce
)

// watchCmd re-optimizes graph files whenever they change.
var watchCmd = &cobra.Command{
	Use:   "watch GRAPH.yaml...",
	Short: "Re-optimize graph files when they change",
	Long: `Optimize the given files once, then again every time one of them is
written. Runs until interrupted.

Examples:
  graphopt watch model.yaml --out optimized/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutDir, "out", "o", "",
		"Write optimized graphs to this directory as NAME.opt.yaml")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce,
		"Quiet period after a change before optimizing")
	watchCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while watching")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := app.startTelemetry(ctx, runMetricsAddr); err != nil {
		return err
	}
	r, err := newRunner(watchOutDir, 0, false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	optimize := func(ctx context.Context, paths []string) {
		results, err := r.RunFiles(ctx, paths)
		if perr := printResults(out, results, jsonOutput); perr != nil {
			app.logger.Error("failed to print results", slog.String("error", perr.Error()))
		}
		if err != nil && ctx.Err() == nil {
			app.logger.Warn("optimization failed", slog.String("error", err.Error()))
		}
	}

	w, err := watch.New(args, optimize, &watch.Options{
		Debounce: watchDebounce,
		Logger:   app.logger.Slog(),
	})
	if err != nil {
		return err
	}
	app.onClose(func(context.Context) error { return w.Close() })

	optimize(ctx, w.Files())
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d file(s), press Ctrl+C to stop\n", len(w.Files()))

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

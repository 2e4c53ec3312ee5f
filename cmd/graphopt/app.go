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
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/graphopt/pkg/logging"
	"github.com/AleutianAI/graphopt/services/optimizer/config"
	"github.com/AleutianAI/graphopt/services/optimizer/reportstore"
	"github.com/AleutianAI/graphopt/services/optimizer/telemetry"
)

// errReportsDisabled is returned by commands that need the report store
// when the config turns it off.
var errReportsDisabled = errors.New("report storage is disabled in the config")

// appEnv is the state shared by every command for one invocation.
type appEnv struct {
	cfg        config.Config
	configPath string
	logger     *logging.Logger
	cleanups   []func(context.Context) error
}

var app *appEnv

// setupApp loads the config and creates the logger.
func setupApp(cmd *cobra.Command, _ []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		cfg.Logging.Level = level
	}
	if cfg.Logging.Output == nil {
		cfg.Logging.Output = cmd.ErrOrStderr()
	}

	logger := logging.New(cfg.Logging)
	app = &appEnv{cfg: cfg, configPath: path, logger: logger}
	app.onClose(func(context.Context) error { return logger.Close() })
	logger.Debug("configuration loaded",
		slog.String("path", path),
		slog.Any("passes", cfg.Passes),
	)
	return nil
}

// execute runs the root command and then the cleanups registered during
// the invocation, whether or not the command failed.
func execute(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, teardownApp(ctx))
}

// teardownApp runs cleanups in reverse registration order.
func teardownApp(parent context.Context) error {
	if app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(app.cleanups) - 1; i >= 0; i-- {
		if err := app.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app = nil
	return errors.Join(errs...)
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

func (a *appEnv) onClose(f func(context.Context) error) {
	a.cleanups = append(a.cleanups, f)
}

// startTelemetry installs the OTel providers for commands that run the
// driver. When metricsAddr is set, /metrics is served there.
func (a *appEnv) startTelemetry(ctx context.Context, metricsAddr string) error {
	shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.onClose(shutdown)

	if metricsAddr == "" {
		return nil
	}
	handler := telemetry.MetricsHandler()
	if handler == nil {
		return fmt.Errorf("--metrics-addr needs the prometheus metric exporter, config has %q",
			a.cfg.Telemetry.MetricExporter)
	}
	ln, err := net.Listen("tcp", metricsAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", metricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	a.onClose(srv.Shutdown)

	// The store's counters join the default registry, which the handler
	// also gathers.
	a.cfg.Reports.Registerer = prometheus.DefaultRegisterer
	return nil
}

// openReports opens the report store, or returns nil when disabled and
// required is false.
func (a *appEnv) openReports(required bool) (*reportstore.Store, error) {
	if !a.cfg.Reports.Enabled {
		if required {
			return nil, errReportsDisabled
		}
		return nil, nil
	}
	storeCfg := a.cfg.Reports.Config
	storeCfg.Logger = a.logger.Slog()
	store, err := reportstore.Open(storeCfg)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return store.Close() })
	return store, nil
}

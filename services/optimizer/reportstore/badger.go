// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reportstore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type storeMetrics struct {
	saved    prometheus.Counter
	deleted  prometheus.Counter
	bytes    prometheus.Counter
	failures *prometheus.CounterVec
	gcRuns   *prometheus.CounterVec
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	f := promauto.With(reg)
	return &storeMetrics{
		saved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graphopt",
			Subsystem: "reportstore",
			Name:      "reports_saved_total",
			Help:      "Reports written to the store.",
		}),
		deleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graphopt",
			Subsystem: "reportstore",
			Name:      "reports_deleted_total",
			Help:      "Reports removed from the store.",
		}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graphopt",
			Subsystem: "reportstore",
			Name:      "bytes_written_total",
			Help:      "Encoded report bytes written.",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphopt",
			Subsystem: "reportstore",
			Name:      "failures_total",
			Help:      "Store operations that failed, by operation.",
		}, []string{"op"}),
		gcRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphopt",
			Subsystem: "reportstore",
			Name:      "value_log_gc_total",
			Help:      "Value log GC attempts, by result.",
		}, []string{"result"}),
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// gcRunner runs periodic value log GC.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	onResult func(result string)
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

// collect runs one GC pass and reports "rewritten", "skipped" or "error".
func (r *gcRunner) collect() string {
	err := r.db.RunValueLogGC(r.ratio)
	result := "rewritten"
	switch {
	case err == nil:
		r.logger.Debug("value log GC completed")
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
		result = "skipped"
	default:
		result = "error"
		r.logger.Warn("value log GC error", slog.String("error", err.Error()))
	}
	if r.onResult != nil {
		r.onResult(result)
	}
	return result
}

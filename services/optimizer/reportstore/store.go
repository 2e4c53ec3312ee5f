// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reportstore persists optimization run reports in BadgerDB.
//
// Each report is stored under its run ID with a time index for listing the
// most recent runs first. Reports can be given a TTL so old runs expire
// without a cleanup job.
package reportstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/graphopt/services/optimizer/driver"
	"github.com/AleutianAI/graphopt/services/optimizer/telemetry"
)

const tracerName = "graphopt.reportstore"

var (
	// ErrNotFound is returned when no report exists for a run ID.
	ErrNotFound = errors.New("report not found")

	// ErrInvalidRunID is returned for run IDs that are not UUIDs.
	ErrInvalidRunID = errors.New("invalid run id")

	// ErrNilReport is returned when Save is called without a report.
	ErrNilReport = errors.New("report must not be nil")

	// ErrInvalidConfig is returned when Config fails validation.
	ErrInvalidConfig = errors.New("invalid report store config")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("report store closed")
)

var configValidate = validator.New()

// Config holds configuration for the report store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string `yaml:"path" validate:"required_without=InMemory"`

	// InMemory keeps reports in memory only.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `yaml:"sync_writes"`

	// TTL expires reports after this long. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`

	// GCInterval is how often to run value log GC. Zero disables.
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`

	// GCDiscardRatio is the garbage ratio that triggers a value log rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" validate:"gte=0,lte=1"`

	// Logger receives BadgerDB and store logs. Nil disables them.
	Logger *slog.Logger `yaml:"-"`

	// Registerer receives the store's Prometheus counters. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer `yaml:"-"`
}

// DefaultConfig returns durable defaults rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Validate checks the config.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Store persists driver reports.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db      *badger.DB
	gc      *gcRunner
	ttl     time.Duration
	logger  *slog.Logger
	metrics *storeMetrics
}

// Open opens or creates a report store.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close().
//	error - ErrInvalidConfig or a BadgerDB open failure.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create report directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		logger = logger.With(slog.String("component", "reportstore"))
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{
		db:      db,
		ttl:     cfg.TTL,
		logger:  logger,
		metrics: newStoreMetrics(cfg.Registerer),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.onResult = func(result string) {
			s.metrics.gcRuns.WithLabelValues(result).Inc()
		}
		s.gc.start()
	}
	return s, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
		s.gc = nil
	}
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte("run/" + id)
}

func indexKey(started time.Time, id string) []byte {
	return []byte(fmt.Sprintf("idx/%020d/%s", started.UnixNano(), id))
}

const indexPrefix = "idx/"

// Save stores report under its run ID.
//
// Outputs:
//
//	error - ErrNilReport, ErrInvalidRunID, ErrClosed or a write failure.
func (s *Store) Save(ctx context.Context, report *driver.Report) (err error) {
	if report == nil {
		return ErrNilReport
	}
	if _, perr := uuid.Parse(report.RunID); perr != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, report.RunID)
	}
	if s.db.IsClosed() {
		return ErrClosed
	}

	_, span := telemetry.StartSpan(ctx, tracerName, "Store.Save",
		trace.WithAttributes(
			attribute.String("run.id", report.RunID),
			attribute.String("graph.name", report.Graph),
		),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entries := []*badger.Entry{
			badger.NewEntry(runKey(report.RunID), data),
			badger.NewEntry(indexKey(report.StartedAt, report.RunID), []byte(report.RunID)),
		}
		for _, e := range entries {
			if s.ttl > 0 {
				e = e.WithTTL(s.ttl)
			}
			if err := txn.SetEntry(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.failures.WithLabelValues("save").Inc()
		return fmt.Errorf("save report %s: %w", report.RunID, err)
	}

	s.metrics.saved.Inc()
	s.metrics.bytes.Add(float64(len(data)))
	s.logger.Debug("report saved",
		slog.String("run_id", report.RunID),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Get loads the report for runID.
//
// Outputs:
//
//	*driver.Report - The stored report.
//	error - ErrInvalidRunID, ErrNotFound, ErrClosed or a read failure.
func (s *Store) Get(ctx context.Context, runID string) (*driver.Report, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	if s.db.IsClosed() {
		return nil, ErrClosed
	}

	_, span := telemetry.StartSpan(ctx, tracerName, "Store.Get",
		trace.WithAttributes(attribute.String("run.id", runID)),
	)
	defer span.End()

	var report driver.Report
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &report)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		s.metrics.failures.WithLabelValues("get").Inc()
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load report %s: %w", runID, err)
	}
	return &report, nil
}

// List returns up to limit reports, newest first. A limit of zero or less
// returns every report.
func (s *Store) List(ctx context.Context, limit int) ([]*driver.Report, error) {
	if s.db.IsClosed() {
		return nil, ErrClosed
	}

	_, span := telemetry.StartSpan(ctx, tracerName, "Store.List",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	var out []*driver.Report
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key with the prefix.
		seek := append([]byte(indexPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(runKey(string(id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var report driver.Report
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &report)
			}); err != nil {
				return fmt.Errorf("decode report %s: %w", id, err)
			}
			out = append(out, &report)
		}
		return nil
	})
	if err != nil {
		s.metrics.failures.WithLabelValues("list").Inc()
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("reports", len(out)))
	return out, nil
}

// Delete removes the report for runID. Deleting a missing report returns
// ErrNotFound.
func (s *Store) Delete(ctx context.Context, runID string) error {
	report, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(runKey(runID)); err != nil {
			return err
		}
		return txn.Delete(indexKey(report.StartedAt, runID))
	})
	if err != nil {
		s.metrics.failures.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete report %s: %w", runID, err)
	}
	s.metrics.deleted.Inc()
	return nil
}

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
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/graphopt/services/optimizer/driver"
)

func openInMemory(t *testing.T) (*Store, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := InMemoryConfig()
	cfg.Registerer = reg
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, reg
}

func newReport(graph string, started time.Time) *driver.Report {
	return &driver.Report{
		RunID:          uuid.NewString(),
		Graph:          graph,
		Passes:         []string{"identity"},
		StartedAt:      started,
		Duration:       3 * time.Millisecond,
		NodesProcessed: 7,
		Success:        true,
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, InMemoryConfig().Validate())
	assert.NoError(t, DefaultConfig("/tmp/reports").Validate())
	assert.ErrorIs(t, Config{}.Validate(), ErrInvalidConfig, "path required on disk")

	bad := InMemoryConfig()
	bad.GCDiscardRatio = 1.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestStore_SaveAndGet(t *testing.T) {
	s, reg := openInMemory(t)
	ctx := context.Background()
	r := newReport("main", time.Now())

	require.NoError(t, s.Save(ctx, r))

	got, err := s.Get(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, got.RunID)
	assert.Equal(t, "main", got.Graph)
	assert.Equal(t, 7, got.NodesProcessed)
	assert.Equal(t, r.Duration, got.Duration)
	assert.True(t, got.StartedAt.Equal(r.StartedAt))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.saved))
	n, err := testutil.GatherAndCount(reg, "graphopt_reportstore_reports_saved_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_Errors(t *testing.T) {
	s, _ := openInMemory(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Save(ctx, nil), ErrNilReport)

	r := newReport("main", time.Now())
	r.RunID = "not-a-uuid"
	assert.ErrorIs(t, s.Save(ctx, r), ErrInvalidRunID)

	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidRunID)

	_, err = s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, uuid.NewString()), ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s, _ := openInMemory(t)
	ctx := context.Background()
	base := time.Now()

	var ids []string
	for i := 0; i < 4; i++ {
		r := newReport("g", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.Save(ctx, r))
		ids = append(ids, r.RunID)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].RunID)
	assert.Equal(t, ids[0], all[3].RunID)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, ids[3], two[0].RunID)
	assert.Equal(t, ids[2], two[1].RunID)
}

func TestStore_Delete(t *testing.T) {
	s, _ := openInMemory(t)
	ctx := context.Background()
	r := newReport("g", time.Now())
	require.NoError(t, s.Save(ctx, r))

	require.NoError(t, s.Delete(ctx, r.RunID))
	_, err := s.Get(ctx, r.RunID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.deleted))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0
	ctx := context.Background()

	s, err := Open(cfg)
	require.NoError(t, err)
	r := newReport("persisted", time.Now())
	require.NoError(t, s.Save(ctx, r))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Graph)
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.Save(ctx, newReport("g", time.Now())), ErrClosed)
	_, err = s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.List(ctx, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGCRunner_Collect(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.GCInterval = time.Hour
	cfg.Registerer = prometheus.NewRegistry()
	cfg.Logger = slog.New(slog.DiscardHandler)

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	require.NotNil(t, s.gc)

	assert.Equal(t, "skipped", s.gc.collect())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.gcRuns.WithLabelValues("skipped")))
}

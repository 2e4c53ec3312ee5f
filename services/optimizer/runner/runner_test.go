// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/graphopt/services/optimizer/driver"
	"github.com/AleutianAI/graphopt/services/optimizer/graph"
	"github.com/AleutianAI/graphopt/services/optimizer/graphspec"
	"github.com/AleutianAI/graphopt/services/optimizer/pass"
	"github.com/AleutianAI/graphopt/services/optimizer/passes"
	"github.com/AleutianAI/graphopt/services/optimizer/reportstore"
)

const chainDoc = `name: chain
nodes:
  - {name: x, op: Data}
  - {name: id, op: Identity, inputs: [x]}
  - {name: dead, op: NoOp, inputs: [x]}
  - {name: y, op: Sink, inputs: [id]}
`

type memSaver struct {
	mu      sync.Mutex
	reports []*driver.Report
	err     error
}

func (m *memSaver) Save(_ context.Context, r *driver.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func defaultOptions() Options {
	return Options{
		Driver: driver.DefaultConfig(),
		Passes: []string{passes.NameIdentityElimination, passes.NameDeadEndElimination},
		Logger: slog.New(slog.DiscardHandler),
	}
}

func TestNew(t *testing.T) {
	t.Run("unknown pass", func(t *testing.T) {
		opts := defaultOptions()
		opts.Passes = []string{"constant-folding"}
		_, err := New(opts)
		assert.ErrorIs(t, err, passes.ErrUnknownPass)
	})

	t.Run("invalid driver config", func(t *testing.T) {
		opts := defaultOptions()
		opts.Driver.SafetyMultiplier = 5000
		_, err := New(opts)
		assert.ErrorIs(t, err, driver.ErrInvalidConfig)
	})

	t.Run("negative concurrency", func(t *testing.T) {
		opts := defaultOptions()
		opts.Concurrency = -1
		_, err := New(opts)
		assert.Error(t, err)
	})
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "model.opt.yaml", OutputName("/tmp/graphs/model.yaml"))
	assert.Equal(t, "model.opt", OutputName("model"))
}

func TestRunFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chain.yaml", chainDoc)
	saver := &memSaver{}

	opts := defaultOptions()
	opts.OutDir = filepath.Join(dir, "out")
	opts.Reports = saver
	r, err := New(opts)
	require.NoError(t, err)

	res, err := r.RunFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Success)
	assert.Equal(t, 2, res.Report.NodesDeleted)
	assert.Equal(t, filepath.Join(dir, "out", "chain.opt.yaml"), res.Output)

	require.Len(t, saver.reports, 1)
	assert.Equal(t, res.Report.RunID, saver.reports[0].RunID)

	spec, err := graphspec.Load(res.Output)
	require.NoError(t, err)
	g, err := spec.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, g.NodeCount())
	y, ok := g.Node("y")
	require.True(t, ok)
	in, _ := y.Input(0)
	assert.Equal(t, "x", in.Node.Name())
}

func TestRunFile_Errors(t *testing.T) {
	dir := t.TempDir()
	r, err := New(defaultOptions())
	require.NoError(t, err)

	t.Run("missing file", func(t *testing.T) {
		res, err := r.RunFile(context.Background(), filepath.Join(dir, "missing.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Nil(t, res.Report)
		assert.Equal(t, err, res.Err)
	})

	t.Run("bad graph", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "name: bad\nnodes:\n  - {name: y, op: Sink, inputs: [nowhere]}\n")
		_, err := r.RunFile(context.Background(), path)
		assert.ErrorIs(t, err, graphspec.ErrUnknownNode)
	})
}

func TestRunFile_FailedRunStillSavesReport(t *testing.T) {
	registry := passes.NewRegistry()
	registry.MustRegister("boom", func(*slog.Logger) pass.Pass {
		return pass.NewFuncPass(func(context.Context, *pass.FuncPass, *graph.Node) error {
			return errors.New("boom")
		})
	})
	saver := &memSaver{}
	opts := defaultOptions()
	opts.Registry = registry
	opts.Passes = []string{"boom"}
	opts.Reports = saver
	opts.OutDir = t.TempDir()
	r, err := New(opts)
	require.NoError(t, err)

	path := writeFile(t, t.TempDir(), "chain.yaml", chainDoc)
	res, err := r.RunFile(context.Background(), path)

	assert.ErrorIs(t, err, driver.ErrPassFailed)
	require.Len(t, saver.reports, 1)
	assert.False(t, saver.reports[0].Success)
	assert.Empty(t, res.Output, "failed runs are not written out")
}

func TestRunFile_SaveFailure(t *testing.T) {
	opts := defaultOptions()
	opts.Reports = &memSaver{err: errors.New("disk full")}
	r, err := New(opts)
	require.NoError(t, err)

	path := writeFile(t, t.TempDir(), "chain.yaml", chainDoc)
	_, err = r.RunFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := reportstore.Open(reportstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	paths := []string{
		writeFile(t, dir, "a.yaml", chainDoc),
		filepath.Join(dir, "missing.yaml"),
		writeFile(t, dir, "b.yaml", "name: single\nnodes: [{name: a, op: Data}]\n"),
	}

	opts := defaultOptions()
	opts.Reports = store
	opts.Concurrency = 2
	r, err := New(opts)
	require.NoError(t, err)

	results, err := r.RunFiles(context.Background(), paths)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, paths[i], res.Path)
	}
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "chain", results[0].Report.Graph)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "single", results[2].Report.Graph)

	stored, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRunFiles_ErrorsInPathOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"e.yaml", "d.yaml", "c.yaml", "b.yaml", "a.yaml"} {
		paths = append(paths, filepath.Join(dir, name))
	}

	opts := defaultOptions()
	opts.Concurrency = len(paths)
	r, err := New(opts)
	require.NoError(t, err)

	for range 10 {
		results, err := r.RunFiles(context.Background(), paths)
		require.Error(t, err)

		joined, ok := err.(interface{ Unwrap() []error })
		require.True(t, ok, "expected a joined error")
		errs := joined.Unwrap()
		require.Len(t, errs, len(paths))
		for i, e := range errs {
			assert.Equal(t, results[i].Err, e)
			assert.Contains(t, e.Error(), paths[i])
		}
	}
}

func TestRunFiles_NoFiles(t *testing.T) {
	r, err := New(defaultOptions())
	require.NoError(t, err)
	_, err = r.RunFiles(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestRunFiles_Cancelled(t *testing.T) {
	r, err := New(defaultOptions())
	require.NoError(t, err)
	path := writeFile(t, t.TempDir(), "chain.yaml", chainDoc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := r.RunFiles(ctx, []string{path})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Report)
	assert.False(t, results[0].Report.Success)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(batches chan<- []string) Handler {
	return func(_ context.Context, paths []string) {
		batches <- paths
	}
}

func start(t *testing.T, w *Watcher) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancelFn()
		_ = w.Close()
	})
	return cancelFn, errc
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, func(context.Context, []string) {}, nil)
	assert.ErrorIs(t, err, ErrNoPaths)

	_, err = New([]string{"a.yaml"}, nil, nil)
	assert.Error(t, err)

	_, err = New([]string{filepath.Join(t.TempDir(), "missing", "a.yaml")}, func(context.Context, []string) {}, nil)
	assert.Error(t, err, "directory must exist")
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	w, err := New([]string{b, a, a}, func(context.Context, []string) {}, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []string{a, b}, w.Files())
}

func TestRun_DeliversDebouncedBatch(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "graph.yaml")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(watched, []byte("name: g\n"), 0644))

	batches := make(chan []string, 4)
	w, err := New([]string{watched}, collect(batches), &Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	start(t, w)

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(watched, []byte("name: g\n"), 0644))
	}

	select {
	case got := <-batches:
		assert.Equal(t, []string{watched}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "g.yaml")}, func(context.Context, []string) {}, nil)
	require.NoError(t, err)
	cancel, done := start(t, w)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_StopsOnClose(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "g.yaml")}, func(context.Context, []string) {}, nil)
	require.NoError(t, err)
	_, done := start(t, w)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package passes

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/graphopt/pkg/validation"
	"github.com/AleutianAI/graphopt/services/optimizer/pass"
)

func TestDefaultRegistry_Names(t *testing.T) {
	assert.Equal(t, []string{
		NameDeadEndElimination,
		NameHold,
		NameIdentityElimination,
		NameVisitRecorder,
	}, DefaultRegistry().Names())
}

func TestRegistry_Build(t *testing.T) {
	r := DefaultRegistry()

	t.Run("preserves order", func(t *testing.T) {
		passes, err := r.Build([]string{NameHold, NameIdentityElimination}, nil)
		require.NoError(t, err)
		require.Len(t, passes, 2)
		assert.Equal(t, NameHold, passes[0].Name)
		assert.IsType(t, &Hold{}, passes[0].Pass)
		assert.IsType(t, &IdentityElimination{}, passes[1].Pass)
	})

	t.Run("fresh instances", func(t *testing.T) {
		first, err := r.Build([]string{NameDeadEndElimination}, nil)
		require.NoError(t, err)
		second, err := r.Build([]string{NameDeadEndElimination}, nil)
		require.NoError(t, err)
		assert.NotSame(t, first[0].Pass, second[0].Pass)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := r.Build([]string{NameHold, "constant-folding"}, nil)
		require.ErrorIs(t, err, ErrUnknownPass)
		assert.Contains(t, err.Error(), "constant-folding")
	})

	t.Run("case-insensitive", func(t *testing.T) {
		passes, err := r.Build([]string{" Hold "}, nil)
		require.NoError(t, err)
		assert.Equal(t, NameHold, passes[0].Name)
	})

	t.Run("malformed name", func(t *testing.T) {
		_, err := r.Build([]string{"dead end"}, nil)
		assert.ErrorIs(t, err, validation.ErrInvalidName)
	})

	t.Run("empty", func(t *testing.T) {
		passes, err := r.Build(nil, nil)
		require.NoError(t, err)
		assert.Empty(t, passes)
	})

	t.Run("factory returns nil", func(t *testing.T) {
		custom := NewRegistry()
		custom.MustRegister("broken", func(*slog.Logger) pass.Pass { return nil })
		_, err := custom.Build([]string{"broken"}, nil)
		require.ErrorIs(t, err, ErrNilPass)
		assert.Contains(t, err.Error(), "broken")
	})
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	factory := func(*slog.Logger) pass.Pass { return NewHold() }

	require.NoError(t, r.Register("custom", factory))
	assert.Error(t, r.Register("custom", factory))
	assert.Error(t, r.Register("", factory))
	assert.ErrorIs(t, r.Register("Custom_Pass", factory), validation.ErrInvalidName)
	assert.Error(t, r.Register("nil", nil))
	assert.Panics(t, func() { r.MustRegister("custom", factory) })
	assert.Equal(t, []string{"custom"}, r.Names())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"warn", LevelWarn, false},
		{"Error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_YAML(t *testing.T) {
	var cfg struct {
		Level Level `yaml:"level"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("level: warn\n"), &cfg))
	assert.Equal(t, LevelWarn, cfg.Level)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Equal(t, "level: warn\n", string(out))

	assert.Error(t, yaml.Unmarshal([]byte("level: loud\n"), &cfg))
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_TextToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf, Service: "graphopt"})
	defer logger.Close()

	logger.Debug("hidden")
	logger.Info("visible", "nodes", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=visible")
	assert.Contains(t, out, "nodes=3")
	assert.Contains(t, out, "service=graphopt")
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: FormatJSON})
	logger.Warn("bound reached", "processed", 10)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "bound reached", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.EqualValues(t, 10, rec["processed"])
}

func TestNew_AutoFormatNonTerminalFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "console")
	require.NoError(t, err)
	defer f.Close()

	logger := New(Config{Output: f})
	logger.Info("hello")

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.True(t, json.Valid(bytes.TrimSpace(data)), "regular files get JSON")
}

func TestNew_QuietDiscards(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Quiet: true})
	logger.Error("nothing")
	assert.Empty(t, buf.String())
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, LogDir: dir, Service: "opt"})
	logger.Info("to both")
	require.NoError(t, logger.Close())

	name := "opt_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.Contains(t, buf.String(), "to both")

	// Closing twice is harmless.
	assert.NoError(t, logger.Close())
}

func TestNew_InvalidLogDirFallsBackToConsole(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	var buf bytes.Buffer
	logger := New(Config{Output: &buf, LogDir: filepath.Join(blocker, "logs")})
	logger.Info("still here")
	assert.Contains(t, buf.String(), "still here")
	assert.NoError(t, logger.Close())
}

func TestNew_ExtraHandler(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(LevelDebug)
	logger := New(Config{Level: LevelDebug, Output: &buf, Handler: rec, Service: "svc"})

	logger.Debug("step", "node", "a")

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "step", entries[0].Message)
	assert.Equal(t, "a", entries[0].Attrs["node"])
	assert.Equal(t, "svc", entries[0].Attrs["service"])
	assert.Contains(t, buf.String(), "step")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: FormatText})
	child := logger.With("run_id", "r1")
	child.Info("child")
	logger.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "run_id=r1")
	assert.NotContains(t, lines[1], "run_id")
	assert.NoError(t, child.Close())
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	logger.Slog().Info("via slog")
	assert.Contains(t, buf.String(), "via slog")
}

func TestLogger_ConcurrentUse(t *testing.T) {
	rec := NewRecorder(LevelInfo)
	logger := New(Config{Quiet: true, Handler: rec})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info("msg", "i", i)
		}(i)
	}
	wg.Wait()
	assert.Len(t, rec.Entries(), 20)
}

func TestDefault(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Slog())
	assert.NoError(t, logger.Close())
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestMultiHandler_LevelsPerHandler(t *testing.T) {
	debug := NewRecorder(LevelDebug)
	warn := NewRecorder(LevelWarn)
	h := &multiHandler{handlers: []slog.Handler{debug, warn}}

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h)
	logger.Debug("d")
	logger.Warn("w")

	assert.Equal(t, []string{"d"}, debug.Messages(LevelDebug))
	assert.Equal(t, []string{"w"}, debug.Messages(LevelWarn))
	assert.Empty(t, warn.Messages(LevelDebug))
	assert.Equal(t, []string{"w"}, warn.Messages(LevelWarn))
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	rec := NewRecorder(LevelInfo)
	h := &multiHandler{handlers: []slog.Handler{rec}}
	logger := slog.New(h).With("graph", "main").WithGroup("pass")
	logger.Info("ran", "name", "identity")

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "main", entries[0].Attrs["graph"])
	assert.Equal(t, "identity", entries[0].Attrs["pass.name"])
}

func TestRecorder_Enabled(t *testing.T) {
	rec := NewRecorder(LevelWarn)
	assert.False(t, rec.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, rec.Enabled(context.Background(), slog.LevelError))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".graphopt/logs"), expandPath("~/.graphopt/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "rel", expandPath("rel"))
}

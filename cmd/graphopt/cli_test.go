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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/graphopt/services/optimizer/passes"
)

const testGraph = `name: chain
nodes:
  - {name: x, op: Data}
  - {name: id, op: Identity, inputs: [x]}
  - {name: y, op: Sink, inputs: [id]}
`

func resetFlags() {
	configPath = ""
	logLevel = ""
	jsonOutput = false
	runOutDir = ""
	runConcurrency = 0
	runNoReports = false
	runMetricsAddr = ""
	runPasses = nil
	reportsLimit = 20
	reportsGraph = ""
	configForce = false
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	err := execute(context.Background(), args)
	return stdout.String(), err
}

// writeConfig writes a config that keeps everything inside dir.
func writeConfig(t *testing.T, dir string, reports bool) string {
	t.Helper()
	path := filepath.Join(dir, "graphopt.yaml")
	content := fmt.Sprintf(`logging:
  level: warn
  quiet: true
telemetry:
  service_name: graphopt-test
  trace_exporter: none
  metric_exporter: none
reports:
  enabled: %t
  path: %s
  gc_interval: 0s
passes: [identity-elimination, dead-end-elimination]
`, reports, filepath.Join(dir, "reports"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeGraph(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "chain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testGraph), 0644))
	return path
}

func TestPassesList(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), false)

	out, err := runCLI(t, "passes", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, passes.NameIdentityElimination+"  ")
	assert.Contains(t, out, "#1")
	assert.Contains(t, out, "#2")

	out, err = runCLI(t, "passes", "list", "--config", cfg, "--json")
	require.NoError(t, err)
	var views []passView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	assert.Len(t, views, len(passes.DefaultRegistry().Names()))
	for _, v := range views {
		switch v.Name {
		case passes.NameIdentityElimination:
			assert.Equal(t, 1, v.Position)
		case passes.NameDeadEndElimination:
			assert.Equal(t, 2, v.Position)
		default:
			assert.Zero(t, v.Position, v.Name)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "graphopt.yaml")

	out, err := runCLI(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = runCLI(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = runCLI(t, "config", "init", "--config", path, "--force")
	require.NoError(t, err)

	out, err = runCLI(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "max_depth: 20")
	assert.Contains(t, out, "- identity-elimination")
}

func TestRunAndReports(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, true)
	graphPath := writeGraph(t, dir)
	outDir := filepath.Join(dir, "out")

	out, err := runCLI(t, "run", graphPath, "--config", cfg, "--out", outDir, "--json")
	require.NoError(t, err)

	var results []resultView
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Report)
	assert.Empty(t, results[0].Error)
	assert.True(t, results[0].Report.Success)
	assert.Equal(t, 1, results[0].Report.NodesDeleted)
	assert.FileExists(t, filepath.Join(outDir, "chain.opt.yaml"))
	runID := results[0].Report.RunID

	out, err = runCLI(t, "reports", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, runID)

	out, err = runCLI(t, "reports", "list", "--config", cfg, "--graph", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "No reports stored.")

	out, err = runCLI(t, "reports", "show", runID, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `"graph": "chain"`)

	_, err = runCLI(t, "reports", "delete", runID, "--config", cfg)
	require.NoError(t, err)

	out, err = runCLI(t, "reports", "list", "--config", cfg, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestRun_TextOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, false)
	graphPath := writeGraph(t, dir)

	out, err := runCLI(t, "run", graphPath, filepath.Join(dir, "missing.yaml"), "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "missing.yaml")
}

func TestRun_UnknownPassOverride(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, false)

	_, err := runCLI(t, "run", writeGraph(t, dir), "--config", cfg, "--passes", "constant-folding")
	assert.ErrorIs(t, err, passes.ErrUnknownPass)
}

func TestReports_Disabled(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), false)

	_, err := runCLI(t, "reports", "list", "--config", cfg)
	assert.ErrorIs(t, err, errReportsDisabled)
}

func TestInvalidLogLevel(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), false)

	_, err := runCLI(t, "passes", "list", "--config", cfg, "--log-level", "loud")
	assert.Error(t, err)
}

func TestRun_MetricsNeedPrometheus(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, false)

	_, err := runCLI(t, "run", writeGraph(t, dir), "--config", cfg, "--metrics-addr", "127.0.0.1:0")
	assert.ErrorContains(t, err, "prometheus")
}

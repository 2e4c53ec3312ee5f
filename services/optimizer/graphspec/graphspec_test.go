// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphspec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/graphopt/pkg/validation"
	"github.com/AleutianAI/graphopt/services/optimizer/graph"
)

const loopDoc = `
name: main
nodes:
  - name: x
    op: Data
  - name: split
    op: Split
    inputs: [x]
  - name: id
    op: Identity
    inputs: ["split:1"]
    attrs:
      note: passthrough
  - name: loop
    op: While
    inputs: [id, "", split]
    subgraphs: [body]
subgraphs:
  - name: body
    nodes:
      - name: i
        op: Data
      - name: inner
        op: If
        inputs: [i]
        subgraphs: [then]
    subgraphs:
      - name: then
        nodes:
          - name: t
            op: NoOp
`

func TestParseAndBuild(t *testing.T) {
	s, err := Parse(strings.NewReader(loopDoc))
	require.NoError(t, err)

	g, err := s.Build()
	require.NoError(t, err)
	assert.Equal(t, "main", g.Name())
	assert.Equal(t, 4, g.NodeCount())

	id, ok := g.Node("id")
	require.True(t, ok)
	in, ok := id.Input(0)
	require.True(t, ok)
	assert.Equal(t, "split", in.Node.Name())
	assert.Equal(t, 1, in.Index)
	note, _ := id.Attr("note")
	assert.Equal(t, "passthrough", note)

	loop, _ := g.Node("loop")
	require.Len(t, loop.Inputs(), 3)
	assert.True(t, loop.Inputs()[1].IsHole())
	assert.Equal(t, []string{"body"}, loop.SubgraphNames())

	body := g.GetSubgraph("body")
	require.NotNil(t, body)
	assert.Same(t, loop, body.Parent())

	then := g.GetSubgraph("then")
	require.NotNil(t, then)
	inner, _ := body.Node("inner")
	assert.Same(t, inner, then.Parent())
	assert.Same(t, g, then.Root())
}

func TestFromGraph_RoundTrip(t *testing.T) {
	s, err := Parse(strings.NewReader(loopDoc))
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)

	assert.Equal(t, s, FromGraph(g))

	data, err := FromGraph(g).Marshal()
	require.NoError(t, err)
	again, err := Parse(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestFromGraph_AfterRewrite(t *testing.T) {
	s, err := Parse(strings.NewReader(loopDoc))
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)

	id, _ := g.Node("id")
	require.NoError(t, g.IsolateNode(id, map[int]int{0: 0}))
	require.NoError(t, g.RemoveNodeWithoutRelink(id))

	out := FromGraph(g)
	require.Len(t, out.Nodes, 3)
	assert.Equal(t, "loop", out.Nodes[2].Name)
	assert.Equal(t, []string{"split:1", "", "split"}, out.Nodes[2].Inputs)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"empty", "", ErrInvalidSpec},
		{"missing name", "nodes: [{name: a, op: Data}]\n", ErrInvalidSpec},
		{"missing op", "name: g\nnodes: [{name: a}]\n", ErrInvalidSpec},
		{"blank subgraph ref", "name: g\nnodes: [{name: a, op: X, subgraphs: ['']}]\n", ErrInvalidSpec},
		{"colon in node name", "name: g\nnodes: [{name: 'a:1', op: X}]\n", ErrInvalidSpec},
		{"space in graph name", "name: my graph\nnodes: [{name: a, op: X}]\n", ErrInvalidSpec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Parse(strings.NewReader("name: g\nnodes: [{name: 'a b', op: X}]\n"))
	assert.ErrorIs(t, err, validation.ErrInvalidName)

	_, err = Parse(strings.NewReader("name: g\nedges: []\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			"unknown input",
			"name: g\nnodes: [{name: a, op: X, inputs: [ghost]}]\n",
			ErrUnknownNode,
		},
		{
			"bad port",
			"name: g\nnodes: [{name: a, op: X}, {name: b, op: X, inputs: ['a:two']}]\n",
			ErrBadEndpoint,
		},
		{
			"negative port",
			"name: g\nnodes: [{name: a, op: X}, {name: b, op: X, inputs: ['a:-1']}]\n",
			ErrBadEndpoint,
		},
		{
			"missing producer name",
			"name: g\nnodes: [{name: a, op: X, inputs: [':1']}]\n",
			ErrBadEndpoint,
		},
		{
			"duplicate node",
			"name: g\nnodes: [{name: a, op: X}, {name: a, op: Y}]\n",
			graph.ErrDuplicateNode,
		},
		{
			"unknown subgraph",
			"name: g\nnodes: [{name: a, op: X, subgraphs: [body]}]\n",
			ErrUnknownSubgraph,
		},
		{
			"orphan subgraph",
			"name: g\nnodes: [{name: a, op: X}]\nsubgraphs: [{name: body, nodes: []}]\n",
			ErrOrphanSubgraph,
		},
		{
			"shared subgraph",
			"name: g\nnodes: [{name: a, op: X, subgraphs: [body]}, {name: b, op: X, subgraphs: [body]}]\nsubgraphs: [{name: body, nodes: []}]\n",
			graph.ErrDuplicateSubgraph,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(strings.NewReader(tt.doc))
			require.NoError(t, err)
			_, err = s.Build()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.yaml")
	require.NoError(t, os.WriteFile(path, []byte(loopDoc), 0600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "main", s.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

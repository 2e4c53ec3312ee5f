// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphspec reads and writes graphs as YAML documents.
//
// A document names a graph, lists its nodes in order, and nests the
// subgraphs owned by those nodes:
//
//	name: main
//	nodes:
//	  - {name: x, op: Data}
//	  - {name: id, op: Identity, inputs: [x]}
//	  - {name: loop, op: While, inputs: ["id:0"], subgraphs: [body]}
//	subgraphs:
//	  - name: body
//	    nodes:
//	      - {name: i, op: Data}
//
// An input is "producer" or "producer:port"; an empty string is a hole.
package graphspec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/graphopt/pkg/validation"
	"github.com/AleutianAI/graphopt/services/optimizer/graph"
)

var (
	// ErrInvalidSpec is returned when a document fails validation.
	ErrInvalidSpec = errors.New("invalid graph spec")

	// ErrUnknownNode is returned when an input names a node that is not in
	// the same graph.
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnknownSubgraph is returned when a node owns a subgraph the
	// document does not define.
	ErrUnknownSubgraph = errors.New("unknown subgraph")

	// ErrOrphanSubgraph is returned when a nested subgraph has no owner.
	ErrOrphanSubgraph = errors.New("subgraph has no owner")

	// ErrBadEndpoint is returned for a malformed input reference.
	ErrBadEndpoint = errors.New("malformed input")
)

var specValidate = validator.New()

// Spec is one graph and the subgraphs its nodes own.
type Spec struct {
	Name      string     `yaml:"name" validate:"required"`
	Nodes     []NodeSpec `yaml:"nodes" validate:"dive"`
	Subgraphs []Spec     `yaml:"subgraphs,omitempty" validate:"dive"`
}

// NodeSpec is one node.
type NodeSpec struct {
	Name      string            `yaml:"name" validate:"required"`
	Op        string            `yaml:"op" validate:"required"`
	Inputs    []string          `yaml:"inputs,omitempty"`
	Subgraphs []string          `yaml:"subgraphs,omitempty" validate:"dive,required"`
	Attrs     map[string]string `yaml:"attrs,omitempty"`
}

// Load reads a spec from path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a spec.
func Parse(r io.Reader) (*Spec, error) {
	var s Spec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidSpec)
		}
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks required fields and that every graph, node and subgraph
// name can appear in an input reference.
func (s *Spec) Validate() error {
	if err := specValidate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := validation.ValidateNames(s.names(nil)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return nil
}

func (s *Spec) names(out []string) []string {
	out = append(out, s.Name)
	for _, n := range s.Nodes {
		out = append(out, n.Name)
		out = append(out, n.Subgraphs...)
	}
	for i := range s.Subgraphs {
		out = s.Subgraphs[i].names(out)
	}
	return out
}

// Marshal encodes the spec as YAML.
func (s *Spec) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode graph %s: %w", s.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Build creates the graph described by s, including nested subgraphs.
func (s *Spec) Build() (*graph.Graph, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s.build()
}

func (s *Spec) build() (*graph.Graph, error) {
	g := graph.New(s.Name)

	nodes := make([]*graph.Node, len(s.Nodes))
	for i, ns := range s.Nodes {
		n, err := g.AddNode(ns.Name, ns.Op)
		if err != nil {
			return nil, fmt.Errorf("graph %s: %w", s.Name, err)
		}
		for k, v := range ns.Attrs {
			n.SetAttr(k, v)
		}
		nodes[i] = n
	}

	for i, ns := range s.Nodes {
		for slot, ref := range ns.Inputs {
			if ref == "" {
				continue
			}
			name, port, err := parseEndpoint(ref)
			if err != nil {
				return nil, fmt.Errorf("graph %s node %s: %w", s.Name, ns.Name, err)
			}
			src, ok := g.Node(name)
			if !ok {
				return nil, fmt.Errorf("graph %s node %s: %w: %q", s.Name, ns.Name, ErrUnknownNode, name)
			}
			if err := g.AddEdge(src, port, nodes[i], slot); err != nil {
				return nil, fmt.Errorf("graph %s: %w", s.Name, err)
			}
		}
	}

	subs := make(map[string]*Spec, len(s.Subgraphs))
	for i := range s.Subgraphs {
		subs[s.Subgraphs[i].Name] = &s.Subgraphs[i]
	}
	owned := make(map[string]bool, len(subs))
	for i, ns := range s.Nodes {
		for _, name := range ns.Subgraphs {
			sub, ok := subs[name]
			if !ok {
				return nil, fmt.Errorf("graph %s node %s: %w: %q", s.Name, ns.Name, ErrUnknownSubgraph, name)
			}
			sg, err := sub.build()
			if err != nil {
				return nil, err
			}
			if err := g.AddSubgraph(nodes[i], sg); err != nil {
				return nil, fmt.Errorf("graph %s node %s: %w", s.Name, ns.Name, err)
			}
			owned[name] = true
		}
	}
	for name := range subs {
		if !owned[name] {
			return nil, fmt.Errorf("graph %s: %w: %q", s.Name, ErrOrphanSubgraph, name)
		}
	}
	return g, nil
}

// FromGraph captures g and the subgraphs owned by its nodes.
func FromGraph(g *graph.Graph) *Spec {
	s := &Spec{Name: g.Name()}
	for _, n := range g.Nodes() {
		ns := NodeSpec{
			Name:      n.Name(),
			Op:        n.Op(),
			Subgraphs: n.SubgraphNames(),
		}
		if attrs := n.Attrs(); len(attrs) > 0 {
			ns.Attrs = attrs
		}
		for _, in := range n.Inputs() {
			ns.Inputs = append(ns.Inputs, formatEndpoint(in))
		}
		if len(ns.Subgraphs) == 0 {
			ns.Subgraphs = nil
		}
		s.Nodes = append(s.Nodes, ns)

		for _, name := range n.SubgraphNames() {
			if sub := g.GetSubgraph(name); sub != nil {
				s.Subgraphs = append(s.Subgraphs, *FromGraph(sub))
			}
		}
	}
	return s
}

func parseEndpoint(ref string) (string, int, error) {
	name, portText, hasPort := strings.Cut(ref, ":")
	if name == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrBadEndpoint, ref)
	}
	if !hasPort {
		return name, 0, nil
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadEndpoint, ref)
	}
	return name, port, nil
}

func formatEndpoint(e graph.Endpoint) string {
	if e.IsHole() {
		return ""
	}
	if e.Index == 0 {
		return e.Node.Name()
	}
	return e.Node.Name() + ":" + strconv.Itoa(e.Index)
}

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
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/graphopt/pkg/validation"
	"github.com/AleutianAI/graphopt/services/optimizer/pass"
)

var (
	// ErrUnknownPass is returned when a name is not registered.
	ErrUnknownPass = errors.New("unknown pass")

	// ErrNilPass is returned when a factory produces no pass.
	ErrNilPass = errors.New("nil pass")
)

// Built-in pass names.
const (
	NameIdentityElimination = "identity-elimination"
	NameDeadEndElimination  = "dead-end-elimination"
	NameHold                = "hold"
	NameVisitRecorder       = "visit-recorder"
)

// Factory creates a fresh pass instance.
type Factory func(logger *slog.Logger) pass.Pass

// Registry maps pass names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in passes.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(NameIdentityElimination, func(*slog.Logger) pass.Pass { return NewIdentityElimination() })
	r.MustRegister(NameDeadEndElimination, func(*slog.Logger) pass.Pass { return NewDeadEndElimination() })
	r.MustRegister(NameHold, func(*slog.Logger) pass.Pass { return NewHold() })
	r.MustRegister(NameVisitRecorder, func(l *slog.Logger) pass.Pass { return NewVisitRecorder(l) })
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if f == nil {
		return errors.New("pass factory is required")
	}
	if err := validation.ValidatePassName(name); err != nil {
		return err
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("pass %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build instantiates the named passes in order. Names are matched
// case-insensitively. Each call returns fresh instances.
func (r *Registry) Build(names []string, logger *slog.Logger) ([]pass.NamedPass, error) {
	out := make([]pass.NamedPass, 0, len(names))
	for _, raw := range names {
		name, err := validation.SanitizePassName(raw)
		if err != nil {
			return nil, err
		}
		f, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPass, name)
		}
		p := f(logger)
		if p == nil {
			return nil, fmt.Errorf("%w: factory for %q returned nil", ErrNilPass, name)
		}
		out = append(out, pass.NamedPass{Name: name, Pass: p})
	}
	return out, nil
}

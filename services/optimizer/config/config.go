// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the graphopt YAML configuration.
//
// A missing file is not an error: Load falls back to Default. Unknown keys
// are rejected so typos surface instead of being silently ignored.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/graphopt/pkg/logging"
	"github.com/AleutianAI/graphopt/services/optimizer/driver"
	"github.com/AleutianAI/graphopt/services/optimizer/reportstore"
	"github.com/AleutianAI/graphopt/services/optimizer/telemetry"
)

// ErrInvalidConfig is returned when a loaded config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

var configValidate = validator.New()

// Config is the full graphopt configuration.
type Config struct {
	Driver    driver.Config    `yaml:"driver"`
	Logging   logging.Config   `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Reports   ReportsConfig    `yaml:"reports" validate:"-"`

	// Passes lists pass names in execution order.
	Passes []string `yaml:"passes" validate:"min=1,dive,required"`
}

// ReportsConfig controls run report persistence.
type ReportsConfig struct {
	// Enabled turns on report storage.
	Enabled bool `yaml:"enabled"`

	reportstore.Config `yaml:",inline"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	store := reportstore.DefaultConfig(filepath.Join(home, ".graphopt", "reports"))
	return Config{
		Driver: driver.DefaultConfig(),
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "graphopt",
			Format:  logging.FormatAuto,
		},
		Telemetry: telemetry.DefaultConfig(),
		Reports:   ReportsConfig{Enabled: true, Config: store},
		Passes:    []string{"identity-elimination", "dead-end-elimination"},
	}
}

// DefaultPath returns ~/.graphopt/graphopt.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".graphopt", "graphopt.yaml"), nil
}

// Load reads path over the defaults. A missing file yields Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Reports.Enabled {
		if err := c.Reports.Config.Validate(); err != nil {
			return fmt.Errorf("%w: reports: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "graphopt",
		Short: "Optimize dataflow graphs with a fixed-point pass pipeline",
		Long: `graphopt runs a configured pipeline of graph rewrite passes over
dataflow graph descriptions until no pass has anything left to do.

The configuration file (default ~/.graphopt/graphopt.yaml) selects the
passes, the driver limits, logging, telemetry and run report storage.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupApp,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the config file (default ~/.graphopt/graphopt.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine-readable JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(passesCmd)
	rootCmd.AddCommand(configCmd)
}

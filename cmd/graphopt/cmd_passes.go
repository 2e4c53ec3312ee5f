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
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/graphopt/services/optimizer/passes"
)

var (
	passesCmd = &cobra.Command{
		Use:   "passes",
		Short: "Inspect the available passes",
	}
	passesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered passes and the configured pipeline",
		Args:  cobra.NoArgs,
		RunE:  runPassesList,
	}
)

func init() {
	passesCmd.AddCommand(passesListCmd)
}

type passView struct {
	Name     string `json:"name"`
	Position int    `json:"position,omitempty"`
}

func runPassesList(cmd *cobra.Command, _ []string) error {
	names := passes.DefaultRegistry().Names()
	views := make([]passView, 0, len(names))
	for _, name := range names {
		views = append(views, passView{
			Name:     name,
			Position: slices.Index(app.cfg.Passes, name) + 1,
		})
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), views)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PASS\tPIPELINE")
	for _, v := range views {
		pos := "-"
		if v.Position > 0 {
			pos = fmt.Sprintf("#%d", v.Position)
		}
		fmt.Fprintf(tw, "%s\t%s\n", v.Name, pos)
	}
	return tw.Flush()
}

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

	"github.com/spf13/cobra"
)

var (
	reportsLimit int
	reportsGraph string

	reportsCmd = &cobra.Command{
		Use:   "reports",
		Short: "Inspect stored run reports",
	}
	reportsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		Args:  cobra.NoArgs,
		RunE:  runReportsList,
	}
	reportsShowCmd = &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportsShow,
	}
	reportsDeleteCmd = &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete one report",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportsDelete,
	}
)

func init() {
	reportsListCmd.Flags().IntVar(&reportsLimit, "limit", 20,
		"Maximum reports to list (0 = all)")
	reportsListCmd.Flags().StringVar(&reportsGraph, "graph", "",
		"Only list reports for this graph name")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsDeleteCmd)
}

func runReportsList(cmd *cobra.Command, _ []string) error {
	store, err := app.openReports(true)
	if err != nil {
		return err
	}

	// The graph filter is applied after the read, so read everything when
	// filtering and trim afterwards.
	limit := reportsLimit
	if reportsGraph != "" {
		limit = 0
	}
	reports, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if reportsGraph != "" {
		filtered := reports[:0]
		for _, r := range reports {
			if r.Graph == reportsGraph {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
		if reportsLimit > 0 && len(reports) > reportsLimit {
			reports = reports[:reportsLimit]
		}
	}
	return printReports(cmd.OutOrStdout(), reports, jsonOutput)
}

func runReportsShow(cmd *cobra.Command, args []string) error {
	store, err := app.openReports(true)
	if err != nil {
		return err
	}
	report, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), report)
}

func runReportsDelete(cmd *cobra.Command, args []string) error {
	store, err := app.openReports(true)
	if err != nil {
		return err
	}
	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %s\n", args[0])
	return err
}

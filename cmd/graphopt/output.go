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
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/AleutianAI/graphopt/services/optimizer/driver"
	"github.com/AleutianAI/graphopt/services/optimizer/runner"
)

// resultView is the JSON shape of one optimized file.
type resultView struct {
	Path   string         `json:"path"`
	Output string         `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
	Report *driver.Report `json:"report,omitempty"`
}

func printResults(w io.Writer, results []*runner.Result, asJSON bool) error {
	if asJSON {
		views := make([]resultView, 0, len(results))
		for _, res := range results {
			if res == nil {
				continue
			}
			v := resultView{Path: res.Path, Output: res.Output, Report: res.Report}
			if res.Err != nil {
				v.Error = res.Err.Error()
			}
			views = append(views, v)
		}
		return writeJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tFILE\tGRAPH\tPROCESSED\tDELETED\tDURATION\tRUN")
	for _, res := range results {
		if res == nil {
			continue
		}
		status := "ok"
		if res.Err != nil {
			status = "failed"
		} else if res.Report != nil && res.Report.BoundReached() {
			status = "bounded"
		}
		if res.Report == nil {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\t-\n", status, filepath.Base(res.Path))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			status,
			filepath.Base(res.Path),
			res.Report.Graph,
			res.Report.NodesProcessed,
			res.Report.NodesDeleted,
			res.Report.Duration.Round(time.Microsecond),
			res.Report.RunID,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, res := range results {
		if res != nil && res.Err != nil {
			fmt.Fprintf(w, "\n%s: %v\n", res.Path, res.Err)
		}
	}
	return nil
}

func printReports(w io.Writer, reports []*driver.Report, asJSON bool) error {
	if asJSON {
		if reports == nil {
			reports = []*driver.Report{}
		}
		return writeJSON(w, reports)
	}
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "No reports stored.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tGRAPH\tSTARTED\tSUCCESS\tPROCESSED\tDELETED\tDURATION")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\t%s\n",
			r.RunID,
			r.Graph,
			r.StartedAt.Local().Format(time.DateTime),
			r.Success,
			r.NodesProcessed,
			r.NodesDeleted,
			r.Duration.Round(time.Microsecond),
		)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package driver schedules graph-rewrite passes to a fixed point.
//
// A Driver owns a frontier of nodes. Source nodes (no producers) seed it, and
// a node becomes ready once every producer has been seen. Each popped node
// runs through the pass list in order; passes report their effects through
// the pass.Pass buffers and the driver folds them back into the frontier.
//
// Nodes that own subgraphs are optimized recursively, up to Config.MaxDepth
// levels, after which the owning node is re-run with
// pass.OptionOptimizeAfterSubgraph set.
//
// Basic usage:
//
//	d, err := driver.New(g, driver.DefaultConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	report, err := d.Run(ctx, []pass.NamedPass{{Name: "identity", Pass: p}})
package driver

//  Copyright (c) 2014 Couchbase, Inc.
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the
//  License. You may obtain a copy of the License at
//    http://www.apache.org/licenses/LICENSE-2.0
//  Unless required by applicable law or agreed to in writing,
//  software distributed under the License is distributed on an "AS
//  IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
//  express or implied. See the License for the specific language
//  governing permissions and limitations under the License.

package vbmap

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
)

// PlannerStats tracks invocation counts for the pure planning
// primitives (C1-C6), following the Tot-prefixed atomic-counter
// convention used throughout this codebase's stats structs.
type PlannerStats struct {
	TotGenerateInitialMap uint64
	TotMasterMoves        uint64
	TotBalanceNodes       uint64
	TotNewReplicas        uint64
	TotFailover           uint64
	TotFailoverDataLoss   uint64
}

func (s *PlannerStats) AtomicCopyTo(r *PlannerStats) {
	atomic.StoreUint64(&r.TotGenerateInitialMap, atomic.LoadUint64(&s.TotGenerateInitialMap))
	atomic.StoreUint64(&r.TotMasterMoves, atomic.LoadUint64(&s.TotMasterMoves))
	atomic.StoreUint64(&r.TotBalanceNodes, atomic.LoadUint64(&s.TotBalanceNodes))
	atomic.StoreUint64(&r.TotNewReplicas, atomic.LoadUint64(&s.TotNewReplicas))
	atomic.StoreUint64(&r.TotFailover, atomic.LoadUint64(&s.TotFailover))
	atomic.StoreUint64(&r.TotFailoverDataLoss, atomic.LoadUint64(&s.TotFailoverDataLoss))
}

var stats = &PlannerStats{}

// SnapshotStats copies the current planner invocation counters into a
// fresh PlannerStats, safe to read concurrently with further planning
// calls.
func SnapshotStats() *PlannerStats {
	snap := &PlannerStats{}
	stats.AtomicCopyTo(snap)
	return snap
}

// plannerMetrics exposes a rolling timer per heavy planning operation
// for admin-surface latency reporting, mirroring misc.go's
// WriteTimerJSON consumer pattern.
var plannerMetrics = metrics.NewRegistry()

func plannerTimer(name string) metrics.Timer {
	return metrics.GetOrRegisterTimer(name, plannerMetrics)
}

// WritePlannerMetricsJSON writes every registered planning-operation
// timer (balance_nodes, etc.) as a single JSON object keyed by
// operation name, each value rendered by WriteTimerJSON.
func WritePlannerMetricsJSON(w io.Writer) {
	fmt.Fprint(w, "{")
	first := true
	plannerMetrics.Each(func(name string, i interface{}) {
		t, ok := i.(metrics.Timer)
		if !ok {
			return
		}
		if !first {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, "%q:", name)
		WriteTimerJSON(w, t)
		first = false
	})
	fmt.Fprint(w, "}")
}

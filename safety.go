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

import "github.com/rcrowley/go-metrics"

// Safety is a closed severity enum, ordered by increasing severity so
// that max(a, b) picks the worse of two classifications.
type Safety int

const (
	SafetyOK Safety = iota
	SafetySoftRebalanceNeeded
	SafetyRebalanceNeeded
	SafetyFailoverNeeded
	SafetyHardNodesNeeded
)

func (s Safety) String() string {
	switch s {
	case SafetyOK:
		return "ok"
	case SafetySoftRebalanceNeeded:
		return "softRebalanceNeeded"
	case SafetyRebalanceNeeded:
		return "rebalanceNeeded"
	case SafetyFailoverNeeded:
		return "failoverNeeded"
	case SafetyHardNodesNeeded:
		return "hardNodesNeeded"
	default:
		return "unknown"
	}
}

// UnbalanceGapThreshold is the unbalance detector's stopping rule,
// distinct from BalanceGapThreshold: the balancer stops at gap>1, the
// detector flags gap>2 as already unbalanced.
const UnbalanceGapThreshold = 2

// safetyGauges holds the gauges ClusterSafety updates with the worst
// cluster-wide safety level, one gauge per caller-supplied label.
var safetyGauges = metrics.NewRegistry()

// minLiveCopiesGauges exposes each bucket's minLiveCopies as a
// GaugeFloat64 named "min_live_copies:<bucket>", mirroring misc.go's
// WriteTimerJSON metrics-snapshot pattern.
var minLiveCopiesGauges = metrics.NewRegistry()

func minLiveCopiesGaugeName(bucket string) string {
	return "min_live_copies:" + bucket
}

// Unbalanced reports whether any turn of map has a max-min vbucket
// count, over servers, exceeding UnbalanceGapThreshold.
func Unbalanced(m VBucketMap, servers []Node) bool {
	for _, h := range Histograms(m, servers) {
		_, _, maxC, minC := minMaxNodes(h, servers)
		if maxC-minC > UnbalanceGapThreshold {
			return true
		}
	}
	return false
}

// minLiveCopies returns the minimum, over all chains, of the count of
// chain entries present in liveNodes.
func minLiveCopies(m VBucketMap, liveNodes map[Node]bool) int {
	if len(m) == 0 {
		return 0
	}
	min := -1
	for _, chain := range m {
		c := 0
		for _, n := range chain {
			if n != NoNode && liveNodes[n] {
				c++
			}
		}
		if min < 0 || c < min {
			min = c
		}
	}
	return min
}

// BucketSafety classifies the safety of a single membase bucket given
// the set of currently live nodes. Callers must not invoke this for
// memcached buckets; those have no map and are always considered ok
// by this axis.
func BucketSafety(b *BucketDef, liveNodes map[Node]bool) Safety {
	if b.NumReplicas == 0 {
		return SafetyOK
	}

	if len(b.Map) == 0 {
		if len(liveNodes) >= 2 {
			return SafetyOK
		}
		return SafetyHardNodesNeeded
	}

	copies := minLiveCopies(b.Map, liveNodes)
	metrics.GetOrRegisterGaugeFloat64(minLiveCopiesGaugeName(b.Name), minLiveCopiesGauges).Update(float64(copies))

	if copies <= 1 {
		if len(liveNodes) == 0 {
			return SafetyHardNodesNeeded
		}
		for _, s := range b.Servers {
			if !liveNodes[s] {
				return SafetyFailoverNeeded
			}
		}
		if len(liveNodes) > 1 {
			return SafetyRebalanceNeeded
		}
		return SafetyHardNodesNeeded
	}

	if Unbalanced(b.Map, b.Servers) {
		return SafetySoftRebalanceNeeded
	}

	return SafetyOK
}

// ExtraSafety reports whether the softNodesNeeded axis should be
// raised for a bucket: live nodes at or below num_replicas, and the
// bucket's base safety isn't already hardNodesNeeded (which already
// implies a node shortage).
func ExtraSafety(b *BucketDef, liveNodes map[Node]bool, base Safety) bool {
	if base == SafetyHardNodesNeeded {
		return false
	}
	return len(liveNodes) <= b.NumReplicas
}

// ClusterSafety aggregates per-bucket safety into a cluster-wide
// result: the worst base severity across buckets, plus whether
// softNodesNeeded should be raised for any bucket. gaugeLabel, if
// non-empty, records the worst severity to a named metrics gauge.
func ClusterSafety(buckets []*BucketDef, liveNodes map[Node]bool, gaugeLabel string) (worst Safety, softNodesNeeded bool) {
	for _, b := range buckets {
		if b.Type != BucketTypeMembase {
			continue
		}
		s := BucketSafety(b, liveNodes)
		if s > worst {
			worst = s
		}
		if ExtraSafety(b, liveNodes, s) {
			softNodesNeeded = true
		}
	}

	if gaugeLabel != "" {
		metrics.GetOrRegisterGauge(gaugeLabel, safetyGauges).Update(int64(worst))
	}

	return worst, softNodesNeeded
}

// FailoverWarnings renders a cluster safety result as the closed list
// of warning names, in increasing severity followed by
// softNodesNeeded.
func FailoverWarnings(worst Safety, softNodesNeeded bool) []string {
	var warnings []string
	switch worst {
	case SafetySoftRebalanceNeeded:
		warnings = append(warnings, "softRebalanceNeeded")
	case SafetyRebalanceNeeded:
		warnings = append(warnings, "rebalanceNeeded")
	case SafetyFailoverNeeded:
		warnings = append(warnings, "failoverNeeded")
	case SafetyHardNodesNeeded:
		warnings = append(warnings, "hardNodesNeeded")
	}
	if softNodesNeeded {
		warnings = append(warnings, "softNodesNeeded")
	}
	return warnings
}

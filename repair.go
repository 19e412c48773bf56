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

import "sync/atomic"

// NewReplicas fills undefined replica slots and replaces any slot
// occupied by an ejected node, walking each chain left-to-right while
// avoiding nodes already placed earlier in that same chain.  The
// master slot is never touched.  Histograms are the per-turn
// histograms for the map (e.g. from Histograms(m, servers)); `order`
// must be the servers list those histograms were built from, and
// drives deterministic least-utilized tie-breaks. Histograms are
// mutated in place as picks happen.
func NewReplicas(m VBucketMap, order []Node, ejectSet map[Node]bool,
	hist []Histogram) VBucketMap {
	atomic.AddUint64(&stats.TotNewReplicas, 1)

	out := m.Clone()

	for v, chain := range out {
		accum := map[Node]bool{chain[0]: true}

		for turn := 1; turn < len(chain); turn++ {
			slot := chain[turn]

			switch {
			case slot == NoNode:
				avoid := unionSets(accum, ejectSet)
				next := pickLeastUtilized(hist[turn], order, avoid)
				if next != NoNode {
					chain[turn] = next
					hist[turn][next]++
					accum[next] = true
				}

			case accum[slot] || ejectSet[slot]:
				avoid := unionSets(accum, ejectSet)
				for _, n := range chain {
					if n != NoNode {
						avoid[n] = true
					}
				}
				if hist[turn][slot] > 0 {
					hist[turn][slot]--
				}
				next := pickLeastUtilized(hist[turn], order, avoid)
				if next != NoNode {
					chain[turn] = next
					hist[turn][next]++
					accum[next] = true
				} else {
					chain[turn] = NoNode
				}

			default:
				accum[slot] = true
			}
		}

		out[v] = chain
	}

	return out
}

func unionSets(a, b map[Node]bool) map[Node]bool {
	out := make(map[Node]bool, len(a)+len(b))
	for n := range a {
		out[n] = true
	}
	for n := range b {
		out[n] = true
	}
	return out
}

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
	"sync/atomic"
	"time"
)

// BalanceGapThreshold is the balancer's stopping rule: balance_nodes
// iterates a turn's histogram until max-min is no bigger than this.
const BalanceGapThreshold = 1

// BalanceOptions carries balance_nodes' tunables, letting callers
// override constants like BalanceGapThreshold per invocation.
type BalanceOptions struct {
	// GapThreshold overrides BalanceGapThreshold when > 0.
	GapThreshold int
}

func (o BalanceOptions) gapThreshold() int {
	if o.GapThreshold > 0 {
		return o.GapThreshold
	}
	return BalanceGapThreshold
}

// Move is a single-slot reassignment: for vbucket V, at the carried
// Turn, replace Old with New.  Moves produced by MasterMoves always
// carry Turn 0.
type Move struct {
	V    int
	Turn int
	Old  Node
	New  Node
}

// MasterMoves picks a new master for every vbucket whose master is
// NoNode or is in evacuateSet, preferring the least-utilized node from
// the turn-0 histogram (ties broken by the node's order in `order`,
// which callers pass as the servers list the histogram was built
// from).  The histogram is updated in place after every pick so later
// picks see revised counts.  There is no forbidden set for master
// picks.
func MasterMoves(m VBucketMap, order []Node, evacuateSet map[Node]bool,
	hist Histogram) []Move {
	atomic.AddUint64(&stats.TotMasterMoves, 1)

	var moves []Move

	for v, chain := range m {
		old := chain[0]
		if old != NoNode && !evacuateSet[old] {
			continue
		}

		next := pickLeastUtilized(hist, order, nil)
		if next == NoNode {
			continue
		}

		moves = append(moves, Move{V: v, Turn: 0, Old: old, New: next})

		if _, ok := hist[old]; ok {
			hist[old]--
		}
		hist[next]++
	}

	return moves
}

// balanceEntry is the working (vbucket, currentNode, forbiddenSet)
// tuple BalanceNodes iterates over.
type balanceEntry struct {
	v         int
	node      Node
	forbidden map[Node]bool
}

// BalanceNodes iteratively relieves imbalance in a single chain turn.
// It repeatedly moves one vbucket from the most-loaded node to the
// least-loaded node (skipping moves that would put the vbucket's
// chain in violation of the no-duplicates invariant) until the gap
// between the most- and least-loaded node is no larger than
// opts.gapThreshold(). `order` must be the servers list the histogram
// at this turn was built from, and drives deterministic tie-breaks.
func BalanceNodes(m VBucketMap, order []Node, hist Histogram, turn int,
	opts BalanceOptions) []Move {
	atomic.AddUint64(&stats.TotBalanceNodes, 1)
	start := time.Now()
	defer func() { plannerTimer("balance_nodes").Update(time.Since(start)) }()

	var moves []Move

	entries := make([]*balanceEntry, len(m))
	for v, chain := range m {
		forbidden := make(map[Node]bool, turn)
		for i := 0; i < turn; i++ {
			if chain[i] != NoNode {
				forbidden[chain[i]] = true
			}
		}
		entries[v] = &balanceEntry{v: v, node: chain[turn], forbidden: forbidden}
	}

	gap := opts.gapThreshold()

	for {
		hi, lo, maxC, minC := minMaxNodes(hist, order)
		if maxC-minC <= gap {
			break
		}

		idx := -1
		for i, e := range entries {
			if e.node == hi && !e.forbidden[lo] {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}

		e := entries[idx]
		moves = append(moves, Move{V: e.v, Turn: turn, Old: hi, New: lo})

		e.node = lo
		hist[hi]--
		hist[lo]++
	}

	return moves
}

// pickLeastUtilized returns the node with the smallest count in hist,
// breaking ties by order's first-encountered order, skipping any node
// in avoid.
func pickLeastUtilized(hist Histogram, order []Node, avoid map[Node]bool) Node {
	best := NoNode
	bestCount := 0
	found := false

	for _, n := range histogramKeysOrdered(hist, order) {
		if avoid != nil && avoid[n] {
			continue
		}
		c := hist[n]
		if !found || c < bestCount {
			best = n
			bestCount = c
			found = true
		}
	}

	return best
}

// minMaxNodes returns the nodes carrying the maximum and minimum
// counts in hist (first-encountered-in-order on ties), plus the
// counts themselves.
func minMaxNodes(hist Histogram, order []Node) (hi, lo Node, maxC, minC int) {
	first := true
	for _, n := range histogramKeysOrdered(hist, order) {
		c := hist[n]
		if first {
			hi, lo = n, n
			maxC, minC = c, c
			first = false
			continue
		}
		if c > maxC {
			hi = n
			maxC = c
		}
		if c < minC {
			lo = n
			minC = c
		}
	}
	return hi, lo, maxC, minC
}

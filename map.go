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

// Node identifies a server in the cluster.  An empty Node ("") is the
// sentinel for an unassigned slot, written "⊥" in chain diagrams.
type Node string

const NoNode = Node("")

// Chain is the ordered sequence of nodes serving one vbucket.  Slot 0
// is the master; slots 1..len(Chain)-1 are replicas in priority order.
type Chain []Node

// VBucketMap is the ordered sequence of chains, one per vbucket,
// indexed by vbucket id.
type VBucketMap []Chain

// Clone returns a deep copy, so that callers can mutate the result
// without aliasing the original map.
func (m VBucketMap) Clone() VBucketMap {
	if m == nil {
		return nil
	}
	out := make(VBucketMap, len(m))
	for i, chain := range m {
		c := make(Chain, len(chain))
		copy(c, chain)
		out[i] = c
	}
	return out
}

// ChainLength returns the uniform chain length of a map, or 0 for an
// empty map.
func (m VBucketMap) ChainLength() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Rotate transposes the map, yielding one list per chain position
// ("turn"): result[turn][v] is the node in slot `turn` of vbucket `v`'s
// chain.
func Rotate(m VBucketMap) [][]Node {
	chainLen := m.ChainLength()
	rv := make([][]Node, chainLen)
	for turn := 0; turn < chainLen; turn++ {
		rv[turn] = make([]Node, len(m))
		for v, chain := range m {
			rv[turn][v] = chain[turn]
		}
	}
	return rv
}

// Histogram maps every node in a candidate set to the count of
// vbuckets whose slot equals that node.  NoNode is never counted, and
// nodes outside the candidate set are never represented, but every
// node inside it is represented even with a zero count -- a node with
// zero vbuckets on a turn must still be a candidate for new
// placements.
type Histogram map[Node]int

// Clone returns a shallow copy of the histogram, safe to mutate
// independently of the original.
func (h Histogram) Clone() Histogram {
	out := make(Histogram, len(h))
	for n, c := range h {
		out[n] = c
	}
	return out
}

// Histograms computes one Histogram per chain position, for the given
// map and the bucket's current servers list.
func Histograms(m VBucketMap, servers []Node) []Histogram {
	chainLen := m.ChainLength()
	rv := make([]Histogram, chainLen)
	for turn := 0; turn < chainLen; turn++ {
		h := make(Histogram, len(servers))
		for _, s := range servers {
			h[s] = 0
		}
		for _, chain := range m {
			n := chain[turn]
			if n == NoNode {
				continue
			}
			if _, ok := h[n]; ok {
				h[n]++
			}
		}
		rv[turn] = h
	}
	return rv
}

// ReplaceInChain returns a copy of chain with slot `turn` set to
// `next`.
func ReplaceInChain(chain Chain, turn int, next Node) Chain {
	rv := make(Chain, len(chain))
	copy(rv, chain)
	rv[turn] = next
	return rv
}

// ApplyMove replaces slot `turn` of vbucket `v`'s chain with `next`,
// and invalidates (sets to NoNode) every slot after `turn` in that
// chain -- the data behind those slots is no longer valid until
// replica repair runs.
func ApplyMove(m VBucketMap, turn, v int, next Node) VBucketMap {
	out := m.Clone()
	chain := ReplaceInChain(out[v], turn, next)
	for i := turn + 1; i < len(chain); i++ {
		chain[i] = NoNode
	}
	out[v] = chain
	return out
}

// nodeInSet reports whether n is a member of the set.
func nodeInSet(n Node, set map[Node]bool) bool {
	return set[n]
}

// NodeSet builds a set-like map from a slice of nodes, for simple
// membership tests (forbidden sets, eject sets, etc).
func NodeSet(nodes []Node) map[Node]bool {
	set := make(map[Node]bool, len(nodes))
	for _, n := range nodes {
		set[n] = true
	}
	return set
}

// histogramKeysOrdered returns the histogram's keys, ordered the way
// they were first encountered in `order` -- callers build `order` from
// the candidate servers list, so that tie-breaks (min/max selection)
// follow first-encountered-in-servers-list order deterministically.
func histogramKeysOrdered(h Histogram, order []Node) []Node {
	rv := make([]Node, 0, len(h))
	seen := make(map[Node]bool, len(h))
	for _, n := range order {
		if _, ok := h[n]; ok && !seen[n] {
			rv = append(rv, n)
			seen[n] = true
		}
	}
	for n := range h {
		if !seen[n] {
			rv = append(rv, n)
			seen[n] = true
		}
	}
	return rv
}

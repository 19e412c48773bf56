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

	log "github.com/couchbase/clog"
)

// FailoverResult carries the transformed map plus the data-loss
// accounting that Failover also logs as a warning.
type FailoverResult struct {
	Map       VBucketMap
	LostCount int
	LostPct   float64
}

// Failover replaces every occurrence of a failed node with NoNode, then
// rotates only the leading run of NoNode's to the tail, so the first
// surviving replica becomes master.  No node in failedSet appears
// anywhere in the result.  A NoNode produced by a non-master node
// failing is not part of a leading run and is left exactly where it
// landed: the rotation promotes replicas, it does not compact gaps.
// Chains that begin with NoNode after the rotation have no live copy
// ("lost data"); Failover itself never fails, it logs a warning with
// the count and percentage and returns them in the result.
func Failover(m VBucketMap, failedSet map[Node]bool) FailoverResult {
	atomic.AddUint64(&stats.TotFailover, 1)

	out := make(VBucketMap, len(m))
	lost := 0

	for v, chain := range m {
		next := make(Chain, len(chain))
		for i, n := range chain {
			if n != NoNode && failedSet[n] {
				next[i] = NoNode
			} else {
				next[i] = n
			}
		}

		lead := 0
		for lead < len(next) && next[lead] == NoNode {
			lead++
		}
		if lead > 0 && lead < len(next) {
			rotated := make(Chain, len(next))
			for i := range next {
				rotated[i] = next[(i+lead)%len(next)]
			}
			next = rotated
		}

		if next[0] == NoNode {
			lost++
		}

		out[v] = next
	}

	pct := 0.0
	if len(m) > 0 {
		pct = 100 * float64(lost) / float64(len(m))
	}

	if lost > 0 {
		atomic.AddUint64(&stats.TotFailoverDataLoss, uint64(lost))
		log.Warnf("failover: %d of %d vbuckets lost all live copies (%.2f%%)",
			lost, len(m), pct)
	}

	return FailoverResult{Map: out, LostCount: lost, LostPct: pct}
}

// FailoverBucket applies Failover to a bucket's map (a no-op for
// memcached buckets, which carry no map at all) and returns the
// servers list with the failed nodes removed.
func FailoverBucket(b *BucketDef, failedSet map[Node]bool) (VBucketMap, []Node, FailoverResult) {
	servers := make([]Node, 0, len(b.Servers))
	for _, s := range b.Servers {
		if !failedSet[s] {
			servers = append(servers, s)
		}
	}

	if b.Type == BucketTypeMemcached {
		return nil, servers, FailoverResult{}
	}

	res := Failover(b.Map, failedSet)
	return res.Map, servers, res
}

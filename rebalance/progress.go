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

package rebalance

import "github.com/couchbase/vbmap"

// progressTable aggregates fractional per-node progress across the
// whole cluster rebalance, so that a mover's within-bucket progress
// can be folded into an overall (i + bucketProgress) / NumBuckets
// figure for every node.
type progressTable struct {
	numBuckets int
	bucketIdx  int
}

func newProgressTable(numBuckets int) *progressTable {
	return &progressTable{numBuckets: numBuckets}
}

// startBucket records which bucket (by stable iteration index) is now
// in flight; its progress is reported against this index until the
// next startBucket call.
func (pt *progressTable) startBucket(i int) {
	pt.bucketIdx = i
}

// overall folds a bucket-local {node: fraction} mapping into the
// cluster-wide progress dictionary the orchestrator expects.
func (pt *progressTable) overall(bucketProgress map[vbmap.Node]float64) map[vbmap.Node]float64 {
	if pt.numBuckets <= 0 {
		return map[vbmap.Node]float64{}
	}
	out := make(map[vbmap.Node]float64, len(bucketProgress))
	for n, frac := range bucketProgress {
		out[n] = (float64(pt.bucketIdx) + frac) / float64(pt.numBuckets)
	}
	return out
}

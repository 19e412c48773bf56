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
	"errors"
	"sync/atomic"
)

var ErrNegativeVBucketCount = errors.New("vbmap: numVBuckets must be >= 0")

// GenerateInitialMap computes the first vbucket map for a fresh
// bucket.  Each chain takes numReplicas+1 nodes from a rotated window
// over servers, advancing the window by one server per vbucket
// (round-robin), padding with NoNode when len(servers) < numReplicas+1.
// There is no randomness.  The only failure is a negative numVBuckets.
func GenerateInitialMap(numReplicas, numVBuckets int, servers []Node) (VBucketMap, error) {
	atomic.AddUint64(&stats.TotGenerateInitialMap, 1)

	if numVBuckets < 0 {
		return nil, ErrNegativeVBucketCount
	}

	chainLen := numReplicas + 1
	m := make(VBucketMap, numVBuckets)

	n := len(servers)
	for v := 0; v < numVBuckets; v++ {
		chain := make(Chain, chainLen)
		for slot := 0; slot < chainLen; slot++ {
			if slot >= n {
				chain[slot] = NoNode
				continue
			}
			chain[slot] = servers[(v+slot)%n]
		}
		m[v] = chain
	}

	return m, nil
}

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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/vbmap"
)

func TestProgressTableOverall(t *testing.T) {
	pt := newProgressTable(4)
	pt.startBucket(1)

	got := pt.overall(map[vbmap.Node]float64{"a": 0.5})
	require.InDelta(t, 0.375, got["a"], 0.0001) // (1 + 0.5) / 4
}

func TestProgressTableFirstBucket(t *testing.T) {
	pt := newProgressTable(2)
	pt.startBucket(0)

	got := pt.overall(map[vbmap.Node]float64{"a": 1.0})
	require.InDelta(t, 0.5, got["a"], 0.0001)
}

func TestProgressTableZeroBuckets(t *testing.T) {
	pt := newProgressTable(0)
	got := pt.overall(map[vbmap.Node]float64{"a": 0.5})
	require.Empty(t, got)
}

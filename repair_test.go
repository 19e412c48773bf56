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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewReplicasFillsUndefinedSlot(t *testing.T) {
	m := VBucketMap{{"a", NoNode}}
	order := []Node{"a", "b", "c"}
	hist := []Histogram{
		{"a": 1, "b": 0, "c": 0},
		{"a": 0, "b": 0, "c": 0},
	}

	out := NewReplicas(m, order, nil, hist)
	require.NotEqual(t, NoNode, out[0][1])
	require.NotEqual(t, Node("a"), out[0][1], "a replica slot must not duplicate the master")
}

func TestNewReplicasReplacesEjectedNode(t *testing.T) {
	m := VBucketMap{{"a", "b"}}
	order := []Node{"a", "b", "c"}
	hist := []Histogram{
		{"a": 1, "b": 0, "c": 0},
		{"a": 0, "b": 1, "c": 0},
	}

	out := NewReplicas(m, order, map[Node]bool{"b": true}, hist)
	require.Equal(t, Node("c"), out[0][1])
}

func TestNewReplicasAvoidsDuplicatesInChain(t *testing.T) {
	m := VBucketMap{{"a", "b", "b"}}
	order := []Node{"a", "b", "c"}
	hist := []Histogram{
		{"a": 1, "b": 0, "c": 0},
		{"a": 0, "b": 1, "c": 0},
		{"a": 0, "b": 1, "c": 0},
	}

	out := NewReplicas(m, order, nil, hist)
	seen := map[Node]bool{}
	for _, n := range out[0] {
		if n == NoNode {
			continue
		}
		require.False(t, seen[n], "chain must not repeat a node: %v", out[0])
		seen[n] = true
	}
}

func TestNewReplicasLeavesValidChainUntouched(t *testing.T) {
	m := VBucketMap{{"a", "b", "c"}}
	order := []Node{"a", "b", "c"}
	hist := []Histogram{
		{"a": 1, "b": 0, "c": 0},
		{"a": 0, "b": 1, "c": 0},
		{"a": 0, "b": 0, "c": 1},
	}

	out := NewReplicas(m, order, nil, hist)
	require.Equal(t, m[0], out[0])
}

func TestNewReplicasIdempotent(t *testing.T) {
	m := VBucketMap{{"a", NoNode, NoNode}}
	order := []Node{"a", "b", "c"}
	hist := []Histogram{
		{"a": 1, "b": 0, "c": 0},
		{"a": 0, "b": 0, "c": 0},
		{"a": 0, "b": 0, "c": 0},
	}

	out1 := NewReplicas(m, order, nil, hist)

	hist2 := Histograms(out1, order)
	out2 := NewReplicas(out1, order, nil, hist2)

	require.Equal(t, out1, out2, "repairing an already-complete map must be a no-op")
}

func TestNewReplicasDoesNotMutateInput(t *testing.T) {
	m := VBucketMap{{"a", NoNode}}
	orig := m.Clone()
	hist := []Histogram{{"a": 1, "b": 0}, {"a": 0, "b": 0}}

	NewReplicas(m, []Node{"a", "b"}, nil, hist)
	require.Equal(t, orig, m)
}

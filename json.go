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
	"encoding/json"
	"fmt"
	"sort"
)

// VBucketMapJSON is the admin-surface wire representation of a
// vbucket map: integers index into ServerList, -1 stands in for ⊥.
type VBucketMapJSON struct {
	HashAlgorithm string   `json:"hashAlgorithm"`
	NumReplicas   int      `json:"numReplicas"`
	ServerList    []string `json:"serverList"`
	VBucketMap    [][]int  `json:"vBucketMap"`
}

// MarshalVBucketMapJSON renders m using serverList's sorted union with
// every node actually appearing in m (a node can be in serverList but
// absent from the map, or vice versa during transient rebalance
// states).
func MarshalVBucketMapJSON(m VBucketMap, serverList []Node) ([]byte, error) {
	union := map[Node]bool{}
	for _, n := range serverList {
		union[n] = true
	}
	for _, chain := range m {
		for _, n := range chain {
			if n != NoNode {
				union[n] = true
			}
		}
	}

	servers := make([]string, 0, len(union))
	for n := range union {
		servers = append(servers, string(n))
	}
	sort.Strings(servers)

	index := make(map[Node]int, len(servers))
	for i, s := range servers {
		index[Node(s)] = i
	}

	wire := make([][]int, len(m))
	for v, chain := range m {
		row := make([]int, len(chain))
		for slot, n := range chain {
			if n == NoNode {
				row[slot] = -1
			} else {
				row[slot] = index[n]
			}
		}
		wire[v] = row
	}

	out := VBucketMapJSON{
		HashAlgorithm: "CRC",
		NumReplicas:   m.ChainLength() - 1,
		ServerList:    servers,
		VBucketMap:    wire,
	}

	return json.Marshal(out)
}

// ParseVBucketMapJSON is the inverse of MarshalVBucketMapJSON.
func ParseVBucketMapJSON(data []byte) (VBucketMap, []Node, error) {
	var wire VBucketMapJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, err
	}

	servers := make([]Node, len(wire.ServerList))
	for i, s := range wire.ServerList {
		servers[i] = Node(s)
	}

	m := make(VBucketMap, len(wire.VBucketMap))
	for v, row := range wire.VBucketMap {
		chain := make(Chain, len(row))
		for slot, idx := range row {
			if idx < 0 {
				chain[slot] = NoNode
				continue
			}
			if idx >= len(servers) {
				return nil, nil, fmt.Errorf(
					"vbmap: vbucket %d slot %d references out-of-range server index %d",
					v, slot, idx)
			}
			chain[slot] = servers[idx]
		}
		m[v] = chain
	}

	return m, servers, nil
}

// MarshalJSON and UnmarshalJSON are thin wrappers kept for callers
// that serialize arbitrary Cfg-resident structures (CfgMem snapshots,
// bucket docs) rather than the admin-surface vbucket map shape above.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func UnmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

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

// BucketType distinguishes a vbucket-aware bucket from a
// memcached-style bucket, which carries servers but no vbucket map.
type BucketType string

const (
	BucketTypeMembase   = BucketType("membase")
	BucketTypeMemcached = BucketType("memcached")
)

// BucketDef is the persistent, Cfg-resident definition of a bucket.
// Planner and rebalancer operations read and write the Map and
// Servers fields; the rest is passed through untouched.
type BucketDef struct {
	Name         string     `json:"name"`
	Type         BucketType `json:"bucketType"`
	NumReplicas  int        `json:"numReplicas"`
	NumVBuckets  int        `json:"numVBuckets"`
	RAMQuotaMB   int        `json:"ramQuotaMB"`
	AuthType     string     `json:"authType,omitempty"`
	SASLPassword string     `json:"saslPassword,omitempty"`
	Servers      []Node     `json:"servers"`
	Map          VBucketMap `json:"vBucketMap,omitempty"`
	UUID         string     `json:"uuid"`
	ProxyPort    int        `json:"proxyPort,omitempty"`
}

// Clone returns a deep copy, so callers can stage edits without
// aliasing a definition fetched from Cfg.
func (b *BucketDef) Clone() *BucketDef {
	if b == nil {
		return nil
	}
	out := *b
	out.Servers = append([]Node(nil), b.Servers...)
	out.Map = b.Map.Clone()
	return &out
}

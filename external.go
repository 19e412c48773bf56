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

// This file names the collaborator interfaces the rebalance driver
// consumes. None of these are implemented by this module's core --
// they're the seams across which the driver talks to the data engine,
// the membership gossip layer, and the admin orchestrator, all of
// which live outside this module.

// ClusterMembership manages which nodes are considered part of the
// cluster.
type ClusterMembership interface {
	Deactivate(nodes []Node) error
	Leave(node Node) error
	ActualActiveNodes() ([]Node, error)
}

// EngineReadiness reports whether a node's per-bucket data engine has
// finished coming up for a given bucket.
type EngineReadiness interface {
	Connected(node Node, bucket string) (bool, error)
}

// Janitor performs an idempotent post-move sanity pass over a bucket.
type Janitor interface {
	Cleanup(bucket string) error
}

// ConfigReplication pushes and synchronizes the config store's
// contents to/with the rest of the cluster.
type ConfigReplication interface {
	Push() error
	Synchronize() error
}

// Orchestrator receives rebalance progress updates.
type Orchestrator interface {
	UpdateProgress(progress map[Node]float64)
}

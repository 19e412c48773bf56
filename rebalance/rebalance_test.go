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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/vbmap"
)

type fakeMembership struct {
	m           sync.Mutex
	deactivated []vbmap.Node
	left        []vbmap.Node
}

func (f *fakeMembership) Deactivate(nodes []vbmap.Node) error {
	f.m.Lock()
	defer f.m.Unlock()
	f.deactivated = append(f.deactivated, nodes...)
	return nil
}

func (f *fakeMembership) Leave(node vbmap.Node) error {
	f.m.Lock()
	defer f.m.Unlock()
	f.left = append(f.left, node)
	return nil
}

func (f *fakeMembership) ActualActiveNodes() ([]vbmap.Node, error) { return nil, nil }

type fakeReadiness struct{}

func (fakeReadiness) Connected(node vbmap.Node, bucket string) (bool, error) { return true, nil }

type fakeJanitor struct{ calls int }

func (f *fakeJanitor) Cleanup(bucket string) error { f.calls++; return nil }

type fakeConfigRepl struct {
	pushed      int
	synchronize int
}

func (f *fakeConfigRepl) Push() error        { f.pushed++; return nil }
func (f *fakeConfigRepl) Synchronize() error { f.synchronize++; return nil }

type fakeOrchestrator struct {
	m        sync.Mutex
	progress []map[vbmap.Node]float64
}

func (f *fakeOrchestrator) UpdateProgress(p map[vbmap.Node]float64) {
	f.m.Lock()
	defer f.m.Unlock()
	f.progress = append(f.progress, p)
}

func noopTransfer(bucket string, m vbmap.Move) error { return nil }

func newTestCollaborators(cfg vbmap.Cfg) (Collaborators, *fakeMembership, *fakeConfigRepl, *fakeOrchestrator) {
	membership := &fakeMembership{}
	configRepl := &fakeConfigRepl{}
	orch := &fakeOrchestrator{}

	return Collaborators{
		Cfg:          cfg,
		Membership:   membership,
		Readiness:    fakeReadiness{},
		Janitor:      &fakeJanitor{},
		ConfigRepl:   configRepl,
		Orchestrator: orch,
		Mover:        NewLocalMover(noopTransfer),
	}, membership, configRepl, orch
}

func waitDone(t *testing.T, r *Rebalancer) Result {
	select {
	case <-r.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("rebalance did not finish")
	}
	return r.Result()
}

func TestRebalancerMovesAndRepairsReplicas(t *testing.T) {
	cfg := vbmap.NewCfgMem()

	b := &vbmap.BucketDef{Name: "default", Type: vbmap.BucketTypeMembase, NumReplicas: 1}
	require.NoError(t, vbmap.CfgCreateBucket(cfg, b))
	require.NoError(t, vbmap.CfgSetServers(cfg, "default", []vbmap.Node{"a", "b"}))

	initial, err := vbmap.GenerateInitialMap(1, 4, []vbmap.Node{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, vbmap.CfgSetMap(cfg, "default", initial))

	collab, membership, configRepl, orch := newTestCollaborators(cfg)

	r := NewRebalancer(collab, Options{})
	r.StartRebalance([]vbmap.Node{"a", "b", "c"}, nil, nil)

	res := waitDone(t, r)
	require.Equal(t, StatusOK, res.Status)
	require.NoError(t, res.Err)

	got, err := vbmap.CfgGetBucket(cfg, "default")
	require.NoError(t, err)
	require.Equal(t, []vbmap.Node{"a", "b", "c"}, got.Servers)

	for _, chain := range got.Map {
		require.Len(t, chain, 2)
		seen := map[vbmap.Node]bool{}
		for _, n := range chain {
			if n == vbmap.NoNode {
				continue
			}
			require.False(t, seen[n])
			seen[n] = true
		}
	}

	require.Equal(t, 1, configRepl.synchronize)
	require.Empty(t, membership.deactivated)
	require.NotEmpty(t, orch.progress)
	require.NotEmpty(t, res.RunID)
}

func TestRebalancerEjectsRemovedNodes(t *testing.T) {
	cfg := vbmap.NewCfgMem()

	b := &vbmap.BucketDef{Name: "default", Type: vbmap.BucketTypeMembase, NumReplicas: 1}
	require.NoError(t, vbmap.CfgCreateBucket(cfg, b))
	require.NoError(t, vbmap.CfgSetServers(cfg, "default", []vbmap.Node{"a", "b", "c"}))

	initial, err := vbmap.GenerateInitialMap(1, 8, []vbmap.Node{"a", "b", "c"})
	require.NoError(t, err)
	require.NoError(t, vbmap.CfgSetMap(cfg, "default", initial))

	collab, membership, _, _ := newTestCollaborators(cfg)

	r := NewRebalancer(collab, Options{})
	r.StartRebalance([]vbmap.Node{"a", "b"}, []vbmap.Node{"c"}, nil)

	res := waitDone(t, r)
	require.Equal(t, StatusOK, res.Status)

	got, err := vbmap.CfgGetBucket(cfg, "default")
	require.NoError(t, err)
	require.Equal(t, []vbmap.Node{"a", "b"}, got.Servers)

	for _, chain := range got.Map {
		for _, n := range chain {
			require.NotEqual(t, vbmap.Node("c"), n)
		}
	}

	require.Contains(t, membership.deactivated, vbmap.Node("c"))
}

func TestRebalancerMemcachedBucketSetsServersOnly(t *testing.T) {
	cfg := vbmap.NewCfgMem()

	require.NoError(t, vbmap.CfgCreateBucket(cfg, &vbmap.BucketDef{
		Name: "mc", Type: vbmap.BucketTypeMemcached,
		Servers: []vbmap.Node{"a", "b"},
	}))

	collab, _, _, _ := newTestCollaborators(cfg)
	r := NewRebalancer(collab, Options{})
	r.StartRebalance([]vbmap.Node{"a", "b", "c"}, nil, nil)

	res := waitDone(t, r)
	require.Equal(t, StatusOK, res.Status)

	got, err := vbmap.CfgGetBucket(cfg, "mc")
	require.NoError(t, err)
	require.Equal(t, []vbmap.Node{"a", "b", "c"}, got.Servers)
	require.Empty(t, got.Map)
}

func TestRebalancerRunsGetDistinctRunIDs(t *testing.T) {
	cfg := vbmap.NewCfgMem()
	require.NoError(t, vbmap.CfgCreateBucket(cfg, &vbmap.BucketDef{
		Name: "mc", Type: vbmap.BucketTypeMemcached, Servers: []vbmap.Node{"a"},
	}))

	collab, _, _, _ := newTestCollaborators(cfg)
	r := NewRebalancer(collab, Options{})

	r.StartRebalance([]vbmap.Node{"a"}, nil, nil)
	first := waitDone(t, r)

	r.StartRebalance([]vbmap.Node{"a"}, nil, nil)
	second := waitDone(t, r)

	require.NotEmpty(t, first.RunID)
	require.NotEmpty(t, second.RunID)
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestRebalancerStopTriggersFixup(t *testing.T) {
	cfg := vbmap.NewCfgMem()

	require.NoError(t, vbmap.CfgCreateBucket(cfg, &vbmap.BucketDef{
		Name: "default", Type: vbmap.BucketTypeMembase, NumReplicas: 1,
	}))
	require.NoError(t, vbmap.CfgSetServers(cfg, "default", []vbmap.Node{"a", "b"}))

	initial, err := vbmap.GenerateInitialMap(1, 16, []vbmap.Node{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, vbmap.CfgSetMap(cfg, "default", initial))

	release := make(chan struct{})
	started := make(chan struct{}, 1)

	collab, _, _, _ := newTestCollaborators(cfg)
	collab.Mover = NewLocalMover(func(bucket string, m vbmap.Move) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	r := NewRebalancer(collab, Options{})
	r.StartRebalance([]vbmap.Node{"a", "b", "c"}, nil, nil)

	<-started
	r.Stop()
	close(release)

	res := waitDone(t, r)
	require.Equal(t, StatusStopped, res.Status)

	// fixup must still leave every chain duplicate-free.
	got, err := vbmap.CfgGetBucket(cfg, "default")
	require.NoError(t, err)
	for _, chain := range got.Map {
		seen := map[vbmap.Node]bool{}
		for _, n := range chain {
			if n == vbmap.NoNode {
				continue
			}
			require.False(t, seen[n])
			seen[n] = true
		}
	}
}

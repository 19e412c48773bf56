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

// Package rebalance drives a full cluster rebalance: per bucket, it
// plans master moves and replica repair with the vbmap package's pure
// planning primitives, hands data movement to an external Mover, and
// commits the resulting map back through vbmap's Cfg-backed bucket
// facade, all while remaining cooperatively cancellable.
package rebalance

import (
	"errors"
	"sync"
	"time"

	log "github.com/couchbase/clog"
	"github.com/couchbase/vbmap"
)

// MaxReadinessPollsDefault is the default readiness-poll bound;
// Options carries the override.
const MaxReadinessPollsDefault = 10

var ReadinessPollIntervalDefault = time.Second

// ErrWaitForEngineFailed is returned when a bucket's nodes never all
// report engine readiness within MaxReadinessPolls attempts.
var ErrWaitForEngineFailed = errors.New("rebalance: wait for engine readiness failed")

// Status is the terminal state of a rebalance run.
type Status string

const (
	StatusOK      = Status("ok")
	StatusStopped = Status("stopped")
	StatusError   = Status("error")
)

// Result is the outcome of a completed (or stopped, or failed)
// rebalance run. RunID identifies the run in progress/log output, so
// a run's moves can be correlated across log lines and orchestrator
// progress callbacks.
type Result struct {
	Status Status
	Err    error
	RunID  string
}

// Options carries tunables that would otherwise be hard-coded.
type Options struct {
	MaxReadinessPolls     int
	ReadinessPollInterval time.Duration
	Balance               vbmap.BalanceOptions
}

func (o Options) maxReadinessPolls() int {
	if o.MaxReadinessPolls > 0 {
		return o.MaxReadinessPolls
	}
	return MaxReadinessPollsDefault
}

func (o Options) readinessPollInterval() time.Duration {
	if o.ReadinessPollInterval > 0 {
		return o.ReadinessPollInterval
	}
	return ReadinessPollIntervalDefault
}

// Collaborators bundles every external interface the driver consumes;
// all of them are out of this module's scope and are supplied by the
// surrounding orchestrator.
type Collaborators struct {
	Cfg          vbmap.Cfg
	Membership   vbmap.ClusterMembership
	Readiness    vbmap.EngineReadiness
	Janitor      vbmap.Janitor
	ConfigRepl   vbmap.ConfigReplication
	Orchestrator vbmap.Orchestrator
	Mover        Mover
	// Self, if non-empty, is deferred to last in every membership
	// ejection so a node doesn't cut itself off mid-rebalance.
	Self vbmap.Node
}

// Rebalancer drives one cluster-wide rebalance. It is not reentrant:
// StartRebalance must not be called again until the previous run's
// Done() channel has closed.
type Rebalancer struct {
	collab Collaborators
	opts   Options

	m       sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	result  Result
	started bool
	runID   string
}

// NewRebalancer constructs a driver around the given collaborators.
func NewRebalancer(collab Collaborators, opts Options) *Rebalancer {
	return &Rebalancer{collab: collab, opts: opts}
}

// StartRebalance begins an asynchronous rebalance across keepNodes
// (nodes that remain), ejectNodes (nodes being gracefully removed),
// and failedNodes (nodes already down). It returns immediately; poll
// Done() or block on it to learn the Result.
func (r *Rebalancer) StartRebalance(keepNodes, ejectNodes, failedNodes []vbmap.Node) {
	runID := vbmap.NewUUID()

	r.m.Lock()
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.started = true
	r.runID = runID
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.m.Unlock()

	log.Printf("rebalance: run %s starting, keep %v, eject %v, failed %v",
		runID, keepNodes, ejectNodes, failedNodes)

	go func() {
		res := r.run(runID, keepNodes, ejectNodes, failedNodes, stopCh)
		res.RunID = runID
		log.Printf("rebalance: run %s finished, status %s", runID, res.Status)
		r.m.Lock()
		r.result = res
		r.m.Unlock()
		close(doneCh)
	}()
}

// Stop requests cooperative cancellation. It is safe to call multiple
// times and safe to call after the run has already finished.
func (r *Rebalancer) Stop() {
	r.m.Lock()
	defer r.m.Unlock()
	if r.started {
		select {
		case <-r.stopCh:
		default:
			close(r.stopCh)
		}
	}
}

// Done reports when the current run has finished.
func (r *Rebalancer) Done() <-chan struct{} {
	r.m.Lock()
	defer r.m.Unlock()
	return r.doneCh
}

// Result returns the outcome of the most recently finished run. Call
// only after Done() has closed.
func (r *Rebalancer) Result() Result {
	r.m.Lock()
	defer r.m.Unlock()
	return r.result
}

func stopRequested(stopCh chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// run implements the rebalance's phase sequence: eject failed nodes,
// then for each bucket wait for readiness, move masters, balance, and
// repair replicas, then synchronize config and eject the rest.
func (r *Rebalancer) run(runID string, keepNodes, ejectNodes, failedNodes []vbmap.Node,
	stopCh chan struct{}) Result {
	failedSet := vbmap.NodeSet(failedNodes)

	// (1) Eject failed_nodes from cluster membership first; self, if
	// failed, is left for the final ejection after every bucket.
	if r.collab.Membership != nil {
		var others []vbmap.Node
		for _, n := range failedNodes {
			if n != r.collab.Self {
				others = append(others, n)
			}
		}
		r.ejectMembership(others)
	}

	buckets, err := vbmap.CfgGetBuckets(r.collab.Cfg)
	if err != nil {
		return Result{Status: StatusError, Err: err}
	}

	progress := newProgressTable(len(buckets))

	for i, b := range buckets {
		progress.startBucket(i)

		if b.Type == vbmap.BucketTypeMemcached {
			if err := vbmap.CfgSetServers(r.collab.Cfg, b.Name, keepNodes); err != nil {
				return Result{Status: StatusError, Err: err}
			}
			continue
		}

		res := r.rebalanceBucket(runID, b, keepNodes, ejectNodes, failedSet, progress, stopCh)
		if res.Status != StatusOK {
			if failedSet[r.collab.Self] {
				r.ejectMembership([]vbmap.Node{r.collab.Self})
			}
			return res
		}
	}

	if r.collab.ConfigRepl != nil {
		if err := r.collab.ConfigRepl.Synchronize(); err != nil {
			return Result{Status: StatusError, Err: err}
		}
	}

	toEject := append(append([]vbmap.Node{}, ejectNodes...), failedNodes...)
	if r.collab.Membership != nil {
		r.ejectMembership(toEject)
	}

	return Result{Status: StatusOK}
}

func (r *Rebalancer) ejectMembership(nodes []vbmap.Node) {
	var rest []vbmap.Node
	self := false
	for _, n := range nodes {
		if n == r.collab.Self && r.collab.Self != vbmap.NoNode {
			self = true
			continue
		}
		rest = append(rest, n)
	}
	if len(rest) > 0 {
		if err := r.collab.Membership.Deactivate(rest); err != nil {
			log.Warnf("rebalance: deactivate %v: %v", rest, err)
		}
	}
	if self {
		if err := r.collab.Membership.Leave(r.collab.Self); err != nil {
			log.Warnf("rebalance: leave self %v: %v", r.collab.Self, err)
		}
	}
}

// rebalanceBucket implements §4.7 steps (a)-(k) for a single membase
// bucket, running fixup on cancellation or on any failure after the
// readiness wait.
func (r *Rebalancer) rebalanceBucket(runID string, b *vbmap.BucketDef, keepNodes, ejectNodes []vbmap.Node,
	failedSet map[vbmap.Node]bool, progress *progressTable, stopCh chan struct{}) Result {
	// (a) disable inbound replication -- modeled as part of the janitor
	// seam below since this module has no separate replication-control
	// collaborator; cleanup(bucket) is the idempotent post-move pass
	// that also covers pre-move sanitization in this simplified driver.

	// (b) servers := keepNodes ∪ ejectNodes; wait for readiness.
	allNodes := unionNodes(keepNodes, ejectNodes)
	if err := vbmap.CfgSetServers(r.collab.Cfg, b.Name, allNodes); err != nil {
		return Result{Status: StatusError, Err: err}
	}
	if err := r.waitForReadiness(b.Name, allNodes, stopCh); err != nil {
		return Result{Status: StatusError, Err: err}
	}
	if stopRequested(stopCh) {
		return r.fixup(b, ejectNodes, keepNodes, StatusStopped, nil)
	}

	// (c) janitor sanity pass.
	if r.collab.Janitor != nil {
		if err := r.collab.Janitor.Cleanup(b.Name); err != nil {
			return r.fixupOrError(b, ejectNodes, keepNodes, err)
		}
	}

	current, err := vbmap.CfgGetBucket(r.collab.Cfg, b.Name)
	if err != nil {
		return r.fixupOrError(b, ejectNodes, keepNodes, err)
	}
	m := current.Map

	// (d) master moves against turn-0 histogram over keepNodes.
	hists := vbmap.Histograms(m, keepNodes)
	moves := vbmap.MasterMoves(m, keepNodes, vbmap.NodeSet(ejectNodes), hists[0])

	// (e) hand to the mover, wrapping progress as (i + frac) / NumBuckets.
	status, err := r.runMover(runID, b.Name, moves, progress, stopCh)
	if status != StatusOK {
		return r.fixup(b, ejectNodes, keepNodes, status, err)
	}

	// (f) rewrite: moved vbuckets' masters become the new node, replica
	// slots invalidated; already folded into m by applyMasterMoves.
	m = applyMasterMoves(m, moves)
	if err := vbmap.CfgSetMap(r.collab.Cfg, b.Name, m); err != nil {
		return r.fixupOrError(b, ejectNodes, keepNodes, err)
	}

	// (g) cancellation check.
	if stopRequested(stopCh) {
		return r.fixup(b, ejectNodes, keepNodes, StatusStopped, nil)
	}

	// (h) balance turn 1, moved through the mover as well.
	if m.ChainLength() > 1 {
		hists = vbmap.Histograms(m, keepNodes)
		turn1Moves := vbmap.BalanceNodes(m, keepNodes, hists[1], 1, r.opts.Balance)
		status, err = r.runMover(runID, b.Name, turn1Moves, progress, stopCh)
		if status != StatusOK {
			return r.fixup(b, ejectNodes, keepNodes, status, err)
		}
		m = applyTurnMoves(m, turn1Moves)
		if err := vbmap.CfgSetMap(r.collab.Cfg, b.Name, m); err != nil {
			return r.fixupOrError(b, ejectNodes, keepNodes, err)
		}
	}

	// (i) replica repair against ejectNodes; commit.
	hists = vbmap.Histograms(m, keepNodes)
	m = vbmap.NewReplicas(m, keepNodes, vbmap.NodeSet(ejectNodes), hists)
	if err := vbmap.CfgSetMap(r.collab.Cfg, b.Name, m); err != nil {
		return r.fixupOrError(b, ejectNodes, keepNodes, err)
	}

	if stopRequested(stopCh) {
		return r.fixup(b, ejectNodes, keepNodes, StatusStopped, nil)
	}

	// (j) progressive turn-I balance (pure map update, no mover call)
	// then replica repair, for I = 2 .. ChainLength-1.
	for turn := 2; turn < m.ChainLength(); turn++ {
		hists = vbmap.Histograms(m, keepNodes)
		turnMoves := vbmap.BalanceNodes(m, keepNodes, hists[turn], turn, r.opts.Balance)
		m = applyTurnMoves(m, turnMoves)

		hists = vbmap.Histograms(m, keepNodes)
		m = vbmap.NewReplicas(m, keepNodes, vbmap.NodeSet(ejectNodes), hists)
	}
	if err := vbmap.CfgSetMap(r.collab.Cfg, b.Name, m); err != nil {
		return r.fixupOrError(b, ejectNodes, keepNodes, err)
	}

	// (k) commit final servers, final map, push config.
	if err := vbmap.CfgSetServers(r.collab.Cfg, b.Name, keepNodes); err != nil {
		return r.fixupOrError(b, ejectNodes, keepNodes, err)
	}
	if r.collab.ConfigRepl != nil {
		if err := r.collab.ConfigRepl.Push(); err != nil {
			return r.fixupOrError(b, ejectNodes, keepNodes, err)
		}
	}

	return Result{Status: StatusOK}
}

// fixupOrError runs fixup then propagates err verbatim -- the original
// error value, never rewrapped or re-invoked as a constructor (a past
// bug treated an error's own formatted message as a new error
// constructor argument, silently losing the underlying cause).
func (r *Rebalancer) fixupOrError(b *vbmap.BucketDef, ejectNodes, keepNodes []vbmap.Node, err error) Result {
	res := r.fixup(b, ejectNodes, keepNodes, StatusError, err)
	return res
}

// fixup runs new_replicas against the bucket's current committed map
// and eject_nodes, commits it, sets servers to keepNodes ∪ ejectNodes,
// and returns with the given terminal status. A stop signal observed
// during fixup is ignored; fixup always runs to completion.
func (r *Rebalancer) fixup(b *vbmap.BucketDef, ejectNodes, keepNodes []vbmap.Node,
	status Status, cause error) Result {
	current, err := vbmap.CfgGetBucket(r.collab.Cfg, b.Name)
	if err != nil {
		if cause != nil {
			return Result{Status: StatusError, Err: cause}
		}
		return Result{Status: StatusError, Err: err}
	}

	hists := vbmap.Histograms(current.Map, keepNodes)
	fixed := vbmap.NewReplicas(current.Map, keepNodes, vbmap.NodeSet(ejectNodes), hists)

	if err := vbmap.CfgSetMap(r.collab.Cfg, b.Name, fixed); err != nil {
		if cause != nil {
			return Result{Status: StatusError, Err: cause}
		}
		return Result{Status: StatusError, Err: err}
	}

	allNodes := unionNodes(keepNodes, ejectNodes)
	if err := vbmap.CfgSetServers(r.collab.Cfg, b.Name, allNodes); err != nil {
		if cause != nil {
			return Result{Status: StatusError, Err: cause}
		}
		return Result{Status: StatusError, Err: err}
	}

	return Result{Status: status, Err: cause}
}

// waitForReadiness polls Connected for every node up to
// opts.maxReadinessPolls() times, sleeping opts.readinessPollInterval()
// between rounds. A stop signal observed during the wait returns nil
// (the caller treats the nil+stopRequested combination as "go fixup");
// exhausting the poll budget returns ErrWaitForEngineFailed.
func (r *Rebalancer) waitForReadiness(bucket string, nodes []vbmap.Node, stopCh chan struct{}) error {
	if r.collab.Readiness == nil {
		return nil
	}

	for attempt := 0; attempt < r.opts.maxReadinessPolls(); attempt++ {
		if stopRequested(stopCh) {
			return nil
		}

		allReady := true
		for _, n := range nodes {
			ok, err := r.collab.Readiness.Connected(n, bucket)
			if err != nil || !ok {
				allReady = false
				break
			}
		}
		if allReady {
			return nil
		}

		select {
		case <-stopCh:
			return nil
		case <-time.After(r.opts.readinessPollInterval()):
		}
	}

	return ErrWaitForEngineFailed
}

// runMover hands moves to the collaborator mover, wrapping its
// per-node progress through progress.overall before forwarding to the
// orchestrator, and translates the mover's terminal status. runID
// identifies the enclosing rebalance run in the dispatch log line, so
// a batch of moves can be tied back to the run that planned them.
func (r *Rebalancer) runMover(runID, bucket string, moves []vbmap.Move, progress *progressTable,
	stopCh chan struct{}) (Status, error) {
	if len(moves) == 0 {
		return StatusOK, nil
	}

	log.Printf("rebalance: run %s: bucket %s: dispatching %d moves", runID, bucket, len(moves))

	handle := r.collab.Mover.Start(bucket, moves, func(local map[vbmap.Node]float64) {
		if r.collab.Orchestrator != nil {
			r.collab.Orchestrator.UpdateProgress(progress.overall(local))
		}
	})

	select {
	case <-stopCh:
		handle.Stop()
		<-handle.Done()
		return StatusStopped, nil
	case <-handle.Done():
	}

	switch handle.Result() {
	case MoverOK:
		return StatusOK, nil
	case MoverStopped:
		return StatusStopped, nil
	default:
		return StatusError, handle.Err()
	}
}

func unionNodes(a, b []vbmap.Node) []vbmap.Node {
	set := vbmap.NodeSet(a)
	out := append([]vbmap.Node{}, a...)
	for _, n := range b {
		if !set[n] {
			set[n] = true
			out = append(out, n)
		}
	}
	return out
}

// applyMasterMoves rewrites slot 0 for every moved vbucket and
// invalidates its replica slots, via vbmap.ApplyMove.
func applyMasterMoves(m vbmap.VBucketMap, moves []vbmap.Move) vbmap.VBucketMap {
	return applyTurnMoves(m, moves)
}

// applyTurnMoves applies a batch of same-turn moves to m.
func applyTurnMoves(m vbmap.VBucketMap, moves []vbmap.Move) vbmap.VBucketMap {
	for _, mv := range moves {
		m = vbmap.ApplyMove(m, mv.Turn, mv.V, mv.New)
	}
	return m
}

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
	"fmt"
	"sync"

	"github.com/couchbase/vbmap"
)

// MoverResult is the terminal status of a mover run.
type MoverResult string

const (
	MoverOK      = MoverResult("ok")
	MoverStopped = MoverResult("stopped")
)

// MoverHandle is the live handle to a started mover run: callers poll
// Done() or select on it, then read Result()/Err().
type MoverHandle interface {
	Stop()
	Done() <-chan struct{}
	Result() MoverResult
	Err() error
}

// Mover performs the actual data migration for a batch of master
// moves, one vbucket at a time, reporting fractional per-node progress
// as it goes. Implementations that talk to the per-node data engine
// live outside this module; localMover below is a reference
// implementation usable in tests and single-process deployments.
type Mover interface {
	Start(bucket string, moves []vbmap.Move,
		progressFn func(map[vbmap.Node]float64)) MoverHandle
}

// localMover moves vbuckets by invoking a caller-supplied transfer
// function for each move, fanning out across a worker pool sized to
// runtime.NumCPU() (or the move count, if smaller) the way a scatter/gather
// task is split across partitions.
type localMover struct {
	transfer func(bucket string, m vbmap.Move) error
}

// NewLocalMover returns a Mover whose transfer function performs a
// single vbucket move; intended for tests and for small deployments
// where the planner process also owns the data path.
func NewLocalMover(transfer func(bucket string, m vbmap.Move) error) Mover {
	return &localMover{transfer: transfer}
}

type localMoverHandle struct {
	stopCh chan struct{}
	doneCh chan struct{}

	m      sync.Mutex
	result MoverResult
	err    error
}

func (h *localMoverHandle) Stop() {
	select {
	case <-h.stopCh:
	default:
		close(h.stopCh)
	}
}

func (h *localMoverHandle) Done() <-chan struct{} { return h.doneCh }

func (h *localMoverHandle) Result() MoverResult {
	h.m.Lock()
	defer h.m.Unlock()
	return h.result
}

func (h *localMoverHandle) Err() error {
	h.m.Lock()
	defer h.m.Unlock()
	return h.err
}

func (h *localMoverHandle) finish(result MoverResult, err error) {
	h.m.Lock()
	h.result = result
	h.err = err
	h.m.Unlock()
	close(h.doneCh)
}

// Start fans moves out across a bounded worker pool. Each worker pulls
// the next move off a shared channel, performs the transfer, and
// reports progress as the fraction of this bucket's moves completed
// so far for the node it just finished moving data onto. A Stop()
// observed between moves halts further dispatch and the handle
// finishes with MoverStopped once in-flight transfers drain.
func (lm *localMover) Start(bucket string, moves []vbmap.Move,
	progressFn func(map[vbmap.Node]float64)) MoverHandle {
	h := &localMoverHandle{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if len(moves) == 0 {
		go h.finish(MoverOK, nil)
		return h
	}

	go lm.run(bucket, moves, progressFn, h)

	return h
}

func (lm *localMover) run(bucket string, moves []vbmap.Move,
	progressFn func(map[vbmap.Node]float64), h *localMoverHandle) {
	workerCount := vbmap.WorkerCount(len(moves))
	if workerCount < 1 {
		workerCount = 1
	}

	workCh := make(chan vbmap.Move)
	errCh := make(chan error, len(moves))

	var completed int64
	var mu sync.Mutex
	progress := map[vbmap.Node]float64{}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for mv := range workCh {
				if err := lm.transfer(bucket, mv); err != nil {
					errCh <- fmt.Errorf("mover: bucket %s, vbucket %d: %w",
						bucket, mv.V, err)
					continue
				}

				mu.Lock()
				completed++
				progress[mv.New] = float64(completed) / float64(len(moves))
				snapshot := make(map[vbmap.Node]float64, len(progress))
				for k, v := range progress {
					snapshot[k] = v
				}
				mu.Unlock()

				if progressFn != nil {
					progressFn(snapshot)
				}
			}
		}()
	}

	go func() {
	feed:
		for _, mv := range moves {
			select {
			case <-h.stopCh:
				break feed
			case workCh <- mv:
			}
		}
		close(workCh)
	}()

	wg.Wait()
	close(errCh)

	select {
	case <-h.stopCh:
		h.finish(MoverStopped, nil)
		return
	default:
	}

	for err := range errCh {
		h.finish("", err)
		return
	}

	h.finish(MoverOK, nil)
}

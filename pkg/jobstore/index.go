// Copyright 2025 HWForge Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jobstore

import (
	"context"
	"sync"
)

// JobIndex is the in-memory lookaside cache: job name to the last state this
// process observed on disk. It is advisory only. A cached state may be stale
// the moment it is read; the claim path always re-reads the record before
// acting, so staleness costs a wasted read, never a wrong claim.
//
// The index also carries the shared wake-up channel workers block on when no
// claimable job exists. Broadcast closes and replaces the channel, so waiters
// can select on it together with their context.
type JobIndex struct {
	mu     sync.Mutex
	states map[string]string
	wake   chan struct{}
}

// NewJobIndex returns an empty index.
func NewJobIndex() *JobIndex {
	return &JobIndex{
		states: make(map[string]string),
		wake:   make(chan struct{}),
	}
}

// Set records the last observed state of a job.
func (ix *JobIndex) Set(name, state string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.states[name] = state
}

// Get returns the cached state of a job, if any.
func (ix *JobIndex) Get(name string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	state, ok := ix.states[name]

	return state, ok
}

// Forget drops a job from the index, e.g. after its record turned out to be
// unreadable or its directory was removed.
func (ix *JobIndex) Forget(name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	delete(ix.states, name)
}

// Snapshot returns a copy of the whole index for lock-free iteration.
func (ix *JobIndex) Snapshot() map[string]string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	snapshot := make(map[string]string, len(ix.states))
	for name, state := range ix.states {
		snapshot[name] = state
	}

	return snapshot
}

// Len returns the number of indexed jobs.
func (ix *JobIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return len(ix.states)
}

// Broadcast wakes every goroutine currently blocked in Wait. Called after
// every state-changing write and by the external notifier.
func (ix *JobIndex) Broadcast() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	close(ix.wake)
	ix.wake = make(chan struct{})
}

// Wait blocks until the next Broadcast or until ctx is done. A Broadcast
// that happens between a failed claim attempt and the Wait call is not lost:
// callers grab the channel via waitChan before re-checking, but the simple
// form here is sufficient for workers that loop anyway.
func (ix *JobIndex) Wait(ctx context.Context) error {
	ix.mu.Lock()
	wake := ix.wake
	ix.mu.Unlock()

	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitChan returns the current wake channel. Callers that must not miss a
// broadcast between observing state and blocking should fetch the channel
// first, re-check their condition, and only then select on it.
func (ix *JobIndex) WaitChan() <-chan struct{} {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.wake
}

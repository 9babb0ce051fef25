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
	"errors"
	"fmt"

	"github.com/hwforge/forge-core/pkg/metrics"
)

// Acquire finds one job in fromState, atomically rewrites it to toState, and
// returns it. It blocks until a job is claimed or ctx is cancelled; it never
// returns without one of the two.
//
// The claim order is cache first, then a full randomized scan, then a wait
// for the next broadcast:
//
//  1. Every index entry cached in fromState is a candidate. Its record is
//     re-read from disk under the claim mutex; only a matching disk state
//     wins. A disagreeing record corrects the cache and the search moves on.
//  2. A full scan re-reads every job (jobs cached as terminal last, each
//     still individually re-verified against its own record) and refreshes
//     the cache, so later rounds converge toward cache hits.
//  3. With nothing claimable, the worker parks on the index's wake channel.
//     The channel is fetched before the scan-free re-check, so a broadcast
//     racing the decision to sleep is never lost.
func (s *Store) Acquire(ctx context.Context, fromState, toState string) (*Job, error) {
	if err := s.graph.Validate(fromState, toState); err != nil {
		return nil, fmt.Errorf("invalid claim %s -> %s: %w", fromState, toState, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Grab the wake channel before looking, so a state change that
		// happens mid-search wakes us instead of slipping by.
		wake := s.index.WaitChan()

		if job, err := s.acquireFromCache(ctx, fromState, toState); err != nil {
			return nil, err
		} else if job != nil {
			metrics.IncClaim(fromState, metrics.ClaimPathCache)

			return job, nil
		}

		job, err := s.acquireFromScan(ctx, fromState, toState)
		if err != nil {
			return nil, err
		}

		if job != nil {
			metrics.IncClaim(fromState, metrics.ClaimPathScan)

			return job, nil
		}

		metrics.IncAcquireBlocked(fromState)

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// acquireFromCache tries to claim any job the index last saw in fromState.
// Returns (nil, nil) when no cached candidate wins.
func (s *Store) acquireFromCache(ctx context.Context, fromState, toState string) (*Job, error) {
	for name, cached := range s.index.Snapshot() {
		if cached != fromState {
			continue
		}

		job, err := s.tryClaim(ctx, name, fromState, toState)
		if err != nil {
			return nil, err
		}

		if job != nil {
			return job, nil
		}
	}

	return nil, nil
}

// acquireFromScan walks every job directory, refreshing the cache as a side
// effect of Scan, and claims the first match. Returns (nil, nil) when the
// walk finishes without a winner.
func (s *Store) acquireFromScan(ctx context.Context, fromState, toState string) (*Job, error) {
	var claimed *Job

	err := s.Scan(ctx, true, func(job *Job) (bool, error) {
		if job.State != fromState {
			return false, nil
		}

		won, err := s.tryClaim(ctx, job.Name, fromState, toState)
		if err != nil {
			return true, err
		}

		if won != nil {
			claimed = won

			return true, nil
		}

		return false, nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// tryClaim is the atomic read-compare-claim critical section for a single
// candidate. Under claimMu it re-reads the authoritative record, verifies
// the state still matches, and commits the locked state. Two workers racing
// for the same job serialize here; the loser sees the already-rewritten
// state and walks away. The cache entry is corrected either way.
func (s *Store) tryClaim(ctx context.Context, name, fromState, toState string) (*Job, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	job, err := s.Read(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRecord) {
			// The candidate evaporated or is unusable. Not a claim error;
			// the caller just moves on to the next candidate.
			s.noteUnreadable(name, err)

			return nil, nil
		}

		return nil, err
	}

	if job.State != fromState {
		// Stale hint. Correct the cache and keep searching.
		s.index.Set(job.Name, job.State)

		return nil, nil
	}

	job.State = toState

	if err := s.writeRecord(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to commit claim of job %s: %w", name, err)
	}

	s.index.Set(job.Name, job.State)
	s.index.Broadcast()
	s.log.Debugf("claimed job %s: %s -> %s", job.Name, fromState, toState)

	return job, nil
}

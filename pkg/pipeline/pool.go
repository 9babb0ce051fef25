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

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hwforge/forge-core/pkg/backoff"
	"github.com/hwforge/forge-core/pkg/config"
	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// worker is one infinite acquire-work-commit loop bound to one stage.
// Multiple workers may share a stage; the claim protocol guarantees at most
// one winner per job, so extra workers only add parallelism across jobs.
type worker struct {
	id    string
	stage string
	fn    StageFunc
	env   Env
	log   *zap.SugaredLogger
}

// Pool owns all configured workers. Its only suspension points are the
// blocking wait inside Acquire and bounded command timeouts inside stages;
// there is no graceful per-worker stop beyond cancelling the pool context.
type Pool struct {
	workers []worker
	log     *zap.SugaredLogger
}

// NewPool resolves the configured toolchains against the registry and
// builds one worker per stage instance. A stage appearing in several
// toolchains gets one worker set, not one per toolchain; stage settings
// control the per-stage worker count.
func NewPool(store *jobstore.Store, cfg *config.FullConfig, registry *Registry) (*Pool, error) {
	if err := registry.ValidateToolchains(cfg); err != nil {
		return nil, err
	}

	pool := &Pool{log: logger.For(logger.ComponentPipeline)}

	for _, stage := range cfg.StageNames() {
		fn, _ := registry.Lookup(stage)
		settings := cfg.StageSettingsFor(stage)

		for i := 0; i < settings.Workers; i++ {
			id := uuid.NewString()[:8]
			pool.workers = append(pool.workers, worker{
				id:    id,
				stage: stage,
				fn:    fn,
				env:   Env{Store: store, Settings: settings},
				log:   logger.For(logger.ComponentWorker).With("stage", stage, "worker", id),
			})
		}
	}

	return pool, nil
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Run starts every worker and blocks until the context is cancelled or a
// worker hits a permanent failure. Transient session failures (filesystem
// hiccups, commit write errors) are retried with exponential backoff and
// never take the pool down.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Infof("starting %d workers", len(p.workers))

	group, groupCtx := errgroup.WithContext(ctx)

	for i := range p.workers {
		w := p.workers[i]
		group.Go(func() error {
			return w.loop(groupCtx)
		})
	}

	return group.Wait()
}

func (w *worker) loop(ctx context.Context) error {
	manager := backoff.NewBackoffManager(backoff.DefaultConfig("worker "+w.id, w.log))

	w.log.Info("worker started")

	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("worker stopped")

			return nil
		}

		err := w.fn(ctx, w.env)
		if err == nil {
			manager.Reset()

			continue
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			w.log.Info("worker stopped")

			return nil
		}

		if backoff.IsPermanentError(err) {
			w.log.Errorf("worker giving up: %s", err)

			return err
		}

		wait := manager.Next()

		if manager.Exhausted() {
			marked := manager.MarkFailure(err)
			w.log.Errorf("worker exhausted retries: %s", marked)

			return marked
		}

		w.log.Warnf("stage loop error, retrying in %s: %s", wait, err)

		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

// sleepCtx waits d, returning false when the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

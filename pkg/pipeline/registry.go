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
	"fmt"
	"sort"
	"sync"

	"github.com/hwforge/forge-core/pkg/config"
	"github.com/hwforge/forge-core/pkg/jobstore"
)

// Env is what a stage body gets to work with: the shared store and the
// stage's settings from the active configuration.
type Env struct {
	Store    *jobstore.Store
	Settings config.StageSettings
}

// StageFunc is one pipeline stage: it performs exactly one work session
// (claim, work, commit) and returns. The worker loop calls it forever.
// Job-level outcomes are absorbed inside the session; a non-nil return
// means the session machinery itself broke.
type StageFunc func(ctx context.Context, env Env) error

// Registry maps stage names to their bodies. Toolchain configurations refer
// to stages by name; resolution happens once at startup, so a typo in the
// config aborts the daemon instead of idling a worker.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]StageFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]StageFunc)}
}

// Register binds a stage body to a name. Re-registering a name is a
// programming error and panics at startup.
func (r *Registry) Register(name string, fn StageFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stages[name]; exists {
		panic(fmt.Sprintf("stage %q registered twice", name))
	}

	r.stages[name] = fn
}

// Lookup returns the body of a named stage.
func (r *Registry) Lookup(name string) (StageFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.stages[name]

	return fn, ok
}

// Names returns all registered stage names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ValidateToolchains checks every stage name the configuration references
// against the registry. Called before any worker starts.
func (r *Registry) ValidateToolchains(cfg *config.FullConfig) error {
	for toolchain, tc := range cfg.Toolchains {
		for _, stage := range tc.Stages {
			if _, ok := r.Lookup(stage); !ok {
				return fmt.Errorf("toolchain %q references unknown stage %q (known: %v)", toolchain, stage, r.Names())
			}
		}
	}

	return nil
}

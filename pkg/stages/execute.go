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

package stages

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hwforge/forge-core/pkg/pipeline"
	"github.com/hwforge/forge-core/pkg/state"
	"github.com/hwforge/forge-core/pkg/work"
)

// ConfigKeyOutputs lists result files (relative to the code tree) whose
// contents are copied into the job log after a successful run, so users get
// their numbers without fetching the archive.
const ConfigKeyOutputs = "outputs"

// outputTailLimit bounds how much of each output file lands in the log.
const outputTailLimit = 64 * 1024

// Execute runs the synthesized design on its target.
func Execute(ctx context.Context, env pipeline.Env) error {
	return work.WithJob(ctx, env.Store, StageExecute, state.StateSynthesized, state.StateExecuting, work.Fixed(state.StateDone),
		func(ctx context.Context, session *work.Session) error {
			command := env.Settings.Command
			args := env.Settings.Args

			if command == "" {
				command = "make"
				args = []string{"run"}
			}

			opts := work.RunOptions{Timeout: env.Settings.Timeout}
			if _, err := session.Run(ctx, opts, command, args...); err != nil {
				return err
			}

			return collectOutputs(ctx, env, session)
		})
}

// collectOutputs appends the job's declared output files to its log. A
// missing output is a recoverable failure: the run claimed success but did
// not deliver what the job promised.
func collectOutputs(ctx context.Context, env pipeline.Env, session *work.Session) error {
	raw, ok := session.Config(ConfigKeyOutputs)
	if !ok {
		return nil
	}

	list, ok := raw.([]any)
	if !ok {
		return work.Failf("job config %q must be a list of file names", ConfigKeyOutputs)
	}

	for _, item := range list {
		name, ok := item.(string)
		if !ok || name == "" || strings.Contains(name, "..") {
			return work.Failf("invalid output file name %v", item)
		}

		data, err := env.Store.FS().ReadFile(ctx, filepath.Join(session.CodeDir(), name))
		if err != nil {
			return work.Failf("output file %s missing after run: %s", name, err)
		}

		if len(data) > outputTailLimit {
			data = data[len(data)-outputTailLimit:]
		}

		if err := session.Logf(ctx, "output %s:\n%s", name, strings.TrimSpace(string(data))); err != nil {
			return err
		}
	}

	return nil
}

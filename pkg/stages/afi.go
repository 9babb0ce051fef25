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
	"time"

	"github.com/hwforge/forge-core/pkg/pipeline"
	"github.com/hwforge/forge-core/pkg/state"
	"github.com/hwforge/forge-core/pkg/work"
)

const (
	// afiStatusScript, when present in the code tree, is polled after the
	// image generation command returns until it reports a final status.
	// Image registration continues asynchronously on the cloud side after
	// the submit command exits, which is why generation alone is not enough.
	afiStatusScript = "afi_status.sh"

	// afiPollInterval is the wait between status polls.
	afiPollInterval = 30 * time.Second

	afiStatusAvailable = "available"
	afiStatusFailed    = "failed"
)

// GenerateAFI turns a finished hardware build into a loadable FPGA image.
func GenerateAFI(ctx context.Context, env pipeline.Env) error {
	return work.WithJob(ctx, env.Store, StageAFI, state.StateAFIPending, state.StateAFIGenerating, work.Fixed(state.StateSynthesized),
		func(ctx context.Context, session *work.Session) error {
			command := env.Settings.Command
			args := env.Settings.Args

			if command == "" {
				command = "make"
				args = []string{"afi"}
			}

			opts := work.RunOptions{Timeout: env.Settings.Timeout}
			if _, err := session.Run(ctx, opts, command, args...); err != nil {
				return err
			}

			return awaitAFI(ctx, env, session)
		})
}

// awaitAFI polls the project's status script until the image is available,
// the image fails, or the stage timeout runs out. Projects without the
// script are done when the generation command is.
func awaitAFI(ctx context.Context, env pipeline.Env, session *work.Session) error {
	script := filepath.Join(session.CodeDir(), afiStatusScript)

	exists, err := env.Store.FS().PathExists(ctx, script)
	if err != nil {
		return err
	}

	if !exists {
		return nil
	}

	deadline := time.Now().Add(env.Settings.Timeout)

	for {
		output, err := session.Run(ctx, work.RunOptions{Capture: true}, script)
		if err != nil {
			return err
		}

		switch status := strings.TrimSpace(lastLine(output)); status {
		case afiStatusAvailable:
			return session.Log(ctx, "FPGA image available")
		case afiStatusFailed:
			return work.Failf("FPGA image generation failed")
		default:
			if err := session.Logf(ctx, "FPGA image status: %s", status); err != nil {
				return err
			}
		}

		if time.Now().Add(afiPollInterval).After(deadline) {
			return work.Failf("FPGA image not available after %s", env.Settings.Timeout)
		}

		select {
		case <-time.After(afiPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")

	return lines[len(lines)-1]
}

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
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/hwforge/forge-core/pkg/pipeline"
	"github.com/hwforge/forge-core/pkg/state"
	"github.com/hwforge/forge-core/pkg/work"
)

// Job config keys the make stage reads and writes.
const (
	// ConfigKeyToolchain names the toolchain the job was created for.
	ConfigKeyToolchain = "toolchain"

	// ConfigKeyTarget selects the execution target; "sim" skips the FPGA
	// image generation even on a hardware toolchain.
	ConfigKeyTarget = "target"

	// ConfigKeyConf receives the parsed forge.conf variables.
	ConfigKeyConf = "conf"

	// confToolchainVersion is the forge.conf variable the semver gate
	// checks.
	confToolchainVersion = "TOOLCHAIN_VERSION"
)

// Make runs the synthesis make on an unpacked job. The destination is
// computed after the build: f1 toolchain jobs not targeting simulation need
// an FPGA image next, everything else is ready to execute.
func Make(ctx context.Context, env pipeline.Env) error {
	dest := work.Computed(func(session *work.Session) string {
		toolchain, _ := session.ConfigString(ConfigKeyToolchain)
		target, _ := session.ConfigString(ConfigKeyTarget)

		if toolchain == "f1" && target != "sim" {
			return state.StateAFIPending
		}

		return state.StateSynthesized
	})

	return work.WithJob(ctx, env.Store, StageMake, state.StateMake, state.StateBuilding, dest,
		func(ctx context.Context, session *work.Session) error {
			if err := loadForgeConf(ctx, env, session); err != nil {
				return err
			}

			command := env.Settings.Command
			if command == "" {
				command = "make"
			}

			opts := work.RunOptions{Timeout: env.Settings.Timeout}
			_, err := session.Run(ctx, opts, command, env.Settings.Args...)

			return err
		})
}

// loadForgeConf parses the project's forge.conf into the job config and
// applies the toolchain version gate. A missing file is fine; projects
// without metadata just get no gate and no variables.
func loadForgeConf(ctx context.Context, env pipeline.Env, session *work.Session) error {
	data, err := env.Store.FS().ReadFile(ctx, filepath.Join(session.CodeDir(), ForgeConfName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read %s: %w", ForgeConfName, err)
	}

	vars := ParseForgeConf(data)
	if err := session.SetConfig(ctx, ConfigKeyConf, vars); err != nil {
		return err
	}

	if err := session.Logf(ctx, "parsed %s: %d variables", ForgeConfName, len(vars)); err != nil {
		return err
	}

	return checkToolchainVersion(env, vars)
}

// checkToolchainVersion enforces the configured minimum toolchain version
// against the version the project declares. Unparsable versions are
// recoverable failures, not faults: the operator fixes the project file.
func checkToolchainVersion(env pipeline.Env, vars map[string]string) error {
	minimum := env.Settings.MinToolchainVersion
	if minimum == "" {
		return nil
	}

	declared, ok := vars[confToolchainVersion]
	if !ok {
		return work.Failf("%s does not declare %s but the configuration requires at least %s", ForgeConfName, confToolchainVersion, minimum)
	}

	version, err := semver.NewVersion(declared)
	if err != nil {
		return work.Failf("%s declares invalid %s %q: %s", ForgeConfName, confToolchainVersion, declared, err)
	}

	constraint, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return fmt.Errorf("invalid minToolchainVersion %q in stage settings: %w", minimum, err)
	}

	if !constraint.Check(version) {
		return work.Failf("toolchain version %s is below the required minimum %s", declared, minimum)
	}

	return nil
}

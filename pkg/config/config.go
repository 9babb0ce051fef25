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

package config

import (
	"fmt"
	"time"

	"github.com/hwforge/forge-core/pkg/constants"
	"github.com/tiendc/go-deepcopy"
)

// FullConfig is the daemon configuration, read from one YAML file.
type FullConfig struct {
	// BaseDir is the root of all job state; jobs live under <BaseDir>/jobs/.
	BaseDir string `yaml:"baseDir"`

	// ListenAddr is the bind address of the HTTP API.
	ListenAddr string `yaml:"listenAddr"`

	// MetricsAddr is the bind address of the Prometheus endpoint.
	MetricsAddr string `yaml:"metricsAddr"`

	// NotifySocket is the unix socket of the out-of-band wake-up channel.
	// Empty disables the socket; the poll fallback still runs.
	NotifySocket string `yaml:"notifySocket"`

	// PollInterval is the period of the broadcast fallback that lets
	// workers notice record changes made behind the daemon's back.
	PollInterval time.Duration `yaml:"pollInterval"`

	// SentryDSN enables fault reporting when set.
	SentryDSN string `yaml:"sentryDsn"`

	// DefaultToolchain is used for uploads that do not name one.
	DefaultToolchain string `yaml:"defaultToolchain"`

	// Toolchains maps toolchain names to their ordered stage lists.
	Toolchains map[string]ToolchainConfig `yaml:"toolchains"`

	// Stages holds per-stage settings, keyed by stage name.
	Stages map[string]StageSettings `yaml:"stages"`
}

// ToolchainConfig describes one toolchain's pipeline.
type ToolchainConfig struct {
	// Stages is the ordered list of stage names jobs of this toolchain
	// pass through. Every name must exist in the stage registry; unknown
	// names abort startup before any worker runs.
	Stages []string `yaml:"stages"`
}

// StageSettings tunes one stage.
type StageSettings struct {
	// Timeout bounds each external command the stage runs.
	Timeout time.Duration `yaml:"timeout"`

	// Workers is how many workers service this stage in parallel.
	Workers int `yaml:"workers"`

	// Command overrides the stage's default executable.
	Command string `yaml:"command"`

	// Args are extra arguments for the stage command.
	Args []string `yaml:"args"`

	// MinToolchainVersion gates the synthesis make on the toolchain
	// version found in the project's forge.conf (semver constraint).
	MinToolchainVersion string `yaml:"minToolchainVersion"`
}

// DefaultConfig returns the configuration a fresh install starts with.
func DefaultConfig() FullConfig {
	return FullConfig{
		BaseDir:          constants.DefaultBaseDir,
		ListenAddr:       constants.DefaultListenAddr,
		MetricsAddr:      constants.DefaultMetricsAddr,
		NotifySocket:     constants.DefaultNotifySocket,
		PollInterval:     constants.DefaultPollInterval,
		DefaultToolchain: "f1",
		Toolchains: map[string]ToolchainConfig{
			// f1: full hardware flow including FPGA image generation.
			"f1": {Stages: []string{"unpack", "make", "afi", "execute"}},
			// sim: software simulation, no FPGA image needed.
			"sim": {Stages: []string{"unpack", "make", "execute"}},
		},
		Stages: map[string]StageSettings{
			"make": {Workers: 1 + constants.DefaultMakeParallelism},
		},
	}
}

// applyDefaults fills unset scalar fields so a hand-trimmed config file
// still yields a runnable daemon.
func (c *FullConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = constants.DefaultListenAddr
	}

	if c.MetricsAddr == "" {
		c.MetricsAddr = constants.DefaultMetricsAddr
	}

	if c.PollInterval <= 0 {
		c.PollInterval = constants.DefaultPollInterval
	}
}

// StageSettingsFor returns the settings of a stage with defaults applied.
func (c *FullConfig) StageSettingsFor(name string) StageSettings {
	settings := c.Stages[name]

	if settings.Timeout <= 0 {
		settings.Timeout = constants.DefaultStageTimeout
	}

	if settings.Workers <= 0 {
		settings.Workers = 1
	}

	return settings
}

// StageNames returns the union of stage names across all toolchains, in
// first-appearance order.
func (c *FullConfig) StageNames() []string {
	seen := make(map[string]bool)
	names := make([]string, 0)

	for _, toolchain := range c.Toolchains {
		for _, stage := range toolchain.Stages {
			if !seen[stage] {
				seen[stage] = true
				names = append(names, stage)
			}
		}
	}

	return names
}

// Validate checks internal consistency. The registry check (unknown stage
// names) happens separately at startup, against the actual registry.
func (c *FullConfig) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("baseDir must be set")
	}

	if len(c.Toolchains) == 0 {
		return fmt.Errorf("at least one toolchain must be configured")
	}

	if c.DefaultToolchain == "" {
		return fmt.Errorf("defaultToolchain must be set")
	}

	if _, ok := c.Toolchains[c.DefaultToolchain]; !ok {
		return fmt.Errorf("defaultToolchain %q is not a configured toolchain", c.DefaultToolchain)
	}

	for name, toolchain := range c.Toolchains {
		if len(toolchain.Stages) == 0 {
			return fmt.Errorf("toolchain %q has no stages", name)
		}
	}

	return nil
}

// Clone returns a deep copy so callers can mutate their view freely.
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig

	if err := deepcopy.Copy(&clone, &c); err != nil {
		// The schema is plain data; deepcopy cannot fail on it. Fall back
		// to the shallow copy rather than returning nothing.
		return c
	}

	return clone
}

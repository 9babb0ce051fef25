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
	"context"
	"fmt"

	"github.com/hwforge/forge-core/pkg/env"
	"go.uber.org/zap"
)

// LoadConfigWithEnvOverrides loads (or creates) the config file and applies
// environment variable overrides, persisting the merged result back to the
// file. Precedence, highest first: environment variables, existing file
// values, built-in defaults.
//
// Overrides are deliberately permanent: in container deployments the file
// lives on a volume and a -e flag passed once becomes the baseline for
// subsequent runs, mirroring how the rest of the fleet is configured.
//
// Recognized variables: FORGE_BASE_DIR, FORGE_LISTEN_ADDR,
// FORGE_METRICS_ADDR, FORGE_NOTIFY_SOCKET, FORGE_SENTRY_DSN,
// FORGE_DEFAULT_TOOLCHAIN.
func LoadConfigWithEnvOverrides(ctx context.Context, manager *FileConfigManager, log *zap.SugaredLogger) (FullConfig, error) {
	if _, err := manager.GetConfigOrCreateNew(ctx); err != nil {
		return FullConfig{}, fmt.Errorf("failed to load or create config: %w", err)
	}

	overrides := map[string]func(*FullConfig, string){
		"FORGE_BASE_DIR":          func(c *FullConfig, v string) { c.BaseDir = v },
		"FORGE_LISTEN_ADDR":       func(c *FullConfig, v string) { c.ListenAddr = v },
		"FORGE_METRICS_ADDR":      func(c *FullConfig, v string) { c.MetricsAddr = v },
		"FORGE_NOTIFY_SOCKET":     func(c *FullConfig, v string) { c.NotifySocket = v },
		"FORGE_SENTRY_DSN":        func(c *FullConfig, v string) { c.SentryDSN = v },
		"FORGE_DEFAULT_TOOLCHAIN": func(c *FullConfig, v string) { c.DefaultToolchain = v },
	}

	values := make(map[string]string)

	for key := range overrides {
		if value := env.GetAsString(key, ""); value != "" {
			values[key] = value
		}
	}

	if len(values) == 0 {
		return manager.GetConfig(ctx)
	}

	cfg, err := manager.UpdateConfig(ctx, func(c *FullConfig) {
		for key, value := range values {
			log.Infof("applying config override %s", key)
			overrides[key](c, value)
		}
	})
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return cfg, nil
}

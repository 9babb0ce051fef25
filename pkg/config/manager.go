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
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hwforge/forge-core/pkg/constants"
	"github.com/hwforge/forge-core/pkg/ctxutil/ctxmutex"
	"github.com/hwforge/forge-core/pkg/ctxutil/ctxrwmutex"
	"github.com/hwforge/forge-core/pkg/logger"
	"github.com/hwforge/forge-core/pkg/service/filesystem"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigManager is the interface the rest of the daemon consumes.
type ConfigManager interface {
	// GetConfig returns the current config, re-reading the file.
	GetConfig(ctx context.Context) (FullConfig, error)
}

// FileConfigManager reads the config from a YAML file through the
// filesystem service. Reads happen under a context-aware RW mutex so config
// lookups cannot deadlock against a slow disk; a parse cache keyed by the
// xxhash of the raw bytes makes the common unchanged-file case one hash
// instead of one YAML parse.
type FileConfigManager struct {
	configPath string
	fsService  filesystem.Service
	logger     *zap.SugaredLogger

	// mutexAtomicUpdate serializes whole read-modify-write cycles.
	mutexAtomicUpdate *ctxmutex.CtxMutex

	// mutexReadOrWrite guards individual file reads and writes.
	mutexReadOrWrite *ctxrwmutex.CtxRWMutex

	// parse cache: raw-bytes hash of the last successful parse.
	cacheMu     sync.Mutex
	cachedHash  uint64
	cachedValue FullConfig
	cacheValid  bool
}

// NewFileConfigManager creates a manager for the default config path.
func NewFileConfigManager() *FileConfigManager {
	return &FileConfigManager{
		configPath:        constants.DefaultConfigPath,
		fsService:         filesystem.NewDefaultService(),
		logger:            logger.For(logger.ComponentConfigManager),
		mutexAtomicUpdate: ctxmutex.NewCtxMutex(),
		mutexReadOrWrite:  ctxrwmutex.NewCtxRWMutex(),
	}
}

// WithConfigPath overrides the config file location.
func (m *FileConfigManager) WithConfigPath(path string) *FileConfigManager {
	m.configPath = path

	return m
}

// WithFileSystemService allows setting a custom filesystem service,
// useful for testing.
func (m *FileConfigManager) WithFileSystemService(fsService filesystem.Service) *FileConfigManager {
	m.fsService = fsService

	return m
}

// GetConfig returns the current config, always validating against the file
// on disk. Unchanged files hit the parse cache.
func (m *FileConfigManager) GetConfig(ctx context.Context) (FullConfig, error) {
	if err := m.mutexReadOrWrite.RLock(ctx); err != nil {
		return FullConfig{}, fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mutexReadOrWrite.RUnlock()

	data, err := m.fsService.ReadFile(ctx, m.configPath)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
	}

	hash := xxhash.Sum64(data)

	m.cacheMu.Lock()
	if m.cacheValid && m.cachedHash == hash {
		cached := m.cachedValue.Clone()
		m.cacheMu.Unlock()

		return cached, nil
	}
	m.cacheMu.Unlock()

	var cfg FullConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return FullConfig{}, fmt.Errorf("invalid config in %s: %w", m.configPath, err)
	}

	m.cacheMu.Lock()
	m.cachedHash = hash
	m.cachedValue = cfg.Clone()
	m.cacheValid = true
	m.cacheMu.Unlock()

	return cfg, nil
}

// GetConfigOrCreateNew returns the config, writing the defaults first when
// the file does not exist yet.
func (m *FileConfigManager) GetConfigOrCreateNew(ctx context.Context) (FullConfig, error) {
	if err := m.mutexAtomicUpdate.Lock(ctx); err != nil {
		return FullConfig{}, fmt.Errorf("failed to lock config for update: %w", err)
	}
	defer m.mutexAtomicUpdate.Unlock()

	exists, err := m.fsService.PathExists(ctx, m.configPath)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to check config file %s: %w", m.configPath, err)
	}

	if !exists {
		m.logger.Infof("no config at %s, writing defaults", m.configPath)

		if err := m.writeConfig(ctx, DefaultConfig()); err != nil {
			return FullConfig{}, err
		}
	}

	return m.GetConfig(ctx)
}

// UpdateConfig applies modify to the current config and persists the result
// as one atomic read-modify-write cycle.
func (m *FileConfigManager) UpdateConfig(ctx context.Context, modify func(*FullConfig)) (FullConfig, error) {
	if err := m.mutexAtomicUpdate.Lock(ctx); err != nil {
		return FullConfig{}, fmt.Errorf("failed to lock config for update: %w", err)
	}
	defer m.mutexAtomicUpdate.Unlock()

	cfg, err := m.GetConfig(ctx)
	if err != nil {
		return FullConfig{}, err
	}

	modify(&cfg)

	if err := cfg.Validate(); err != nil {
		return FullConfig{}, fmt.Errorf("rejected config update: %w", err)
	}

	if err := m.writeConfig(ctx, cfg); err != nil {
		return FullConfig{}, err
	}

	return cfg, nil
}

// writeConfig persists cfg atomically: temp file next to the config, then
// rename.
func (m *FileConfigManager) writeConfig(ctx context.Context, cfg FullConfig) error {
	if err := m.mutexReadOrWrite.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock config file for writing: %w", err)
	}
	defer m.mutexReadOrWrite.Unlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(m.configPath)
	if err := m.fsService.EnsureDirectory(ctx, dir); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	tmpPath := m.configPath + ".tmp"
	if err := m.fsService.WriteFile(ctx, tmpPath, data, constants.RecordFilePermissions); err != nil {
		return fmt.Errorf("failed to write config temp file: %w", err)
	}

	if err := m.fsService.Rename(ctx, tmpPath, m.configPath); err != nil {
		return fmt.Errorf("failed to move config into place: %w", err)
	}

	m.cacheMu.Lock()
	m.cacheValid = false
	m.cacheMu.Unlock()

	return nil
}

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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hwforge/forge-core/pkg/api"
	"github.com/hwforge/forge-core/pkg/config"
	"github.com/hwforge/forge-core/pkg/constants"
	"github.com/hwforge/forge-core/pkg/env"
	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/logger"
	"github.com/hwforge/forge-core/pkg/metrics"
	"github.com/hwforge/forge-core/pkg/monitor"
	"github.com/hwforge/forge-core/pkg/notify"
	"github.com/hwforge/forge-core/pkg/pipeline"
	"github.com/hwforge/forge-core/pkg/sentry"
	"github.com/hwforge/forge-core/pkg/service/filesystem"
	"github.com/hwforge/forge-core/pkg/stages"
	"github.com/hwforge/forge-core/pkg/state"
	"github.com/hwforge/forge-core/pkg/version"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize the global logger first thing
	logger.Initialize()

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting forge-core %s...", version.GetAppVersion())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load the config, creating it with defaults on first start
	configPath := env.GetAsString("FORGE_CONFIG_PATH", constants.DefaultConfigPath)

	configManager := config.NewFileConfigManager().WithConfigPath(configPath)

	cfg, err := config.LoadConfigWithEnvOverrides(ctx, configManager, log)
	if err != nil {
		log.Errorf("Failed to load config: %s", err)
		os.Exit(1)
	}

	// Initialize Sentry; stays disabled without a DSN or on dev builds
	sentry.InitSentry(cfg.SentryDSN, version.GetAppVersion(), true)

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(cfg.MetricsAddr)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shutdown metrics server: %s", err)
		}
	}()

	// Open the job store and warm its index before any worker runs
	graph, err := state.NewPipelineGraph()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Invalid pipeline graph: %s", err)
		os.Exit(1)
	}

	store, err := jobstore.New(ctx, cfg.BaseDir, filesystem.NewDefaultService(), graph)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open job store: %s", err)
		os.Exit(1)
	}

	if err := store.WarmIndex(ctx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to warm job index: %s", err)
		os.Exit(1)
	}

	// Resolve toolchains against the stage registry; typos die here,
	// before any worker starts
	registry := pipeline.NewRegistry()
	stages.RegisterAll(registry)

	pool, err := pipeline.NewPool(store, &cfg, registry)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Invalid pipeline configuration: %s", err)
		os.Exit(1)
	}

	watcher := monitor.NewDiskWatcher(cfg.BaseDir)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return pool.Run(groupCtx)
	})

	group.Go(func() error {
		return watcher.Run(groupCtx)
	})

	group.Go(func() error {
		return notify.NewPoller(cfg.PollInterval, store.Index()).Run(groupCtx)
	})

	if cfg.NotifySocket != "" {
		group.Go(func() error {
			return notify.NewServer(cfg.NotifySocket, store.Index()).Run(groupCtx)
		})
	}

	group.Go(func() error {
		return api.NewServer(store, cfg, watcher).Run(groupCtx, cfg.ListenAddr)
	})

	log.Infof("forge-core running: %d workers, jobs under %s", pool.Size(), cfg.BaseDir)

	if err := group.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "forge-core failed: %s", err)
		os.Exit(1)
	}

	log.Info("forge-core stopped")
}

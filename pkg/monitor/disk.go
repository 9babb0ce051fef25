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

package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hwforge/forge-core/pkg/constants"
	"github.com/hwforge/forge-core/pkg/logger"
	"github.com/hwforge/forge-core/pkg/metrics"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
)

// DiskWatcher samples the filesystem holding the job base directory.
// Synthesis jobs write tens of gigabytes; a full disk turns every stage
// into a confusing cascade of failures, so the watcher warns early and
// flips a flag the API uses to refuse new uploads before that point.
type DiskWatcher struct {
	baseDir  string
	interval time.Duration
	critical atomic.Bool
	log      *zap.SugaredLogger
}

// NewDiskWatcher watches the filesystem containing baseDir.
func NewDiskWatcher(baseDir string) *DiskWatcher {
	return &DiskWatcher{
		baseDir:  baseDir,
		interval: constants.DiskMonitorInterval,
		log:      logger.For(logger.ComponentDiskMonitor),
	}
}

// Critical reports whether usage passed the refuse-uploads threshold as of
// the last sample.
func (w *DiskWatcher) Critical() bool {
	return w.critical.Load()
}

// Run samples until ctx ends. Sampling errors are logged and retried; a
// broken statfs must not take the daemon down.
func (w *DiskWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sample(ctx)

	for {
		select {
		case <-ticker.C:
			w.sample(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *DiskWatcher) sample(ctx context.Context) {
	usage, err := disk.UsageWithContext(ctx, w.baseDir)
	if err != nil {
		w.log.Warnf("failed to sample disk usage of %s: %s", w.baseDir, err)
		metrics.IncErrorCount(metrics.ComponentDiskMonitor, w.baseDir)

		return
	}

	metrics.SetDiskUsedPercent(usage.UsedPercent)

	critical := usage.UsedPercent >= constants.DiskCriticalPercent
	wasCritical := w.critical.Swap(critical)

	switch {
	case critical && !wasCritical:
		w.log.Errorf("disk usage %.1f%% passed the critical threshold %.1f%%, refusing new uploads", usage.UsedPercent, constants.DiskCriticalPercent)
	case !critical && wasCritical:
		w.log.Infof("disk usage %.1f%% back below the critical threshold", usage.UsedPercent)
	case usage.UsedPercent >= constants.DiskWarnPercent:
		w.log.Warnf("disk usage %.1f%% on %s", usage.UsedPercent, w.baseDir)
	}
}

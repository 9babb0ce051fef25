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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/hwforge/forge-core/pkg/logger"
	"github.com/hwforge/forge-core/pkg/sentry"
)

const (
	// Component Labels.
	ComponentPipeline = "pipeline"
	ComponentWorker   = "worker"
	// Store.
	ComponentJobStore = "job_store"
	ComponentJobIndex = "job_index"
	// Stages.
	ComponentUnpackStage  = "unpack_stage"
	ComponentMakeStage    = "make_stage"
	ComponentAFIStage     = "afi_stage"
	ComponentExecuteStage = "execute_stage"
	// Services.
	ComponentAPIServer   = "api_server"
	ComponentNotify      = "notify"
	ComponentDiskMonitor = "disk_monitor"
	ComponentFilesystem  = "filesystem"
)

// Claim path labels for AcquireResult metrics.
const (
	ClaimPathCache = "cache"
	ClaimPathScan  = "scan"
)

// Stage outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeFault   = "fault"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "forge"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Job lifecycle.
	jobsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_created_total",
			Help:      "Total number of jobs created",
		},
	)

	claimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "claims_total",
			Help:      "Total number of successful job claims by source state and claim path",
		},
		[]string{"from_state", "path"},
	)

	acquireBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acquire_blocked_total",
			Help:      "Number of times a worker found no claimable job and blocked for a wake-up",
		},
		[]string{"from_state"},
	)

	// Stage execution.
	stageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_outcomes_total",
			Help:      "Total number of finished stage runs by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage runs in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"stage"},
	)

	// Store contents, refreshed by directory scans.
	jobsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_by_state",
			Help:      "Number of jobs per state as of the last full scan",
		},
		[]string{"state"},
	)

	// Disk usage of the job base directory.
	diskUsedPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "base_dir_used_percent",
			Help:      "Disk usage of the filesystem holding the job base directory",
		},
	)

	// Filesystem operation metrics.
	filesystemOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_ops_total",
			Help:      "Total number of filesystem operations by type",
		},
		[]string{"operation"},
	)

	filesystemOpsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_ops_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// IncJobsCreated counts a newly created job.
func IncJobsCreated() {
	jobsCreated.Inc()
}

// IncClaim counts a successful claim from the given source state. path is
// ClaimPathCache when the candidate came from the lookaside index and
// ClaimPathScan when it came from a directory walk.
func IncClaim(fromState, path string) {
	claimsTotal.WithLabelValues(fromState, path).Inc()
}

// IncAcquireBlocked counts a worker going to sleep waiting for work.
func IncAcquireBlocked(fromState string) {
	acquireBlocked.WithLabelValues(fromState).Inc()
}

// ObserveStage records outcome and duration of a finished stage run.
func ObserveStage(stage, outcome string, duration time.Duration) {
	stageOutcomes.WithLabelValues(stage, outcome).Inc()
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetJobsByState updates the per-state job count gauges after a full scan.
// States absent from counts keep their previous value, so callers should
// pass a count for every known state.
func SetJobsByState(counts map[string]int) {
	for state, n := range counts {
		jobsByState.WithLabelValues(state).Set(float64(n))
	}
}

// SetDiskUsedPercent updates the base-dir disk usage gauge.
func SetDiskUsedPercent(percent float64) {
	diskUsedPercent.Set(percent)
}

// RecordFilesystemOp records a filesystem operation metric.
func RecordFilesystemOp(operation string, duration time.Duration) {
	filesystemOpsTotal.WithLabelValues(operation).Inc()
	filesystemOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

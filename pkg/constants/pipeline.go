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

package constants

import "time"

const (
	// DefaultPollInterval is the fallback wake-up period for workers.
	// Records edited behind the daemon's back (manual recovery, rsync
	// restores) are noticed within this interval even without a socket ping.
	DefaultPollInterval = 2 * time.Second

	// DefaultStageTimeout bounds a single stage command when the
	// configuration does not set a stage-specific one. Synthesis runs are
	// long; this is a safety net, not a tuning knob.
	DefaultStageTimeout = 4 * time.Hour

	// DefaultMakeParallelism is the number of extra workers for the
	// synthesis make stage on top of the one default worker.
	DefaultMakeParallelism = 0

	// DefaultShutdownTimeout is how long the daemon waits for workers and
	// servers to drain on SIGTERM before giving up.
	DefaultShutdownTimeout = 30 * time.Second

	// ClaimOpTimeout bounds the disk I/O of a single claim attempt so a
	// hung filesystem cannot wedge the acquire loop forever.
	ClaimOpTimeout = 10 * time.Second

	// CommitWriteAttempts bounds retries of a work session's final record
	// write. A transient write error must not leave the job in its locked
	// state while the process keeps running.
	CommitWriteAttempts = 5

	// CommitRetryDelay is the pause between final record write attempts.
	CommitRetryDelay = 250 * time.Millisecond

	// DiskMonitorInterval is how often the base dir's filesystem usage is sampled.
	DiskMonitorInterval = 30 * time.Second

	// DiskWarnPercent is the usage level that triggers warning logs.
	DiskWarnPercent = 85.0

	// DiskCriticalPercent is the usage level past which new uploads are refused.
	DiskCriticalPercent = 95.0
)

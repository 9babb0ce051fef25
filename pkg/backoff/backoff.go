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

package backoff

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// TemporaryBackoffError marks an error as "in backoff, retry later".
	TemporaryBackoffError = "temporary backoff error"

	// PermanentFailureError marks an error as beyond retry.
	PermanentFailureError = "permanent failure error"
)

// Config parameterizes a BackoffManager.
type Config struct {
	Name            string
	Logger          *zap.SugaredLogger
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      int
}

// DefaultConfig returns the settings used across the daemon: start at one
// second, double up to a minute, escalate to permanent after ten strikes.
func DefaultConfig(name string, log *zap.SugaredLogger) Config {
	return Config{
		Name:            name,
		Logger:          log,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		MaxRetries:      10,
	}
}

// BackoffManager tracks consecutive failures of one component and hands out
// exponentially growing wait intervals. It is not goroutine-safe; each
// worker owns its own manager.
type BackoffManager struct {
	cfg     Config
	current time.Duration
	retries int
}

// NewBackoffManager creates a manager in the reset state.
func NewBackoffManager(cfg Config) *BackoffManager {
	return &BackoffManager{cfg: cfg}
}

// Next registers one more failure and returns how long to wait before the
// next attempt.
func (m *BackoffManager) Next() time.Duration {
	m.retries++

	if m.current == 0 {
		m.current = m.cfg.InitialInterval
	} else {
		m.current = time.Duration(float64(m.current) * m.cfg.Multiplier)
		if m.current > m.cfg.MaxInterval {
			m.current = m.cfg.MaxInterval
		}
	}

	return m.current
}

// Reset clears the failure streak after a success.
func (m *BackoffManager) Reset() {
	m.current = 0
	m.retries = 0
}

// Exhausted reports whether the failure streak passed MaxRetries.
func (m *BackoffManager) Exhausted() bool {
	return m.cfg.MaxRetries > 0 && m.retries >= m.cfg.MaxRetries
}

// MarkFailure wraps err with the marker the Is* helpers in this package
// look for: temporary while retries remain, permanent once exhausted.
func (m *BackoffManager) MarkFailure(err error) error {
	if m.Exhausted() {
		return fmt.Errorf("%s: %s after %d retries: %w", PermanentFailureError, m.cfg.Name, m.retries, err)
	}

	return fmt.Errorf("%s: %s: %w", TemporaryBackoffError, m.cfg.Name, err)
}

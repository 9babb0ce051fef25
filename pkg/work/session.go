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

package work

import (
	"context"
	"fmt"

	"github.com/hwforge/forge-core/pkg/jobstore"
	"go.uber.org/zap"
)

// Session is one worker's exclusive hold on one job while the job sits in a
// locked state. Everything a stage body does to the job goes through its
// session: config access, job-log writes, command execution. Every mutation
// is flushed to disk before the call returns, so a crash never loses an
// acknowledged write.
//
// Sessions are created by WithJob and are not valid after it returns.
type Session struct {
	job   *jobstore.Job
	store *jobstore.Store
	stage string
	log   *zap.SugaredLogger
}

// Name returns the job's name.
func (s *Session) Name() string {
	return s.job.Name
}

// State returns the job's current (locked) state.
func (s *Session) State() string {
	return s.job.State
}

// Dir returns the job's directory.
func (s *Session) Dir() string {
	return s.store.JobDir(s.job.Name)
}

// CodeDir returns the job's working tree, the default cwd for Run.
func (s *Session) CodeDir() string {
	return s.store.CodeDir(s.job.Name)
}

// Config returns a config value by key.
func (s *Session) Config(key string) (any, bool) {
	v, ok := s.job.Config[key]

	return v, ok
}

// ConfigString returns a string config value by key.
func (s *Session) ConfigString(key string) (string, bool) {
	return s.job.ConfigString(key)
}

// SetConfig sets a config value and persists the record immediately. The
// job is in a locked state held by this session, so the rewrite cannot race
// another writer.
func (s *Session) SetConfig(ctx context.Context, key string, value any) error {
	s.job.Config[key] = value

	if err := s.store.Write(ctx, s.job); err != nil {
		return fmt.Errorf("failed to persist config %s of job %s: %w", key, s.job.Name, err)
	}

	return nil
}

// Log appends one timestamped line to the job log.
func (s *Session) Log(ctx context.Context, message string) error {
	return s.store.AppendLog(ctx, s.job.Name, message)
}

// Logf is Log with formatting.
func (s *Session) Logf(ctx context.Context, format string, args ...any) error {
	return s.store.AppendLogf(ctx, s.job.Name, format, args...)
}

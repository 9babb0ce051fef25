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

package jobstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hwforge/forge-core/pkg/constants"
	"github.com/hwforge/forge-core/pkg/logger"
	"github.com/hwforge/forge-core/pkg/metrics"
	"github.com/hwforge/forge-core/pkg/service/filesystem"
	"github.com/hwforge/forge-core/pkg/state"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"
)

// Store is the durable job store: one directory per job under
// <baseDir>/jobs/, each holding the record file, an append-only log, and the
// stage-managed code tree. The record file on disk is the sole source of
// truth; the JobIndex is a lookaside hint.
//
// All claim decisions (read-compare-claim in Acquire) serialize on claimMu.
// That is a deliberate tradeoff: the workload is I/O-bound with at most a few
// thousand jobs, so one store-wide critical section is simpler than per-job
// locks and removes every two-winners race by construction.
type Store struct {
	baseDir string
	fs      filesystem.Service
	graph   *state.Graph
	index   *JobIndex

	// claimMu serializes every read-compare-claim critical section.
	claimMu sync.Mutex

	// badRecords quarantines job names whose record failed to parse, so
	// repeated scans do not re-read and re-log the same broken file every
	// round. Entries expire so an operator-repaired record is picked up
	// again without a restart. Quarantine only suppresses noise; Read is
	// never short-circuited by it.
	badRecords *expiremap.ExpireMap[string, string]

	log *zap.SugaredLogger
}

// New creates a Store rooted at baseDir and ensures the jobs directory
// exists. The index starts empty and is warmed by WarmIndex or lazily by
// the first scans.
func New(ctx context.Context, baseDir string, fsService filesystem.Service, graph *state.Graph) (*Store, error) {
	s := &Store{
		baseDir:    baseDir,
		fs:         fsService,
		graph:      graph,
		index:      NewJobIndex(),
		badRecords: expiremap.NewEx[string, string](constants.BadRecordQuarantineTTL, constants.BadRecordQuarantineTTL),
		log:        logger.For(logger.ComponentJobStore),
	}

	if err := fsService.EnsureDirectory(ctx, s.jobsDir()); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}

	return s, nil
}

// Index returns the store's lookaside index. The notifier broadcasts through
// it and tests observe it.
func (s *Store) Index() *JobIndex {
	return s.index
}

// FS returns the filesystem service the store operates through. Work
// sessions reuse it for command execution so tests can substitute the mock.
func (s *Store) FS() filesystem.Service {
	return s.fs
}

// Graph returns the state graph the store validates transitions against.
func (s *Store) Graph() *state.Graph {
	return s.graph
}

// BaseDir returns the store's base directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) jobsDir() string {
	return filepath.Join(s.baseDir, constants.JobsDirName)
}

// JobDir returns the directory of a job.
func (s *Store) JobDir(name string) string {
	return filepath.Join(s.jobsDir(), name)
}

// CodeDir returns the stage-managed working tree of a job.
func (s *Store) CodeDir(name string) string {
	return filepath.Join(s.JobDir(name), constants.CodeDirName)
}

// LogPath returns the path of a job's append-only log.
func (s *Store) LogPath(name string) string {
	return filepath.Join(s.JobDir(name), constants.LogFileName)
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.JobDir(name), constants.RecordFileName)
}

// newJobName generates a random URL-safe job name the way job identifiers
// have always looked in this system: 8 random bytes, base64url, dashes
// flattened to underscores so names stay shell- and path-friendly.
func newJobName() (string, error) {
	buf := make([]byte, constants.JobNameBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate job name: %w", err)
	}

	name := base64.RawURLEncoding.EncodeToString(buf)

	return strings.ReplaceAll(name, "-", "_"), nil
}

// StageFunc populates a freshly reserved job directory before the job
// becomes visible to workers. name is the reserved job name, dir its
// directory on disk.
type StageFunc func(ctx context.Context, name, dir string) error

// Create generates a collision-free name, writes the full initial record in
// one atomic operation, updates the index, and wakes all waiting workers.
// No reader can ever observe a half-written record: the record is composed
// in a temp file and renamed into place.
func (s *Store) Create(ctx context.Context, initialState string, config map[string]any) (*Job, error) {
	return s.CreateWith(ctx, initialState, config, nil)
}

// CreateWith is Create with a staging step. After the job directory is
// reserved but before the record exists, stage may populate the directory
// with the job's inputs (the uploaded archive, seed files). Workers only
// discover jobs through their records, so nothing staged here can be
// claimed while it is still being written. A stage error aborts the
// creation and removes the directory again.
func (s *Store) CreateWith(ctx context.Context, initialState string, config map[string]any, stage StageFunc) (*Job, error) {
	if !s.graph.Known(initialState) {
		return nil, fmt.Errorf("unknown initial state %q", initialState)
	}

	if config == nil {
		config = map[string]any{}
	}

	var job *Job

	for attempt := 0; attempt < constants.JobNameMaxAttempts; attempt++ {
		name, err := newJobName()
		if err != nil {
			return nil, err
		}

		exists, err := s.fs.PathExists(ctx, s.JobDir(name))
		if err != nil {
			return nil, fmt.Errorf("failed to check job directory %s: %w", name, err)
		}

		if exists {
			s.log.Warnf("job name collision on %s, retrying", name)

			continue
		}

		job = &Job{
			Name:    name,
			Started: time.Now().Unix(),
			State:   initialState,
			Config:  config,
		}

		break
	}

	if job == nil {
		return nil, fmt.Errorf("failed to find a free job name after %d attempts", constants.JobNameMaxAttempts)
	}

	if err := s.fs.EnsureDirectory(ctx, s.JobDir(job.Name)); err != nil {
		return nil, fmt.Errorf("failed to create job directory %s: %w", job.Name, err)
	}

	if stage != nil {
		if err := stage(ctx, job.Name, s.JobDir(job.Name)); err != nil {
			if rmErr := s.fs.RemoveAll(ctx, s.JobDir(job.Name)); rmErr != nil {
				s.log.Warnf("failed to remove aborted job directory %s: %s", job.Name, rmErr)
			}

			return nil, fmt.Errorf("failed to stage job %s: %w", job.Name, err)
		}
	}

	if err := s.writeRecord(ctx, job); err != nil {
		return nil, err
	}

	s.index.Set(job.Name, job.State)
	s.index.Broadcast()
	metrics.IncJobsCreated()
	s.log.Infof("created job %s in state %s", job.Name, job.State)

	return job, nil
}

// Read returns the authoritative record of a job. ErrNotFound when the
// directory or record file is absent, ErrBadRecord when it exists but does
// not parse. Reads never return partial records because writes are atomic.
func (s *Store) Read(ctx context.Context, name string) (*Job, error) {
	data, err := s.fs.ReadFile(ctx, s.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		return nil, fmt.Errorf("failed to read record of job %s: %w", name, err)
	}

	job, err := decodeRecord(name, data)
	if err != nil {
		return nil, err
	}

	return job, nil
}

// Write replaces the record file wholesale (last-writer-wins). Callers must
// already hold exclusivity when the job is in a locked state; the store
// cannot check that, but it does validate that the state is known.
func (s *Store) Write(ctx context.Context, job *Job) error {
	if !s.graph.Known(job.State) {
		return fmt.Errorf("refusing to write job %s with unknown state %q", job.Name, job.State)
	}

	if err := s.writeRecord(ctx, job); err != nil {
		return err
	}

	s.index.Set(job.Name, job.State)
	s.index.Broadcast()

	return nil
}

// writeRecord writes the record atomically: temp file in the job directory,
// then rename over the record file.
func (s *Store) writeRecord(ctx context.Context, job *Job) error {
	data, err := encodeRecord(job)
	if err != nil {
		return err
	}

	tmpPath := filepath.Join(s.JobDir(job.Name), constants.RecordTempPattern)
	if err := s.fs.WriteFile(ctx, tmpPath, data, constants.RecordFilePermissions); err != nil {
		return fmt.Errorf("failed to write record temp file for job %s: %w", job.Name, err)
	}

	if err := s.fs.Rename(ctx, tmpPath, s.recordPath(job.Name)); err != nil {
		return fmt.Errorf("failed to move record into place for job %s: %w", job.Name, err)
	}

	return nil
}

// AppendLog appends one timestamped line to the job's log file. The log is
// independent of the record, so logging can never corrupt job state.
func (s *Store) AppendLog(ctx context.Context, name, message string) error {
	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), strings.TrimRight(message, "\n"))

	if err := s.fs.AppendFile(ctx, s.LogPath(name), []byte(line), constants.RecordFilePermissions); err != nil {
		return fmt.Errorf("failed to append to log of job %s: %w", name, err)
	}

	return nil
}

// AppendLogf is AppendLog with formatting.
func (s *Store) AppendLogf(ctx context.Context, name, format string, args ...any) error {
	return s.AppendLog(ctx, name, fmt.Sprintf(format, args...))
}

// ReadLog returns the full contents of a job's log, or an empty string when
// nothing was logged yet.
func (s *Store) ReadLog(ctx context.Context, name string) (string, error) {
	data, err := s.fs.ReadFile(ctx, s.LogPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}

		return "", fmt.Errorf("failed to read log of job %s: %w", name, err)
	}

	return string(data), nil
}

// Delete removes a job directory entirely. The API layer restricts this to
// terminal states; the store only enforces that the job exists.
func (s *Store) Delete(ctx context.Context, name string) error {
	exists, err := s.fs.PathExists(ctx, s.JobDir(name))
	if err != nil {
		return fmt.Errorf("failed to check job directory %s: %w", name, err)
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := s.fs.RemoveAll(ctx, s.JobDir(name)); err != nil {
		return fmt.Errorf("failed to remove job %s: %w", name, err)
	}

	s.index.Forget(name)
	s.index.Broadcast()

	return nil
}

// listJobNames returns the names of all job directories in randomized order.
// The shuffle removes head-of-line bias: no job is systematically preferred
// because of where its name sorts.
func (s *Store) listJobNames(ctx context.Context) ([]string, error) {
	entries, err := s.fs.ReadDir(ctx, s.jobsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs directory: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	shuffle(names)

	return names, nil
}

// shuffle permutes names in place using crypto/rand. Claim fairness should
// not depend on a seedable generator.
func shuffle(names []string) {
	for i := len(names) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			// rand.Reader failing means the process has bigger problems;
			// keep the current order.
			return
		}

		j := n.Int64()
		names[i], names[j] = names[j], names[i]
	}
}

// Scan visits every job with a parseable record in randomized order and
// refreshes the index for each. Unparsable records are skipped (and
// quarantined against repeated log noise), never deleted. When
// preferUnfinished is set, jobs the index already believes terminal are
// deferred to the end of the walk; their records are still read and
// re-verified individually when their turn comes.
//
// visit returning stop=true ends the scan early.
func (s *Store) Scan(ctx context.Context, preferUnfinished bool, visit func(job *Job) (stop bool, err error)) error {
	names, err := s.listJobNames(ctx)
	if err != nil {
		return err
	}

	if preferUnfinished {
		names = s.deferCachedTerminal(names)
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := s.Read(ctx, name)
		if err != nil {
			s.noteUnreadable(name, err)

			continue
		}

		s.index.Set(job.Name, job.State)

		stop, err := visit(job)
		if err != nil {
			return err
		}

		if stop {
			return nil
		}
	}

	return nil
}

// deferCachedTerminal reorders names so that jobs cached as terminal come
// last. The cache is only a hint here: deferred jobs are still visited and
// their own records re-read, so a stale terminal entry costs latency, not
// correctness.
func (s *Store) deferCachedTerminal(names []string) []string {
	snapshot := s.index.Snapshot()

	active := make([]string, 0, len(names))
	terminal := make([]string, 0)

	for _, name := range names {
		if cached, ok := snapshot[name]; ok && s.graph.IsTerminal(cached) {
			terminal = append(terminal, name)
		} else {
			active = append(active, name)
		}
	}

	return append(active, terminal...)
}

// noteUnreadable handles a job whose record cannot be used: bad records are
// quarantined and logged once per TTL, vanished directories are dropped from
// the index, transient read errors are logged and left alone.
func (s *Store) noteUnreadable(name string, err error) {
	switch {
	case errors.Is(err, ErrBadRecord):
		if _, quarantined := s.badRecords.Load(name); !quarantined {
			s.badRecords.Set(name, err.Error())
			s.log.Warnf("skipping job with unreadable record: %s", err)
			metrics.IncErrorCount(metrics.ComponentJobStore, name)
		}

		s.index.Forget(name)
	case errors.Is(err, ErrNotFound):
		s.index.Forget(name)
	default:
		s.log.Warnf("failed to read job %s during scan: %s", name, err)
	}
}

// CountByState walks all jobs and returns how many sit in each state. Every
// known state appears in the result, so gauges reset to zero correctly.
func (s *Store) CountByState(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(s.graph.States()))
	for _, name := range s.graph.States() {
		counts[name] = 0
	}

	err := s.Scan(ctx, false, func(job *Job) (bool, error) {
		counts[job.State]++

		return false, nil
	})
	if err != nil {
		return nil, err
	}

	return counts, nil
}

// WarmIndex performs one full scan so the index reflects disk before any
// worker starts, and publishes the per-state gauges.
func (s *Store) WarmIndex(ctx context.Context) error {
	counts, err := s.CountByState(ctx)
	if err != nil {
		return err
	}

	metrics.SetJobsByState(counts)
	s.log.Infof("index warmed with %d jobs", s.index.Len())

	return nil
}

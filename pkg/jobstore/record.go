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
	"errors"
	"fmt"

	"github.com/hwforge/forge-core/pkg/safejson"
	"github.com/tiendc/go-deepcopy"
)

var (
	// ErrNotFound means no job with that name exists on disk.
	ErrNotFound = errors.New("job not found")

	// ErrBadRecord means a record file exists but cannot be parsed or
	// violates the record envelope. Such jobs are excluded from scans and
	// never deleted automatically.
	ErrBadRecord = errors.New("bad job record")
)

// Job is the durable per-job record. The envelope (Name, Started, State) is
// strict; Config is an open map that stages extend over the job's lifetime
// and whose unknown keys must round-trip untouched.
type Job struct {
	// Name is the random URL-safe identifier, immutable once created.
	Name string `json:"name"`

	// Started is the creation time in epoch seconds, written once.
	Started int64 `json:"started"`

	// State is the job's current pipeline state.
	State string `json:"state"`

	// Config carries toolchain parameters, stage results, and anything the
	// uploader attached. Values are JSON-shaped: strings, numbers, bools,
	// lists, and nested string-keyed maps.
	Config map[string]any `json:"config"`
}

// envelopeKeys are the only keys allowed at the top level of a record file.
var envelopeKeys = map[string]bool{
	"name":    true,
	"started": true,
	"state":   true,
	"config":  true,
}

// encodeRecord serializes a job record.
func encodeRecord(job *Job) ([]byte, error) {
	data, err := safejson.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record for job %s: %w", job.Name, err)
	}

	return data, nil
}

// decodeRecord parses and validates a record file. Any parse error and any
// envelope violation comes back wrapping ErrBadRecord so callers can treat
// "present but unusable" uniformly.
func decodeRecord(name string, data []byte) (*Job, error) {
	// The envelope is strict: unknown top-level keys mean the record was
	// written by something this daemon does not understand.
	var raw map[string]any
	if err := safejson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: job %s: %s", ErrBadRecord, name, err)
	}

	for key := range raw {
		if !envelopeKeys[key] {
			return nil, fmt.Errorf("%w: job %s: unknown envelope key %q", ErrBadRecord, name, key)
		}
	}

	var job Job
	if err := safejson.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: job %s: %s", ErrBadRecord, name, err)
	}

	if job.Name == "" || job.State == "" || job.Started == 0 {
		return nil, fmt.Errorf("%w: job %s: incomplete envelope", ErrBadRecord, name)
	}

	if job.Name != name {
		return nil, fmt.Errorf("%w: record in directory %s names job %s", ErrBadRecord, name, job.Name)
	}

	if job.Config == nil {
		job.Config = map[string]any{}
	}

	return &job, nil
}

// Clone returns a deep copy of the job so callers can hand records across
// goroutine boundaries without sharing the config map.
func (j *Job) Clone() *Job {
	clone := &Job{Name: j.Name, Started: j.Started, State: j.State}

	if err := deepcopy.Copy(&clone.Config, &j.Config); err != nil {
		// Config values are JSON-shaped, which deepcopy always handles;
		// fall back to sharing rather than dropping data.
		clone.Config = j.Config
	}

	return clone
}

// ConfigString returns a string config value, with ok reporting presence
// and type match.
func (j *Job) ConfigString(key string) (string, bool) {
	v, ok := j.Config[key]
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

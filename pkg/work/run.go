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
	"errors"
	"os/exec"
	"strings"
	"time"
)

// RunOptions controls command execution inside a session.
type RunOptions struct {
	// Dir overrides the working directory; default is the job's code dir.
	Dir string

	// Timeout bounds the command. Zero means the caller's context is the
	// only bound. Exceeding the timeout is a recoverable failure, never a
	// hang.
	Timeout time.Duration

	// Capture returns the combined output to the caller instead of
	// appending it to the job log.
	Capture bool
}

// Run executes an external command for this job. The command line is always
// logged to the job log first, then the command runs with the job's code
// dir (or opts.Dir) as cwd. Unless opts.Capture is set, combined output is
// appended to the job log; on any error the output is logged regardless, so
// a failing build always leaves its tail in the log.
//
// A non-zero exit, a missing executable, and a timeout all come back as
// *Failure naming the command and the cause. Other errors (I/O, cancelled
// parent context) propagate as-is.
func (s *Session) Run(ctx context.Context, opts RunOptions, name string, args ...string) (string, error) {
	cmdline := name
	if len(args) > 0 {
		cmdline += " " + strings.Join(args, " ")
	}

	if err := s.Logf(ctx, "$ %s", cmdline); err != nil {
		return "", err
	}

	runCtx := ctx

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)

		defer cancel()
	}

	dir := opts.Dir
	if dir == "" {
		dir = s.CodeDir()
	}

	output, runErr := s.store.FS().ExecuteCommandIn(runCtx, dir, name, args...)
	text := string(output)

	if !opts.Capture || runErr != nil {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			if err := s.Log(ctx, trimmed); err != nil {
				return "", err
			}
		}
	}

	if runErr == nil {
		return text, nil
	}

	// Check the deadline first: a timed-out command is killed and surfaces
	// as an ExitError too, which would misreport as a plain non-zero exit.
	if opts.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return text, Failf("command %q timed out after %s", cmdline, opts.Timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return text, Failf("command %q exited with code %d", cmdline, exitErr.ExitCode())
	}

	var pathErr *exec.Error
	if errors.As(runErr, &pathErr) {
		return text, Failf("command %q not found: %s", cmdline, pathErr.Err)
	}

	return text, runErr
}

// RunShell runs a shell script line through sh -c.
func (s *Session) RunShell(ctx context.Context, opts RunOptions, script string) (string, error) {
	return s.Run(ctx, opts, "sh", "-c", script)
}

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
	"runtime/debug"
	"time"

	"github.com/hwforge/forge-core/pkg/constants"
	"github.com/hwforge/forge-core/pkg/ctxutil"
	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/logger"
	"github.com/hwforge/forge-core/pkg/metrics"
	"github.com/hwforge/forge-core/pkg/sentry"
	"github.com/hwforge/forge-core/pkg/state"
)

// Body is one stage's work on a claimed job. A nil return moves the job to
// the stage's destination; a *Failure moves it to failed with the message
// logged; any other error or a panic moves it to failed with full
// diagnostics logged and reported.
type Body func(ctx context.Context, session *Session) error

// WithJob is the scoped work session: it claims one job in fromState by
// rewriting it to lockedState, runs body on it, and commits exactly one
// final state on every exit path, including panics. A job can only remain
// in a locked state if the whole process dies; body outcomes never leak it.
//
// The returned error covers the session machinery only (acquire cancelled,
// commit write failed). Body outcomes are absorbed into the job's state and
// log, so a worker loop keeps servicing other jobs whatever one job does.
func WithJob(ctx context.Context, store *jobstore.Store, stage, fromState, lockedState string, dest Destination, body Body) error {
	job, err := store.Acquire(ctx, fromState, lockedState)
	if err != nil {
		return err
	}

	session := &Session{
		job:   job,
		store: store,
		stage: stage,
		log:   logger.For(logger.ComponentWorker).With("job", job.Name, "stage", stage),
	}

	start := time.Now()
	bodyErr, stack := runBody(ctx, session, body)

	// The commit must happen even when the worker's context was cancelled
	// mid-body, otherwise shutdown would strand jobs in locked states.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ClaimOpTimeout)
	defer cancel()

	finalState := state.StateFailed
	outcome := metrics.OutcomeFailure

	switch {
	case bodyErr == nil:
		finalState = dest.Resolve(session)
		outcome = metrics.OutcomeSuccess
	case stack != nil:
		outcome = metrics.OutcomeFault

		logCommitProblem(session, session.Logf(commitCtx, "stage %s panicked: %s\n%s", stage, bodyErr, sentry.StackSummary(stack)))
		sentry.ReportStageFault(session.log, job.Name, stage, "body", bodyErr)
	default:
		if failure, ok := AsFailure(bodyErr); ok {
			logCommitProblem(session, session.Log(commitCtx, failure.Message))
			session.log.Warnf("stage failed: %s", failure.Message)
		} else {
			outcome = metrics.OutcomeFault

			logCommitProblem(session, session.Logf(commitCtx, "stage %s fault: %s", stage, bodyErr))
			sentry.ReportStageFault(session.log, job.Name, stage, "body", bodyErr)
		}
	}

	job.State = finalState

	if err := commitFinalState(commitCtx, session, job); err != nil {
		return err
	}

	metrics.ObserveStage(stage, outcome, time.Since(start))
	session.log.Infof("stage finished: %s -> %s", lockedState, finalState)

	return nil
}

// commitFinalState writes the final record, retrying transient write
// failures. Returning on the first error would leave the job in its locked
// state with the process still alive, and operators are promised that can
// only happen on a crash. Retries stop when the commit window no longer has
// room for another attempt.
func commitFinalState(ctx context.Context, session *Session, job *jobstore.Job) error {
	var err error

	for attempt := 1; ; attempt++ {
		err = session.store.Write(ctx, job)
		if err == nil {
			return nil
		}

		if attempt >= constants.CommitWriteAttempts {
			break
		}

		if _, enough, deadlineErr := ctxutil.HasSufficientTime(ctx, constants.CommitRetryDelay); deadlineErr != nil || !enough {
			break
		}

		session.log.Warnf("retrying final state write for job %s: %s", job.Name, err)
		time.Sleep(constants.CommitRetryDelay)
	}

	return fmt.Errorf("failed to commit final state %s of job %s: %w", job.State, job.Name, err)
}

// runBody invokes the stage body with panic containment. A panic comes back
// as an error plus the goroutine dump captured at the panic site.
func runBody(ctx context.Context, session *Session, body Body) (err error, stack []byte) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			stack = debug.Stack()
		}
	}()

	return body(ctx, session), nil
}

// logCommitProblem reports a failed job-log append without disturbing the
// commit path; losing a log line must not turn into a stranded job.
func logCommitProblem(session *Session, err error) {
	if err != nil {
		session.log.Warnf("failed to append to job log: %s", err)
	}
}

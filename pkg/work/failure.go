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
	"errors"
	"fmt"
)

// Failure is the recoverable stage failure: an external command exited
// non-zero, timed out, or was missing, or a stage decided the job cannot
// proceed. The message is written to the job log as the final line before
// the job is set to failed. Anything that is not a *Failure is treated as
// an unexpected fault by the work-session wrapper.
type Failure struct {
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// Failf builds a recoverable failure with a formatted message.
func Failf(format string, args ...any) *Failure {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)

	return f, ok
}

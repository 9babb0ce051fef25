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

// Destination is where a job goes after its stage body succeeds: either a
// fixed state, or a state computed from the session's post-body fields (a
// synthesis job forks to FPGA image generation or straight to execution
// depending on its toolchain). It is evaluated exactly once, after a
// successful body.
type Destination struct {
	fixed string
	fn    func(*Session) string
}

// Fixed returns a destination that always resolves to state.
func Fixed(state string) Destination {
	return Destination{fixed: state}
}

// Computed returns a destination resolved from the session after the body
// has run.
func Computed(fn func(*Session) string) Destination {
	return Destination{fn: fn}
}

// Resolve evaluates the destination for a finished session.
func (d Destination) Resolve(session *Session) string {
	if d.fn != nil {
		return d.fn(session)
	}

	return d.fixed
}

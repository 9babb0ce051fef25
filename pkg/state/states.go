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

package state

// Pipeline states. Unlocked states are stable and await pickup; locked states
// mean exactly one worker is operating on the job right now; terminal states
// end the pipeline and are retained for inspection.
const (
	// StateUploaded is the entry state: source archive received.
	StateUploaded = "uploaded"

	// StateUnpacking is the locked state of the unpack stage.
	StateUnpacking = "unpacking"

	// StateMake means the job is unpacked and ready for the synthesis make.
	StateMake = "make"

	// StateBuilding is the locked state of the synthesis make stage.
	StateBuilding = "building"

	// StateAFIPending means the hardware build finished and an FPGA image
	// must still be generated before the job can run on a target.
	StateAFIPending = "afi_pending"

	// StateAFIGenerating is the locked state of the FPGA image stage.
	StateAFIGenerating = "afi_generating"

	// StateSynthesized means the job is ready to execute on a target.
	StateSynthesized = "synthesized"

	// StateExecuting is the locked state of the on-target execution stage.
	StateExecuting = "executing"

	// StateDone is the terminal success state.
	StateDone = "done"

	// StateFailed is the terminal failure state; the reason is in the job log.
	StateFailed = "failed"
)

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

// Package stages holds the concrete pipeline stage bodies: unpack the
// uploaded archive, run the synthesis make, generate the FPGA image, and
// execute on the target. Each body performs exactly one work session; all
// claim and commit mechanics live in pkg/work.
package stages

import "github.com/hwforge/forge-core/pkg/pipeline"

// Stage names as referenced by toolchain configurations.
const (
	StageUnpack  = "unpack"
	StageMake    = "make"
	StageAFI     = "afi"
	StageExecute = "execute"
)

// RegisterAll registers every built-in stage.
func RegisterAll(registry *pipeline.Registry) {
	registry.Register(StageUnpack, Unpack)
	registry.Register(StageMake, Make)
	registry.Register(StageAFI, GenerateAFI)
	registry.Register(StageExecute, Execute)
}

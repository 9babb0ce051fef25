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

package stages

import "regexp"

// ForgeConfName is the project metadata file at the root of an unpacked
// source tree. It uses make-style "KEY := value" assignments because the
// same file is included by the project makefiles.
const ForgeConfName = "forge.conf"

// confLine matches one "KEY := value" or "KEY = value" assignment.
var confLine = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*:?=\s*(.*?)\s*$`)

// ParseForgeConf extracts the variable assignments from a forge.conf body.
// Later assignments win, matching make semantics.
func ParseForgeConf(data []byte) map[string]string {
	vars := make(map[string]string)

	for _, match := range confLine.FindAllStringSubmatch(string(data), -1) {
		vars[match[1]] = match[2]
	}

	return vars
}

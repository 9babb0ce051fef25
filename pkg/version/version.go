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

package version

import "github.com/hwforge/forge-core/pkg/constants"

// appVersion is overridden at build time via
//
//	-ldflags "-X github.com/hwforge/forge-core/pkg/version.appVersion=1.2.3"
//
// Local builds keep the default, which also keeps Sentry disabled.
var appVersion = constants.DefaultAppVersion

// GetAppVersion returns the version baked into this binary.
func GetAppVersion() string {
	return appVersion
}

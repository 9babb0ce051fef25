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

package constants

const (
	// DefaultAppVersion is the fallback version for local builds. Release
	// builds override it via ldflags, which also enables error reporting.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the Sentry environment for pre-release builds.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is the Sentry environment for release builds.
	DefaultProductionEnvironment = "production"

	// DefaultConfigPath is where the daemon looks for its configuration
	// unless FORGE_CONFIG_PATH says otherwise.
	DefaultConfigPath = "/data/forge.yaml"

	// DefaultBaseDir is the default root of all job state.
	DefaultBaseDir = "/data/forge"

	// DefaultListenAddr is the default bind address of the HTTP API.
	DefaultListenAddr = ":8080"

	// DefaultMetricsAddr is the default bind address of the metrics endpoint.
	DefaultMetricsAddr = ":9100"

	// DefaultNotifySocket is the default path of the wake-up socket.
	DefaultNotifySocket = "/run/forge/notify.sock"
)

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

import "time"

const (
	// JobsDirName is the subdirectory of the base dir holding one directory per job.
	JobsDirName = "jobs"

	// RecordFileName is the per-job record file. Writes go through a temp
	// file in the same directory followed by a rename.
	RecordFileName = "info.json"

	// RecordTempPattern is the temp file prefix used for atomic record writes.
	RecordTempPattern = ".info.json.tmp"

	// LogFileName is the per-job append-only log.
	LogFileName = "log.txt"

	// CodeDirName is the per-job working tree.
	CodeDirName = "code"

	// UploadArchiveName is the file name the uploaded zip is stored under
	// inside the job directory until the unpack stage consumes it.
	UploadArchiveName = "code.zip"

	// JobNameBytes is the number of random bytes in a generated job name.
	JobNameBytes = 8

	// JobNameMaxAttempts bounds collision retries during job creation.
	JobNameMaxAttempts = 10

	// RecordFilePermissions is the mode of the job record file.
	RecordFilePermissions = 0644

	// JobDirPermissions is the mode of created job directories.
	JobDirPermissions = 0755

	// BadRecordQuarantineTTL is how long an unparsable record stays
	// quarantined before scans retry reading it. The quarantine only
	// suppresses repeated log noise, never correctness decisions.
	BadRecordQuarantineTTL = 5 * time.Minute
)

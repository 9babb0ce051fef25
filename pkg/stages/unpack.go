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

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hwforge/forge-core/pkg/constants"
	"github.com/hwforge/forge-core/pkg/pipeline"
	"github.com/hwforge/forge-core/pkg/service/filesystem"
	"github.com/hwforge/forge-core/pkg/state"
	"github.com/hwforge/forge-core/pkg/work"
)

// Unpack extracts the uploaded zip into the job's code tree. Archives that
// wrap everything in a single root directory are flattened so stage
// commands find the makefile where they expect it.
func Unpack(ctx context.Context, env pipeline.Env) error {
	return work.WithJob(ctx, env.Store, StageUnpack, state.StateUploaded, state.StateUnpacking, work.Fixed(state.StateMake),
		func(ctx context.Context, session *work.Session) error {
			fs := env.Store.FS()
			archivePath := filepath.Join(session.Dir(), constants.UploadArchiveName)

			exists, err := fs.PathExists(ctx, archivePath)
			if err != nil {
				return fmt.Errorf("failed to check for uploaded archive: %w", err)
			}

			if !exists {
				return work.Failf("no uploaded archive %s", constants.UploadArchiveName)
			}

			if err := fs.EnsureDirectory(ctx, session.CodeDir()); err != nil {
				return fmt.Errorf("failed to create code directory: %w", err)
			}

			opts := work.RunOptions{Dir: session.Dir(), Timeout: env.Settings.Timeout}
			if _, err := session.Run(ctx, opts, "unzip", "-o", constants.UploadArchiveName, "-d", constants.CodeDirName); err != nil {
				return err
			}

			if err := flattenSingleRoot(ctx, fs, session.CodeDir()); err != nil {
				return fmt.Errorf("failed to flatten archive root: %w", err)
			}

			return session.Log(ctx, "unpacked")
		})
}

// flattenSingleRoot moves the contents of a lone top-level directory up one
// level. Zip files produced by "zip -r project ." and by GitHub downloads
// differ exactly here.
func flattenSingleRoot(ctx context.Context, fs filesystem.Service, codeDir string) error {
	entries, err := fs.ReadDir(ctx, codeDir)
	if err != nil {
		return err
	}

	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	root := filepath.Join(codeDir, entries[0].Name())

	children, err := fs.ReadDir(ctx, root)
	if err != nil {
		return err
	}

	for _, child := range children {
		if err := fs.Rename(ctx, filepath.Join(root, child.Name()), filepath.Join(codeDir, child.Name())); err != nil {
			return err
		}
	}

	return fs.Remove(ctx, root)
}

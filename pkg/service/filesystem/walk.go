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

package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"context"
)

// TreeEntry describes one entry below a walked root.
type TreeEntry struct {
	// RelPath is the path relative to the walked root, using the OS separator.
	RelPath string
	Info    os.FileInfo
	IsDir   bool
}

// WalkTree lists every entry below root as root-relative paths, depth first,
// sorted for deterministic output. Symlinks are listed with their link info
// but never followed; a symlinked directory does not get recursed into.
// Build trees may contain symlink loops, which this rule makes harmless.
func (s *DefaultService) WalkTree(ctx context.Context, root string) ([]TreeEntry, error) {
	rootInfo, err := s.Stat(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory tree: %w", err)
	}

	if !rootInfo.IsDir() {
		return nil, fmt.Errorf("failed to walk directory tree: root is not a directory")
	}

	var entries []TreeEntry

	if err := s.walkInto(ctx, root, "", &entries); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})

	return entries, nil
}

func (s *DefaultService) walkInto(ctx context.Context, root, rel string, out *[]TreeEntry) error {
	dirEntries, err := s.ReadDir(ctx, filepath.Join(root, rel))
	if err != nil {
		return fmt.Errorf("failed to walk directory tree: %w", err)
	}

	for _, entry := range dirEntries {
		relPath := filepath.Join(rel, entry.Name())

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", relPath, err)
		}

		isDir := info.IsDir()
		isSymlink := info.Mode()&os.ModeSymlink != 0

		*out = append(*out, TreeEntry{
			RelPath: relPath,
			Info:    info,
			IsDir:   isDir && !isSymlink,
		})

		if isDir && !isSymlink {
			if err := s.walkInto(ctx, root, relPath, out); err != nil {
				return err
			}
		}
	}

	return nil
}

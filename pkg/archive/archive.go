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

// Package archive streams a job's working tree as a zstd-compressed
// tarball. Build trees hold large, highly compressible synthesis artifacts,
// so zstd over gzip is a real difference in download sizes.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hwforge/forge-core/pkg/service/filesystem"
	"github.com/klauspost/compress/zstd"
)

// Export writes root's tree to w as tar.zst. Symlinks are archived as
// links, never followed, and entries never escape root, so an export of an
// untrusted build tree stays an export.
func Export(ctx context.Context, w io.Writer, fs filesystem.Service, root string) error {
	entries, err := fs.WalkTree(ctx, root)
	if err != nil {
		return fmt.Errorf("failed to walk %s for export: %w", root, err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	tw := tar.NewWriter(enc)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := writeEntry(ctx, tw, fs, root, entry); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd stream: %w", err)
	}

	return nil
}

func writeEntry(ctx context.Context, tw *tar.Writer, fs filesystem.Service, root string, entry filesystem.TreeEntry) error {
	fullPath := filepath.Join(root, entry.RelPath)
	info := entry.Info

	link := ""

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(fullPath)
		if err != nil {
			return fmt.Errorf("failed to read symlink %s: %w", entry.RelPath, err)
		}

		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", entry.RelPath, err)
	}

	header.Name = filepath.ToSlash(entry.RelPath)
	if entry.IsDir {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", entry.RelPath, err)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	data, err := fs.ReadFile(ctx, fullPath)
	if err != nil {
		return fmt.Errorf("failed to read %s for export: %w", entry.RelPath, err)
	}

	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", entry.RelPath, err)
	}

	return nil
}

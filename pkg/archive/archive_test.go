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

package archive_test

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hwforge/forge-core/pkg/archive"
	"github.com/hwforge/forge-core/pkg/service/filesystem"
)

// readBack decompresses and untars an export into name -> content, with
// directories carrying a trailing slash and empty content.
func readBack(data []byte) map[string]string {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())

	defer dec.Close()

	entries := map[string]string{}
	tr := tar.NewReader(dec.IOReadCloser())

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}

		Expect(err).NotTo(HaveOccurred())

		var content string

		if header.Typeflag == tar.TypeReg {
			raw, err := io.ReadAll(tr)
			Expect(err).NotTo(HaveOccurred())
			content = string(raw)
		}

		if header.Typeflag == tar.TypeSymlink {
			content = header.Linkname
		}

		entries[header.Name] = content
	}

	return entries
}

var _ = Describe("Export", func() {
	var (
		ctx  context.Context
		fs   filesystem.Service
		root string
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewDefaultService()
		root = GinkgoT().TempDir()
	})

	It("exports files, directories, and symlinks", func() {
		Expect(os.MkdirAll(filepath.Join(root, "build", "reports"), 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "Makefile"), []byte("all:\n\ttrue\n"), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "build", "out.log"), []byte("synthesis ok\n"), 0644)).To(Succeed())
		Expect(os.Symlink("build/out.log", filepath.Join(root, "latest.log"))).To(Succeed())

		var buf bytes.Buffer
		Expect(archive.Export(ctx, &buf, fs, root)).To(Succeed())

		entries := readBack(buf.Bytes())

		Expect(entries).To(HaveKeyWithValue("Makefile", "all:\n\ttrue\n"))
		Expect(entries).To(HaveKeyWithValue("build/out.log", "synthesis ok\n"))
		Expect(entries).To(HaveKey("build/"))
		Expect(entries).To(HaveKey("build/reports/"))
		Expect(entries).To(HaveKeyWithValue("latest.log", "build/out.log"))
	})

	It("exports an empty tree as an empty valid archive", func() {
		var buf bytes.Buffer
		Expect(archive.Export(ctx, &buf, fs, root)).To(Succeed())

		Expect(readBack(buf.Bytes())).To(BeEmpty())
	})

	It("fails on a missing root", func() {
		var buf bytes.Buffer
		err := archive.Export(ctx, &buf, fs, filepath.Join(root, "nope"))
		Expect(err).To(HaveOccurred())
	})

	It("stops on a cancelled context", func() {
		Expect(os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0644)).To(Succeed())

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		var buf bytes.Buffer
		Expect(archive.Export(cancelled, &buf, fs, root)).NotTo(Succeed())
	})
})

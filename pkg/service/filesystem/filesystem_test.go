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

package filesystem_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hwforge/forge-core/pkg/service/filesystem"
)

var _ = Describe("DefaultService", func() {
	var (
		svc *filesystem.DefaultService
		dir string
		ctx context.Context
	)

	BeforeEach(func() {
		svc = filesystem.NewDefaultService()
		dir = GinkgoT().TempDir()
		ctx = context.Background()
	})

	Describe("file round trips", func() {
		It("writes and reads a file", func() {
			path := filepath.Join(dir, "a.txt")
			Expect(svc.WriteFile(ctx, path, []byte("hello"), 0644)).To(Succeed())

			data, err := svc.ReadFile(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("hello"))
		})

		It("appends to a file, creating it first", func() {
			path := filepath.Join(dir, "log.txt")
			Expect(svc.AppendFile(ctx, path, []byte("one\n"), 0644)).To(Succeed())
			Expect(svc.AppendFile(ctx, path, []byte("two\n"), 0644)).To(Succeed())

			data, err := svc.ReadFile(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("one\ntwo\n"))
		})

		It("replaces a file atomically via rename", func() {
			path := filepath.Join(dir, "record.json")
			tmp := filepath.Join(dir, ".record.json.tmp")
			Expect(svc.WriteFile(ctx, path, []byte("old"), 0644)).To(Succeed())
			Expect(svc.WriteFile(ctx, tmp, []byte("new"), 0644)).To(Succeed())

			Expect(svc.Rename(ctx, tmp, path)).To(Succeed())

			data, err := svc.ReadFile(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("new"))

			exists, err := svc.PathExists(ctx, tmp)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})

	Describe("PathExists", func() {
		It("distinguishes present and absent paths", func() {
			path := filepath.Join(dir, "present")
			Expect(svc.WriteFile(ctx, path, []byte("x"), 0644)).To(Succeed())

			exists, err := svc.PathExists(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())

			exists, err = svc.PathExists(ctx, filepath.Join(dir, "absent"))
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})

	Describe("ExecuteCommandIn", func() {
		It("runs the command in the given directory", func() {
			out, err := svc.ExecuteCommandIn(ctx, dir, "sh", "-c", "pwd")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(ContainSubstring(filepath.Base(dir)))
		})

		It("keeps the exit error reachable through the wrap", func() {
			out, err := svc.ExecuteCommandIn(ctx, dir, "sh", "-c", "echo partial; exit 3")
			Expect(err).To(HaveOccurred())
			Expect(string(out)).To(ContainSubstring("partial"))

			var exitErr *exec.ExitError
			Expect(errors.As(err, &exitErr)).To(BeTrue())
			Expect(exitErr.ExitCode()).To(Equal(3))
		})
	})

	Describe("WalkTree", func() {
		It("lists nested entries with root-relative paths", func() {
			Expect(svc.EnsureDirectory(ctx, filepath.Join(dir, "sub", "deep"))).To(Succeed())
			Expect(svc.WriteFile(ctx, filepath.Join(dir, "top.txt"), []byte("t"), 0644)).To(Succeed())
			Expect(svc.WriteFile(ctx, filepath.Join(dir, "sub", "deep", "leaf.txt"), []byte("l"), 0644)).To(Succeed())

			entries, err := svc.WalkTree(ctx, dir)
			Expect(err).NotTo(HaveOccurred())

			var paths []string
			for _, e := range entries {
				paths = append(paths, e.RelPath)
			}

			Expect(paths).To(ContainElements(
				"top.txt",
				"sub",
				filepath.Join("sub", "deep"),
				filepath.Join("sub", "deep", "leaf.txt"),
			))
		})

		It("does not recurse into symlinked directories", func() {
			target := filepath.Join(dir, "real")
			Expect(svc.EnsureDirectory(ctx, target)).To(Succeed())
			Expect(svc.WriteFile(ctx, filepath.Join(target, "inner.txt"), []byte("i"), 0644)).To(Succeed())
			Expect(os.Symlink(target, filepath.Join(dir, "link"))).To(Succeed())

			entries, err := svc.WalkTree(ctx, dir)
			Expect(err).NotTo(HaveOccurred())

			var paths []string
			for _, e := range entries {
				paths = append(paths, e.RelPath)
			}

			Expect(paths).To(ContainElement("link"))
			Expect(paths).NotTo(ContainElement(filepath.Join("link", "inner.txt")))
		})

		It("rejects a file root", func() {
			path := filepath.Join(dir, "afile")
			Expect(svc.WriteFile(ctx, path, []byte("x"), 0644)).To(Succeed())

			_, err := svc.WalkTree(ctx, path)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("context cancellation", func() {
		It("refuses operations on an already-cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := svc.ReadFile(cancelled, filepath.Join(dir, "whatever"))
			Expect(err).To(MatchError(ContainSubstring("context canceled")))
		})
	})
})

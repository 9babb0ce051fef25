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

package api_test

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hwforge/forge-core/pkg/api"
	"github.com/hwforge/forge-core/pkg/config"
	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/safejson"
	"github.com/hwforge/forge-core/pkg/service/filesystem"
	"github.com/hwforge/forge-core/pkg/state"
)

// fakeDisk is a settable DiskGuard.
type fakeDisk struct {
	critical bool
}

func (d *fakeDisk) Critical() bool {
	return d.critical
}

var _ = Describe("API", func() {
	var (
		ctx    context.Context
		store  *jobstore.Store
		disk   *fakeDisk
		router *gin.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()

		graph, err := state.NewPipelineGraph()
		Expect(err).NotTo(HaveOccurred())

		store, err = jobstore.New(ctx, GinkgoT().TempDir(), filesystem.NewDefaultService(), graph)
		Expect(err).NotTo(HaveOccurred())

		disk = &fakeDisk{}
		router = api.NewServer(store, config.DefaultConfig(), disk).Router()
	})

	do := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		return rec
	}

	postJSON := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		return do(req)
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]any {
		var out map[string]any
		Expect(safejson.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())

		return out
	}

	Describe("GET /healthz and /version", func() {
		It("reports health", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("reports a version", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/version", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(HaveKey("version"))
		})
	})

	Describe("POST /api/v1/jobs", func() {
		It("creates a job from a JSON body", func() {
			rec := postJSON(`{"toolchain": "sim", "target": "x", "config": {"notes": "hi"}}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			body := decode(rec)
			Expect(body).To(HaveKeyWithValue("state", state.StateUploaded))

			name := body["name"].(string)
			job, err := store.Read(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Config).To(HaveKeyWithValue("toolchain", "sim"))
			Expect(job.Config).To(HaveKeyWithValue("target", "x"))
			Expect(job.Config).To(HaveKeyWithValue("notes", "hi"))
		})

		It("falls back to the default toolchain", func() {
			rec := postJSON(`{}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			name := decode(rec)["name"].(string)
			job, err := store.Read(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Config).To(HaveKeyWithValue("toolchain", "f1"))
		})

		It("rejects an unknown toolchain", func() {
			rec := postJSON(`{"toolchain": "quantum"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("quantum"))
		})

		It("rejects a malformed JSON body", func() {
			rec := postJSON(`{"toolchain": `)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("refuses uploads when disk space is critical", func() {
			disk.critical = true

			rec := postJSON(`{}`)
			Expect(rec.Code).To(Equal(http.StatusInsufficientStorage))
		})

		It("stores a multipart upload and logs its digest", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)

			part, err := mw.CreateFormFile("code", "code.zip")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("PK\x03\x04fakezip"))
			Expect(err).NotTo(HaveOccurred())

			Expect(mw.WriteField("toolchain", "sim")).To(Succeed())
			Expect(mw.WriteField("config", `{"notes": "uploaded"}`)).To(Succeed())
			Expect(mw.Close()).To(Succeed())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			name := decode(rec)["name"].(string)

			archived, err := os.ReadFile(filepath.Join(store.JobDir(name), "code.zip"))
			Expect(err).NotTo(HaveOccurred())
			Expect(archived).To(Equal([]byte("PK\x03\x04fakezip")))

			log, err := store.ReadLog(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(log).To(ContainSubstring("sha3-256"))

			job, err := store.Read(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Config).To(HaveKeyWithValue("notes", "uploaded"))
		})

		It("rejects a multipart upload without a code file", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			Expect(mw.WriteField("toolchain", "sim")).To(Succeed())
			Expect(mw.Close()).To(Succeed())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/v1/jobs", func() {
		It("lists jobs newest first", func() {
			first, err := store.Create(ctx, state.StateUploaded, nil)
			Expect(err).NotTo(HaveOccurred())
			second, err := store.Create(ctx, state.StateUploaded, nil)
			Expect(err).NotTo(HaveOccurred())

			// Force distinct creation times.
			first.Started -= 60
			Expect(store.Write(ctx, first)).To(Succeed())

			rec := do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var list []map[string]any
			Expect(safejson.Unmarshal(rec.Body.Bytes(), &list)).To(Succeed())
			Expect(list).To(HaveLen(2))
			Expect(list[0]).To(HaveKeyWithValue("name", second.Name))
			Expect(list[1]).To(HaveKeyWithValue("name", first.Name))
		})

		It("returns an empty array for an empty store", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
		})
	})

	Describe("GET /api/v1/jobs/:name", func() {
		It("returns the full record", func() {
			job, err := store.Create(ctx, state.StateUploaded, map[string]any{"toolchain": "f1"})
			Expect(err).NotTo(HaveOccurred())

			rec := do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.Name, nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := decode(rec)
			Expect(body).To(HaveKeyWithValue("name", job.Name))
			Expect(body).To(HaveKeyWithValue("state", state.StateUploaded))
			Expect(body).To(HaveKey("config"))
		})

		It("404s on an unknown job", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/ghost", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("422s on a corrupt record", func() {
			Expect(os.MkdirAll(store.JobDir("mangled"), 0755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(store.JobDir("mangled"), "info.json"),
				[]byte("not a record"), 0644)).To(Succeed())

			rec := do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/mangled", nil))
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})
	})

	Describe("GET /api/v1/jobs/:name/log", func() {
		It("serves the log as plain text", func() {
			job, err := store.Create(ctx, state.StateUploaded, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.AppendLog(ctx, job.Name, "unpacked")).To(Succeed())

			rec := do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.Name+"/log", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(rec.Body.String()).To(ContainSubstring("unpacked"))
		})
	})

	Describe("GET /api/v1/jobs/:name/archive", func() {
		newTerminalJob := func() *jobstore.Job {
			job, err := store.Create(ctx, state.StateUploaded, nil)
			Expect(err).NotTo(HaveOccurred())

			for _, next := range []string{state.StateUnpacking, state.StateMake, state.StateBuilding, state.StateSynthesized, state.StateExecuting, state.StateDone} {
				job.State = next
				Expect(store.Write(ctx, job)).To(Succeed())
			}

			return job
		}

		It("streams the code tree of a finished job as tar.zst", func() {
			job := newTerminalJob()

			Expect(os.MkdirAll(store.CodeDir(job.Name), 0755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(store.CodeDir(job.Name), "result.txt"),
				[]byte("passed"), 0644)).To(Succeed())

			rec := do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.Name+"/archive", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring(job.Name + ".tar.zst"))

			dec, err := zstd.NewReader(bytes.NewReader(rec.Body.Bytes()))
			Expect(err).NotTo(HaveOccurred())

			defer dec.Close()

			tr := tar.NewReader(dec.IOReadCloser())
			names := []string{}

			for {
				header, err := tr.Next()
				if err == io.EOF {
					break
				}

				Expect(err).NotTo(HaveOccurred())
				names = append(names, header.Name)
			}

			Expect(names).To(ContainElement("result.txt"))
		})

		It("409s while the job is still running", func() {
			job, err := store.Create(ctx, state.StateUploaded, nil)
			Expect(err).NotTo(HaveOccurred())

			rec := do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.Name+"/archive", nil))
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("DELETE /api/v1/jobs/:name", func() {
		It("deletes a terminal job", func() {
			job, err := store.Create(ctx, state.StateUploaded, nil)
			Expect(err).NotTo(HaveOccurred())

			for _, next := range []string{state.StateUnpacking, state.StateFailed} {
				job.State = next
				Expect(store.Write(ctx, job)).To(Succeed())
			}

			rec := do(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.Name, nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))

			_, err = store.Read(ctx, job.Name)
			Expect(err).To(MatchError(jobstore.ErrNotFound))
		})

		It("refuses to delete a job that is not finished", func() {
			job, err := store.Create(ctx, state.StateUploaded, nil)
			Expect(err).NotTo(HaveOccurred())

			rec := do(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.Name, nil))
			Expect(rec.Code).To(Equal(http.StatusConflict))

			_, err = store.Read(ctx, job.Name)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})

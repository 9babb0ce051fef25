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

package api

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hwforge/forge-core/pkg/archive"
	"github.com/hwforge/forge-core/pkg/constants"
	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/safejson"
	"golang.org/x/crypto/sha3"
)

// jobSummary is the list-view projection of a job record.
type jobSummary struct {
	Name    string `json:"name"`
	Started int64  `json:"started"`
	State   string `json:"state"`
}

// createJob accepts either a multipart upload (file field "code", optional
// form fields "toolchain", "target", and "config" holding extra config as
// JSON) or a plain JSON body {"toolchain": ..., "config": {...}} for
// pre-staged code. The job starts in the pipeline entry state either way.
func (s *Server) createJob(c *gin.Context) {
	if s.disk != nil && s.disk.Critical() {
		c.JSON(http.StatusInsufficientStorage, gin.H{"error": "job storage is full"})

		return
	}

	contentType := c.ContentType()

	var (
		jobConfig map[string]any
		archived  []byte
		err       error
	)

	if strings.HasPrefix(contentType, "multipart/") {
		jobConfig, archived, err = s.parseMultipartUpload(c)
	} else {
		jobConfig, err = s.parseJSONUpload(c)
	}

	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	toolchain, _ := jobConfig["toolchain"].(string)
	if toolchain == "" {
		toolchain = s.cfg.DefaultToolchain
		jobConfig["toolchain"] = toolchain
	}

	if _, ok := s.cfg.Toolchains[toolchain]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown toolchain %q", toolchain)})

		return
	}

	// The archive is staged before the record is written, so a worker
	// parked in acquire cannot claim the job while its upload is still
	// landing on disk.
	job, err := s.store.CreateWith(c.Request.Context(), s.store.Graph().Entry(), jobConfig, s.stageUpload(archived))
	if err != nil {
		s.log.Errorf("failed to create job: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})

		return
	}

	c.JSON(http.StatusCreated, gin.H{"name": job.Name, "state": job.State})
}

// stageUpload returns the staging step that places an uploaded archive in
// the reserved job directory. A JSON-only creation has nothing to stage.
func (s *Server) stageUpload(archived []byte) jobstore.StageFunc {
	if archived == nil {
		return nil
	}

	return func(ctx context.Context, name, dir string) error {
		digest := sha3.Sum256(archived)
		archivePath := filepath.Join(dir, constants.UploadArchiveName)

		if err := s.store.FS().WriteFile(ctx, archivePath, archived, constants.RecordFilePermissions); err != nil {
			return fmt.Errorf("failed to store upload: %w", err)
		}

		if err := s.store.AppendLogf(ctx, name, "received %s (%d bytes, sha3-256 %s)",
			constants.UploadArchiveName, len(archived), hex.EncodeToString(digest[:])); err != nil {
			s.log.Warnf("failed to log upload of job %s: %s", name, err)
		}

		return nil
	}
}

func (s *Server) parseMultipartUpload(c *gin.Context) (map[string]any, []byte, error) {
	file, err := c.FormFile("code")
	if err != nil {
		return nil, nil, fmt.Errorf("multipart upload needs a %q file", "code")
	}

	reader, err := file.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open upload: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read upload: %w", err)
	}

	jobConfig := map[string]any{}

	if raw := c.PostForm("config"); raw != "" {
		if err := safejson.Unmarshal([]byte(raw), &jobConfig); err != nil {
			return nil, nil, fmt.Errorf("config field is not valid JSON: %w", err)
		}
	}

	if toolchain := c.PostForm("toolchain"); toolchain != "" {
		jobConfig["toolchain"] = toolchain
	}

	if target := c.PostForm("target"); target != "" {
		jobConfig["target"] = target
	}

	return jobConfig, data, nil
}

func (s *Server) parseJSONUpload(c *gin.Context) (map[string]any, error) {
	var body struct {
		Toolchain string         `json:"toolchain"`
		Target    string         `json:"target"`
		Config    map[string]any `json:"config"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	jobConfig := body.Config
	if jobConfig == nil {
		jobConfig = map[string]any{}
	}

	if body.Toolchain != "" {
		jobConfig["toolchain"] = body.Toolchain
	}

	if body.Target != "" {
		jobConfig["target"] = body.Target
	}

	return jobConfig, nil
}

// listJobs returns every job's summary from a full re-read of the store.
func (s *Server) listJobs(c *gin.Context) {
	summaries := make([]jobSummary, 0)

	err := s.store.Scan(c.Request.Context(), false, func(job *jobstore.Job) (bool, error) {
		summaries = append(summaries, jobSummary{Name: job.Name, Started: job.Started, State: job.State})

		return false, nil
	})
	if err != nil {
		s.log.Errorf("failed to list jobs: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})

		return
	}

	// Scan order is randomized on purpose; the API should not leak that.
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Started > summaries[j].Started
	})

	c.JSON(http.StatusOK, summaries)
}

func (s *Server) getJob(c *gin.Context) {
	job, ok := s.readJob(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) getJobLog(c *gin.Context) {
	if _, ok := s.readJob(c); !ok {
		return
	}

	log, err := s.store.ReadLog(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job log"})

		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(log))
}

// getJobArchive streams the job's code tree as tar.zst. Only terminal jobs
// can be exported: a running stage may be mutating the tree.
func (s *Server) getJobArchive(c *gin.Context) {
	job, ok := s.readJob(c)
	if !ok {
		return
	}

	if !s.store.Graph().IsTerminal(job.State) {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("job is still %s", job.State)})

		return
	}

	c.Header("Content-Type", "application/zstd")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.tar.zst", job.Name))

	if err := archive.Export(c.Request.Context(), c.Writer, s.store.FS(), s.store.CodeDir(job.Name)); err != nil {
		// Headers are gone; all we can do is cut the stream and log.
		s.log.Errorf("failed to export job %s: %s", job.Name, err)
		c.Abort()
	}
}

func (s *Server) deleteJob(c *gin.Context) {
	job, ok := s.readJob(c)
	if !ok {
		return
	}

	if !s.store.Graph().IsTerminal(job.State) {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("job is still %s", job.State)})

		return
	}

	if err := s.store.Delete(c.Request.Context(), job.Name); err != nil {
		s.log.Errorf("failed to delete job %s: %s", job.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})

		return
	}

	c.Status(http.StatusNoContent)
}

// readJob loads the named job and writes the error response itself when the
// job is absent (404) or unparsable (422).
func (s *Server) readJob(c *gin.Context) (*jobstore.Job, bool) {
	name := c.Param("name")

	job, err := s.store.Read(c.Request.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, jobstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no such job"})
		case errors.Is(err, jobstore.ErrBadRecord):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "job record is unreadable"})
		default:
			s.log.Errorf("failed to read job %s: %s", name, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job"})
		}

		return nil, false
	}

	return job, true
}

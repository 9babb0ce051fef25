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
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hwforge/forge-core/pkg/config"
	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/logger"
	"github.com/hwforge/forge-core/pkg/version"
	"go.uber.org/zap"
)

// DiskGuard is the part of the disk watcher the API needs.
type DiskGuard interface {
	Critical() bool
}

// Server is the HTTP surface of the daemon: upload, inspect, download,
// delete. It has no say in scheduling; it only creates jobs and reads
// state the workers produce.
type Server struct {
	store *jobstore.Store
	cfg   config.FullConfig
	disk  DiskGuard
	log   *zap.SugaredLogger
}

// NewServer builds the API server.
func NewServer(store *jobstore.Store, cfg config.FullConfig, disk DiskGuard) *Server {
	return &Server{
		store: store,
		cfg:   cfg,
		disk:  disk,
		log:   logger.For(logger.ComponentAPIServer),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": version.GetAppVersion()})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/jobs", s.createJob)
		v1.GET("/jobs", s.listJobs)
		v1.GET("/jobs/:name", s.getJob)
		v1.GET("/jobs/:name/log", s.getJobLog)
		v1.GET("/jobs/:name/archive", s.getJobArchive)
		v1.DELETE("/jobs/:name", s.deleteJob)
	}

	return router
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.log.Infof("listening on %s", addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	}
}

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

// Package notify wakes blocked workers out-of-band. Two sources feed the
// same broadcast: a unix socket external tools ping after touching job
// state, and a periodic poll fallback that catches changes nobody pinged
// about. From the workers' perspective both are identical; a missed ping
// costs at most one poll interval of latency.
package notify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/logger"
	"go.uber.org/zap"
)

// Server accepts wake-up pings on a unix socket. A connection may carry a
// job name on its first line; the name is only logged, since the broadcast
// wakes every worker anyway.
type Server struct {
	socketPath string
	index      *jobstore.JobIndex
	log        *zap.SugaredLogger
}

// NewServer creates a notify server broadcasting into index.
func NewServer(socketPath string, index *jobstore.JobIndex) *Server {
	return &Server{
		socketPath: socketPath,
		index:      index,
		log:        logger.For(logger.ComponentNotify),
	}
}

// Run binds the socket and serves pings until ctx ends. A stale socket
// file from a previous run is removed before binding.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind notify socket %s: %w", s.socketPath, err)
	}

	s.log.Infof("listening on %s", s.socketPath)

	go func() {
		<-ctx.Done()

		if err := listener.Close(); err != nil {
			s.log.Debugf("failed to close notify listener: %s", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("notify accept failed: %w", err)
		}

		go s.handle(conn)
	}
}

// handle reads an optional job name, broadcasts, and closes.
func (s *Server) handle(conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debugf("failed to close notify connection: %s", err)
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err == nil {
		if line, err := bufio.NewReader(conn).ReadString('\n'); err == nil {
			if name := strings.TrimSpace(line); name != "" {
				s.log.Debugf("notified about job %s", name)
			}
		}
	}

	s.index.Broadcast()
}

// Poller broadcasts on a fixed interval so state changed behind the
// daemon's back (manual record edits, restores) gets noticed without a
// socket ping.
type Poller struct {
	interval time.Duration
	index    *jobstore.JobIndex
	log      *zap.SugaredLogger
}

// NewPoller creates the poll fallback.
func NewPoller(interval time.Duration, index *jobstore.JobIndex) *Poller {
	return &Poller{
		interval: interval,
		index:    index,
		log:      logger.For(logger.ComponentNotify),
	}
}

// Run broadcasts every interval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.index.Broadcast()
		case <-ctx.Done():
			return nil
		}
	}
}

// Send pings a notify socket, optionally naming the job that changed. Used
// by external tools and tests; any error just means the daemon will find
// the change on its next poll.
func Send(socketPath, jobName string) error {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return fmt.Errorf("failed to reach notify socket %s: %w", socketPath, err)
	}

	defer func() {
		_ = conn.Close()
	}()

	if jobName != "" {
		if _, err := fmt.Fprintln(conn, jobName); err != nil {
			return fmt.Errorf("failed to send notify ping: %w", err)
		}
	}

	return nil
}

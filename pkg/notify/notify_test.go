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

package notify_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/notify"
)

var _ = Describe("Server", func() {
	var (
		ctx        context.Context
		cancel     context.CancelFunc
		index      *jobstore.JobIndex
		socketPath string
		serverDone chan error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		index = jobstore.NewJobIndex()
		socketPath = filepath.Join(GinkgoT().TempDir(), "notify.sock")
		serverDone = make(chan error, 1)

		go func() {
			serverDone <- notify.NewServer(socketPath, index).Run(ctx)
		}()

		Eventually(func() error {
			_, err := os.Stat(socketPath)

			return err
		}).Should(Succeed())
	})

	AfterEach(func() {
		cancel()
		Eventually(serverDone).Should(Receive(BeNil()))
	})

	It("broadcasts on a bare ping", func() {
		wake := index.WaitChan()

		Expect(notify.Send(socketPath, "")).To(Succeed())

		Eventually(wake, 2*time.Second).Should(BeClosed())
	})

	It("broadcasts on a ping naming a job", func() {
		wake := index.WaitChan()

		Expect(notify.Send(socketPath, "abc123")).To(Succeed())

		Eventually(wake, 2*time.Second).Should(BeClosed())
	})

	It("replaces a stale socket file on startup", func() {
		stalePath := filepath.Join(GinkgoT().TempDir(), "stale.sock")
		Expect(os.WriteFile(stalePath, nil, 0644)).To(Succeed())

		staleCtx, staleCancel := context.WithCancel(context.Background())
		defer staleCancel()

		done := make(chan error, 1)

		go func() {
			done <- notify.NewServer(stalePath, jobstore.NewJobIndex()).Run(staleCtx)
		}()

		Eventually(func() error {
			return notify.Send(stalePath, "")
		}, 2*time.Second).Should(Succeed())

		staleCancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})

var _ = Describe("Send", func() {
	It("fails when no daemon is listening", func() {
		Expect(notify.Send(filepath.Join(GinkgoT().TempDir(), "missing.sock"), "")).NotTo(Succeed())
	})
})

var _ = Describe("Poller", func() {
	It("broadcasts on every tick", func() {
		index := jobstore.NewJobIndex()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)

		go func() {
			done <- notify.NewPoller(10*time.Millisecond, index).Run(ctx)
		}()

		wake := index.WaitChan()
		Eventually(wake, time.Second).Should(BeClosed())

		// And again with the replacement channel.
		wake = index.WaitChan()
		Eventually(wake, time.Second).Should(BeClosed())

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})

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

package stages_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hwforge/forge-core/pkg/config"
	"github.com/hwforge/forge-core/pkg/jobstore"
	"github.com/hwforge/forge-core/pkg/pipeline"
	"github.com/hwforge/forge-core/pkg/service/filesystem"
	"github.com/hwforge/forge-core/pkg/stages"
	"github.com/hwforge/forge-core/pkg/state"
)

var _ = Describe("stage bodies", func() {
	var (
		ctx   context.Context
		store *jobstore.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		graph, err := state.NewPipelineGraph()
		Expect(err).NotTo(HaveOccurred())

		store, err = jobstore.New(ctx, GinkgoT().TempDir(), filesystem.NewDefaultService(), graph)
		Expect(err).NotTo(HaveOccurred())
	})

	// env returns a stage environment whose command is a no-op, so the
	// stage flow can be tested without the real toolchain installed.
	env := func(settings config.StageSettings) pipeline.Env {
		if settings.Command == "" {
			settings.Command = "true"
		}

		if settings.Timeout == 0 {
			settings.Timeout = time.Minute
		}

		return pipeline.Env{Store: store, Settings: settings}
	}

	// newJob creates a job directly in the state a stage claims from.
	newJob := func(initialState string, jobConfig map[string]any) *jobstore.Job {
		job, err := store.Create(ctx, initialState, jobConfig)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.MkdirAll(store.CodeDir(job.Name), 0755)).To(Succeed())

		return job
	}

	stateOf := func(job *jobstore.Job) string {
		onDisk, err := store.Read(ctx, job.Name)
		Expect(err).NotTo(HaveOccurred())

		return onDisk.State
	}

	logOf := func(job *jobstore.Job) string {
		log, err := store.ReadLog(ctx, job.Name)
		Expect(err).NotTo(HaveOccurred())

		return log
	}

	Describe("Unpack", func() {
		It("fails the job when no archive was uploaded", func() {
			job := newJob(state.StateUploaded, nil)

			Expect(stages.Unpack(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateFailed))
			Expect(logOf(job)).To(ContainSubstring("no uploaded archive"))
		})
	})

	Describe("Make", func() {
		It("sends an f1 hardware job to FPGA image generation", func() {
			job := newJob(state.StateMake, map[string]any{"toolchain": "f1"})

			Expect(stages.Make(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateAFIPending))
		})

		It("sends an f1 simulation job straight to synthesized", func() {
			job := newJob(state.StateMake, map[string]any{"toolchain": "f1", "target": "sim"})

			Expect(stages.Make(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateSynthesized))
		})

		It("sends a sim toolchain job to synthesized", func() {
			job := newJob(state.StateMake, map[string]any{"toolchain": "sim"})

			Expect(stages.Make(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateSynthesized))
		})

		It("parses forge.conf into the job config", func() {
			job := newJob(state.StateMake, map[string]any{"toolchain": "sim"})
			Expect(os.WriteFile(filepath.Join(store.CodeDir(job.Name), stages.ForgeConfName),
				[]byte("TOOLCHAIN_VERSION := 2.1.0\nTARGET = fpga\n"), 0644)).To(Succeed())

			Expect(stages.Make(ctx, env(config.StageSettings{}))).To(Succeed())

			onDisk, err := store.Read(ctx, job.Name)
			Expect(err).NotTo(HaveOccurred())
			Expect(onDisk.Config).To(HaveKey("conf"))

			vars := onDisk.Config["conf"].(map[string]any)
			Expect(vars).To(HaveKeyWithValue("TOOLCHAIN_VERSION", "2.1.0"))
			Expect(vars).To(HaveKeyWithValue("TARGET", "fpga"))
		})

		It("fails a job whose toolchain version is below the minimum", func() {
			job := newJob(state.StateMake, map[string]any{"toolchain": "sim"})
			Expect(os.WriteFile(filepath.Join(store.CodeDir(job.Name), stages.ForgeConfName),
				[]byte("TOOLCHAIN_VERSION := 1.4.0\n"), 0644)).To(Succeed())

			Expect(stages.Make(ctx, env(config.StageSettings{MinToolchainVersion: "2.0.0"}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateFailed))
			Expect(logOf(job)).To(ContainSubstring("below the required minimum"))
		})

		It("fails a job that does not declare a required version", func() {
			job := newJob(state.StateMake, map[string]any{"toolchain": "sim"})
			Expect(os.WriteFile(filepath.Join(store.CodeDir(job.Name), stages.ForgeConfName),
				[]byte("TARGET = sim\n"), 0644)).To(Succeed())

			Expect(stages.Make(ctx, env(config.StageSettings{MinToolchainVersion: "2.0.0"}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateFailed))
		})

		It("accepts a version meeting the minimum", func() {
			job := newJob(state.StateMake, map[string]any{"toolchain": "sim"})
			Expect(os.WriteFile(filepath.Join(store.CodeDir(job.Name), stages.ForgeConfName),
				[]byte("TOOLCHAIN_VERSION := 2.1.0\n"), 0644)).To(Succeed())

			Expect(stages.Make(ctx, env(config.StageSettings{MinToolchainVersion: "2.0.0"}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateSynthesized))
		})

		It("fails the job when the build command exits non-zero", func() {
			job := newJob(state.StateMake, map[string]any{"toolchain": "sim"})

			Expect(stages.Make(ctx, env(config.StageSettings{Command: "false"}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateFailed))
			Expect(logOf(job)).To(ContainSubstring("exited with code 1"))
		})
	})

	Describe("GenerateAFI", func() {
		It("finishes immediately when the project has no status script", func() {
			job := newJob(state.StateAFIPending, map[string]any{"toolchain": "f1"})

			Expect(stages.GenerateAFI(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateSynthesized))
		})

		It("waits for the status script to report an available image", func() {
			job := newJob(state.StateAFIPending, map[string]any{"toolchain": "f1"})
			Expect(os.WriteFile(filepath.Join(store.CodeDir(job.Name), "afi_status.sh"),
				[]byte("#!/bin/sh\necho available\n"), 0755)).To(Succeed())

			Expect(stages.GenerateAFI(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateSynthesized))
			Expect(logOf(job)).To(ContainSubstring("FPGA image available"))
		})

		It("fails the job when the status script reports failure", func() {
			job := newJob(state.StateAFIPending, map[string]any{"toolchain": "f1"})
			Expect(os.WriteFile(filepath.Join(store.CodeDir(job.Name), "afi_status.sh"),
				[]byte("#!/bin/sh\necho failed\n"), 0755)).To(Succeed())

			Expect(stages.GenerateAFI(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateFailed))
		})
	})

	Describe("Execute", func() {
		It("finishes the job and collects its declared outputs", func() {
			job := newJob(state.StateSynthesized, map[string]any{
				"outputs": []any{"results.txt"},
			})
			Expect(os.WriteFile(filepath.Join(store.CodeDir(job.Name), "results.txt"),
				[]byte("latency 42ns\n"), 0644)).To(Succeed())

			Expect(stages.Execute(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateDone))
			Expect(logOf(job)).To(ContainSubstring("output results.txt:"))
			Expect(logOf(job)).To(ContainSubstring("latency 42ns"))
		})

		It("fails the job when a declared output is missing", func() {
			job := newJob(state.StateSynthesized, map[string]any{
				"outputs": []any{"results.txt"},
			})

			Expect(stages.Execute(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateFailed))
			Expect(logOf(job)).To(ContainSubstring("missing after run"))
		})

		It("rejects output names that escape the code tree", func() {
			job := newJob(state.StateSynthesized, map[string]any{
				"outputs": []any{"../info.json"},
			})

			Expect(stages.Execute(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateFailed))
			Expect(logOf(job)).To(ContainSubstring("invalid output file name"))
		})

		It("finishes a job with no declared outputs", func() {
			job := newJob(state.StateSynthesized, nil)

			Expect(stages.Execute(ctx, env(config.StageSettings{}))).To(Succeed())

			Expect(stateOf(job)).To(Equal(state.StateDone))
		})
	})

	Describe("RegisterAll", func() {
		It("registers the four pipeline stages", func() {
			registry := pipeline.NewRegistry()
			stages.RegisterAll(registry)

			Expect(registry.Names()).To(Equal([]string{"afi", "execute", "make", "unpack"}))
		})
	})
})

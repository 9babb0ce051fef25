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

package state_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hwforge/forge-core/pkg/state"
)

var _ = Describe("PipelineGraph", func() {
	var graph *state.Graph

	BeforeEach(func() {
		var err error
		graph, err = state.NewPipelineGraph()
		Expect(err).NotTo(HaveOccurred())
	})

	It("enters at uploaded", func() {
		Expect(graph.Entry()).To(Equal(state.StateUploaded))
	})

	It("knows every pipeline state", func() {
		for _, name := range []string{
			state.StateUploaded, state.StateUnpacking, state.StateMake,
			state.StateBuilding, state.StateAFIPending, state.StateAFIGenerating,
			state.StateSynthesized, state.StateExecuting, state.StateDone,
			state.StateFailed,
		} {
			Expect(graph.Known(name)).To(BeTrue(), "state %s should be known", name)
		}

		Expect(graph.Known("melting")).To(BeFalse())
	})

	It("classifies locked and terminal states", func() {
		Expect(graph.IsLocked(state.StateUnpacking)).To(BeTrue())
		Expect(graph.IsLocked(state.StateBuilding)).To(BeTrue())
		Expect(graph.IsLocked(state.StateAFIGenerating)).To(BeTrue())
		Expect(graph.IsLocked(state.StateExecuting)).To(BeTrue())
		Expect(graph.IsLocked(state.StateUploaded)).To(BeFalse())

		Expect(graph.IsTerminal(state.StateDone)).To(BeTrue())
		Expect(graph.IsTerminal(state.StateFailed)).To(BeTrue())
		Expect(graph.IsTerminal(state.StateSynthesized)).To(BeFalse())
	})

	Describe("transitions", func() {
		It("allows the happy path", func() {
			Expect(graph.CanTransition(state.StateUploaded, state.StateUnpacking)).To(BeTrue())
			Expect(graph.CanTransition(state.StateUnpacking, state.StateMake)).To(BeTrue())
			Expect(graph.CanTransition(state.StateMake, state.StateBuilding)).To(BeTrue())
			Expect(graph.CanTransition(state.StateBuilding, state.StateAFIPending)).To(BeTrue())
			Expect(graph.CanTransition(state.StateBuilding, state.StateSynthesized)).To(BeTrue())
			Expect(graph.CanTransition(state.StateAFIPending, state.StateAFIGenerating)).To(BeTrue())
			Expect(graph.CanTransition(state.StateAFIGenerating, state.StateSynthesized)).To(BeTrue())
			Expect(graph.CanTransition(state.StateSynthesized, state.StateExecuting)).To(BeTrue())
			Expect(graph.CanTransition(state.StateExecuting, state.StateDone)).To(BeTrue())
		})

		It("allows every locked state to fail", func() {
			for _, locked := range []string{
				state.StateUnpacking, state.StateBuilding,
				state.StateAFIGenerating, state.StateExecuting,
			} {
				Expect(graph.CanTransition(locked, state.StateFailed)).To(BeTrue(),
					"%s -> failed should be allowed", locked)
			}
		})

		It("rejects skipping stages", func() {
			Expect(graph.CanTransition(state.StateUploaded, state.StateMake)).To(BeFalse())
			Expect(graph.CanTransition(state.StateUploaded, state.StateDone)).To(BeFalse())
			Expect(graph.CanTransition(state.StateMake, state.StateSynthesized)).To(BeFalse())
		})

		It("rejects leaving terminal states", func() {
			Expect(graph.CanTransition(state.StateDone, state.StateExecuting)).To(BeFalse())
			Expect(graph.CanTransition(state.StateFailed, state.StateUploaded)).To(BeFalse())
		})

		It("rejects unlocked jobs moving straight to failed", func() {
			Expect(graph.CanTransition(state.StateUploaded, state.StateFailed)).To(BeFalse())
			Expect(graph.CanTransition(state.StateMake, state.StateFailed)).To(BeFalse())
		})

		It("validates with a descriptive error", func() {
			Expect(graph.Validate(state.StateUploaded, state.StateUnpacking)).To(Succeed())

			err := graph.Validate(state.StateUploaded, state.StateDone)
			Expect(err).To(HaveOccurred())

			err = graph.Validate("bogus", state.StateDone)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("NewGraph", func() {
	kinds := func() map[string]state.Kind {
		return map[string]state.Kind{
			"a":    state.KindUnlocked,
			"work": state.KindLocked,
			"b":    state.KindUnlocked,
			"end":  state.KindTerminal,
		}
	}

	It("accepts a well-formed graph", func() {
		_, err := state.NewGraph("a", kinds(), []state.Transition{
			{From: "a", To: "work"},
			{From: "work", To: "b"},
			{From: "b", To: "end"},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a locked state with two inbound edges", func() {
		_, err := state.NewGraph("a", kinds(), []state.Transition{
			{From: "a", To: "work"},
			{From: "b", To: "work"},
			{From: "work", To: "b"},
		})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("work"))
	})

	It("rejects a locked state with no inbound edge", func() {
		_, err := state.NewGraph("a", kinds(), []state.Transition{
			{From: "work", To: "b"},
			{From: "a", To: "b"},
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects outbound edges from terminal states", func() {
		_, err := state.NewGraph("a", kinds(), []state.Transition{
			{From: "a", To: "work"},
			{From: "work", To: "b"},
			{From: "end", To: "a"},
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects transitions between locked states", func() {
		k := kinds()
		k["work2"] = state.KindLocked

		_, err := state.NewGraph("a", k, []state.Transition{
			{From: "a", To: "work"},
			{From: "work", To: "work2"},
			{From: "work2", To: "b"},
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown entry state", func() {
		_, err := state.NewGraph("missing", kinds(), []state.Transition{
			{From: "a", To: "work"},
			{From: "work", To: "b"},
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects transitions naming unknown states", func() {
		_, err := state.NewGraph("a", kinds(), []state.Transition{
			{From: "a", To: "work"},
			{From: "work", To: "elsewhere"},
		})
		Expect(err).To(HaveOccurred())
	})
})

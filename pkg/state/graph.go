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

package state

import (
	"fmt"

	"github.com/looplab/fsm"
)

// Kind classifies a state within the pipeline graph.
type Kind int

const (
	// KindUnlocked marks a stable state where a job awaits pickup.
	KindUnlocked Kind = iota
	// KindLocked marks a transient state held by exactly one worker.
	KindLocked
	// KindTerminal marks an end state; no transitions leave it.
	KindTerminal
)

// Graph enumerates the valid states and transitions of the job pipeline.
// It is immutable after construction; per-job machines are built on demand
// with Machine. The transition tables are fsm.EventDesc data, one event per
// destination state.
type Graph struct {
	kinds  map[string]Kind
	events []fsm.EventDesc
	entry  string
}

// Transition is one directed edge of the pipeline graph.
type Transition struct {
	From string
	To   string
}

// NewGraph builds and validates a graph from a kind table and an edge list.
// Validation enforces the structural rules the claim protocol relies on:
// every locked state has exactly one inbound edge, terminal states have no
// outbound edges, and every edge endpoint is a known state.
func NewGraph(entry string, kinds map[string]Kind, transitions []Transition) (*Graph, error) {
	if _, ok := kinds[entry]; !ok {
		return nil, fmt.Errorf("entry state %q is not in the state table", entry)
	}

	if kinds[entry] != KindUnlocked {
		return nil, fmt.Errorf("entry state %q must be unlocked", entry)
	}

	lockedInbound := make(map[string]int)

	for _, t := range transitions {
		fromKind, ok := kinds[t.From]
		if !ok {
			return nil, fmt.Errorf("transition from unknown state %q", t.From)
		}

		toKind, ok := kinds[t.To]
		if !ok {
			return nil, fmt.Errorf("transition to unknown state %q", t.To)
		}

		if fromKind == KindTerminal {
			return nil, fmt.Errorf("terminal state %q cannot have outbound transition to %q", t.From, t.To)
		}

		if toKind == KindLocked {
			lockedInbound[t.To]++
		}

		// A locked state must resolve on the next transition, never move
		// into another locked state.
		if fromKind == KindLocked && toKind == KindLocked {
			return nil, fmt.Errorf("locked state %q cannot transition to locked state %q", t.From, t.To)
		}
	}

	for name, kind := range kinds {
		if kind != KindLocked {
			continue
		}

		if lockedInbound[name] != 1 {
			return nil, fmt.Errorf("locked state %q must have exactly one inbound edge, has %d", name, lockedInbound[name])
		}
	}

	// One event per destination state, sources collected from the edge list.
	srcByDst := make(map[string][]string)
	order := make([]string, 0, len(transitions))

	for _, t := range transitions {
		if _, seen := srcByDst[t.To]; !seen {
			order = append(order, t.To)
		}

		srcByDst[t.To] = append(srcByDst[t.To], t.From)
	}

	events := make([]fsm.EventDesc, 0, len(order))
	for _, dst := range order {
		events = append(events, fsm.EventDesc{Name: eventFor(dst), Src: srcByDst[dst], Dst: dst})
	}

	return &Graph{kinds: kinds, events: events, entry: entry}, nil
}

// NewPipelineGraph builds the forge build pipeline graph.
func NewPipelineGraph() (*Graph, error) {
	kinds := map[string]Kind{
		StateUploaded:      KindUnlocked,
		StateUnpacking:     KindLocked,
		StateMake:          KindUnlocked,
		StateBuilding:      KindLocked,
		StateAFIPending:    KindUnlocked,
		StateAFIGenerating: KindLocked,
		StateSynthesized:   KindUnlocked,
		StateExecuting:     KindLocked,
		StateDone:          KindTerminal,
		StateFailed:        KindTerminal,
	}

	transitions := []Transition{
		{From: StateUploaded, To: StateUnpacking},
		{From: StateUnpacking, To: StateMake},
		{From: StateUnpacking, To: StateFailed},
		{From: StateMake, To: StateBuilding},
		{From: StateBuilding, To: StateAFIPending},
		{From: StateBuilding, To: StateSynthesized},
		{From: StateBuilding, To: StateFailed},
		{From: StateAFIPending, To: StateAFIGenerating},
		{From: StateAFIGenerating, To: StateSynthesized},
		{From: StateAFIGenerating, To: StateFailed},
		{From: StateSynthesized, To: StateExecuting},
		{From: StateExecuting, To: StateDone},
		{From: StateExecuting, To: StateFailed},
	}

	return NewGraph(StateUploaded, kinds, transitions)
}

// eventFor names the fsm event that moves a job into dst.
func eventFor(dst string) string {
	return "to_" + dst
}

// Entry returns the pipeline entry state.
func (g *Graph) Entry() string {
	return g.entry
}

// Known reports whether name is a state of this graph.
func (g *Graph) Known(name string) bool {
	_, ok := g.kinds[name]

	return ok
}

// KindOf returns the kind of a known state.
func (g *Graph) KindOf(name string) (Kind, bool) {
	kind, ok := g.kinds[name]

	return kind, ok
}

// IsLocked reports whether name is a locked state.
func (g *Graph) IsLocked(name string) bool {
	return g.kinds[name] == KindLocked
}

// IsTerminal reports whether name is a terminal state.
func (g *Graph) IsTerminal(name string) bool {
	return g.kinds[name] == KindTerminal
}

// States returns all known state names.
func (g *Graph) States() []string {
	names := make([]string, 0, len(g.kinds))
	for name := range g.kinds {
		names = append(names, name)
	}

	return names
}

// Machine builds a looplab machine positioned at current. Callers drive it
// with the to_<state> events; the Graph itself stays immutable.
func (g *Graph) Machine(current string) *fsm.FSM {
	return fsm.NewFSM(current, g.events, nil)
}

// CanTransition reports whether a job in from may move directly to to.
func (g *Graph) CanTransition(from, to string) bool {
	if !g.Known(from) || !g.Known(to) {
		return false
	}

	return g.Machine(from).Can(eventFor(to))
}

// Validate checks a single transition and returns a descriptive error when
// the edge is not part of the graph. Claim writes go through this before
// anything touches disk.
func (g *Graph) Validate(from, to string) error {
	if !g.Known(from) {
		return fmt.Errorf("unknown state %q", from)
	}

	if !g.Known(to) {
		return fmt.Errorf("unknown state %q", to)
	}

	if !g.CanTransition(from, to) {
		return fmt.Errorf("no transition from %q to %q", from, to)
	}

	return nil
}

// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"cmp"
	"slices"
	"time"

	"github.com/ThoseWhoHackTrees/agent-vis/fsmodel"
)

// Snapshot is an immutable view of the registry. All methods are safe
// for concurrent use, and returned slices belong to the caller.
type Snapshot struct {
	version  uint64
	agents   []Agent
	index    map[string]int
	history  map[fsmodel.NodeID][]NodeActivity
	hotness  map[fsmodel.NodeID]uint64
	counters Counters
	pending  int
}

// Transition is the movement an agent is making between two nodes.
// Interpolating between them is the renderer's business.
type Transition struct {
	SessionID string    `json:"session_id"`
	From      NodeRef   `json:"from"`
	To        NodeRef   `json:"to"`
	Start     time.Time `json:"start"`
}

// Hot is a node and its hotness.
type Hot struct {
	Node  fsmodel.NodeID `json:"node"`
	Count uint64         `json:"count"`
}

// Version increases with every publish.
func (s *Snapshot) Version() uint64 { return s.version }

// Agents returns every session seen, including ended ones, in order of
// first appearance.
func (s *Snapshot) Agents() []Agent { return slices.Clone(s.agents) }

// Active returns the sessions that have not ended.
func (s *Snapshot) Active() []Agent {
	active := make([]Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		if agent.State.Live() {
			active = append(active, agent)
		}
	}
	return active
}

// Agent returns the session with the given ID.
func (s *Snapshot) Agent(sessionID string) (Agent, bool) {
	index, ok := s.index[sessionID]
	if !ok {
		return Agent{}, false
	}
	return s.agents[index], true
}

// Transitions returns the current (from, to, start) triple of every
// live session that has a target.
func (s *Snapshot) Transitions() []Transition {
	var transitions []Transition
	for _, agent := range s.agents {
		if !agent.State.Live() || agent.Target.IsZero() {
			continue
		}
		transitions = append(transitions, Transition{
			SessionID: agent.SessionID,
			From:      agent.PreviousTarget,
			To:        agent.Target,
			Start:     agent.TransitionStart,
		})
	}
	return transitions
}

// NodeHistory returns the most recent activity on a node, oldest first.
func (s *Snapshot) NodeHistory(node fsmodel.NodeID) []NodeActivity {
	return slices.Clone(s.history[node])
}

// Hotness returns how many tool-uses have referenced a node.
func (s *Snapshot) Hotness(node fsmodel.NodeID) uint64 { return s.hotness[node] }

// TopHot returns up to n of the hottest nodes, by count descending and
// then node ID ascending.
func (s *Snapshot) TopHot(n int) []Hot {
	if n <= 0 {
		return nil
	}
	ranked := make([]Hot, 0, len(s.hotness))
	for node, count := range s.hotness {
		ranked = append(ranked, Hot{Node: node, Count: count})
	}
	slices.SortFunc(ranked, func(a, b Hot) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Node, b.Node)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Counters returns the cumulative statistics at publish time.
func (s *Snapshot) Counters() Counters { return s.counters }

// Pending is the number of references awaiting resolution.
func (s *Snapshot) Pending() int { return s.pending }

// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"log/slog"
	"maps"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ThoseWhoHackTrees/agent-vis/fsmodel"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
)

// Config holds the registry's timing and history bounds. Zero fields
// take the defaults listed beside them.
type Config struct {
	// Clock stamps transitions and drives the timers. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	SpawnDuration  time.Duration // 500ms: Starting → Idle
	ActivityWindow time.Duration // 1.2s: activity state → Idle
	IdleTimeout    time.Duration // 5s: Idle → Ended
	ResolveGrace   time.Duration // 2s: pending reference lifetime

	ActivityLog  int // 64 records per session
	NodeHistory  int // 10 records per node
	StateHistory int // 32 states per session
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SpawnDuration <= 0 {
		c.SpawnDuration = 500 * time.Millisecond
	}
	if c.ActivityWindow <= 0 {
		c.ActivityWindow = 1200 * time.Millisecond
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Second
	}
	if c.ResolveGrace <= 0 {
		c.ResolveGrace = 2 * time.Second
	}
	if c.ActivityLog <= 0 {
		c.ActivityLog = 64
	}
	if c.NodeHistory <= 0 {
		c.NodeHistory = 10
	}
	if c.StateHistory <= 0 {
		c.StateHistory = 32
	}
	return c
}

// Resolver looks up tree nodes by absolute path. *fsmodel.Snapshot
// implements it.
type Resolver interface {
	Lookup(path string) (*fsmodel.Node, bool)
}

// NodeRef refers to a tree node by ID. A reference whose path the tree
// had not observed yet is Pending until it resolves or is dropped; a
// dropped reference keeps its Path with a zero Node.
type NodeRef struct {
	Path    string         `json:"path,omitempty"`
	Node    fsmodel.NodeID `json:"node,omitempty"`
	Pending bool           `json:"pending,omitempty"`

	// sequence identifies the envelope that produced a pending
	// reference, so resolution updates exactly the records it made.
	sequence uint64
}

// IsZero reports whether the reference names nothing.
func (r NodeRef) IsZero() bool { return r.Path == "" && r.Node == 0 }

// Resolved reports whether the reference points at a node.
func (r NodeRef) Resolved() bool { return r.Node != 0 }

// ActivityRecord is one tool-use in a session's activity log.
type ActivityRecord struct {
	Sequence uint64          `json:"sequence"`
	Tool     agentevent.Kind `json:"tool"`
	Target   NodeRef         `json:"target"`
	At       time.Time       `json:"at"`
}

// NodeActivity is one tool-use in a node's history.
type NodeActivity struct {
	SessionID string          `json:"session_id"`
	Tool      agentevent.Kind `json:"tool"`
	At        time.Time       `json:"at"`
}

// Agent is one session. Values reachable from a Snapshot are copies and
// may be kept by the caller.
type Agent struct {
	SessionID string `json:"session_id"`
	Identity

	State           State     `json:"state"`
	Target          NodeRef   `json:"target"`
	PreviousTarget  NodeRef   `json:"previous_target"`
	TransitionStart time.Time `json:"transition_start"`

	Cwd   string `json:"cwd,omitempty"`
	Model string `json:"model,omitempty"`

	// Implicit is set when the session was first seen through a
	// tool-use rather than session-start.
	Implicit  bool   `json:"implicit,omitempty"`
	EndReason string `json:"end_reason,omitempty"`

	FirstSeen    time.Time `json:"first_seen"`
	LastEvent    time.Time `json:"last_event"`
	LastSequence uint64    `json:"last_sequence"`

	// Activity is oldest first and bounded by Config.ActivityLog.
	Activity []ActivityRecord `json:"activity"`

	// States lists each distinct state entered, oldest first, bounded
	// by Config.StateHistory.
	States []State `json:"states"`

	lastReceived time.Time
}

func (a *Agent) copy() Agent {
	copied := *a
	copied.Activity = append([]ActivityRecord(nil), a.Activity...)
	copied.States = append([]State(nil), a.States...)
	return copied
}

// Counters are cumulative registry statistics.
type Counters struct {
	Applied  uint64 `json:"applied"`
	Stale    uint64 `json:"stale"`
	Implicit uint64 `json:"implicit"`
	Revived  uint64 `json:"revived"`
	Ignored  uint64 `json:"ignored"`
	Resolved uint64 `json:"resolved"`
	Dropped  uint64 `json:"dropped"`
}

type pendingReference struct {
	sessionID string
	sequence  uint64
	tool      agentevent.Kind
	path      string
	at        time.Time
	requested time.Time
}

// Registry owns every session's state machine. Apply and Sweep must be
// called from a single goroutine; Snapshot and Published are safe from
// any goroutine.
type Registry struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	agents map[string]*Agent
	order  []string

	pending []pendingReference
	history map[fsmodel.NodeID][]NodeActivity
	hotness map[fsmodel.NodeID]uint64

	counters Counters
	version  uint64

	current   atomic.Pointer[Snapshot]
	published chan struct{}
}

// NewRegistry returns an empty registry with its first snapshot
// already published.
func NewRegistry(config Config) *Registry {
	config = config.withDefaults()
	registry := &Registry{
		config:    config,
		clock:     config.Clock,
		logger:    config.Logger,
		agents:    make(map[string]*Agent),
		history:   make(map[fsmodel.NodeID][]NodeActivity),
		hotness:   make(map[fsmodel.NodeID]uint64),
		published: make(chan struct{}, 1),
	}
	registry.publish()
	return registry
}

// Snapshot returns the most recently published snapshot.
func (r *Registry) Snapshot() *Snapshot { return r.current.Load() }

// Published receives a value after at least one publish since the last
// receive.
func (r *Registry) Published() <-chan struct{} { return r.published }

// Apply feeds one relay envelope through the state machine, resolving
// any target path against tree (which may be nil). It reports whether
// the registry changed; if so a new snapshot has been published.
//
// An envelope whose sequence is not after the session's last applied
// sequence is dropped, unless it was received later than that one,
// which happens when the relay restarts and its sequence resets.
func (r *Registry) Apply(envelope agentevent.Envelope, tree Resolver) bool {
	now := r.clock.Now()
	agent := r.agents[envelope.SessionID]
	if agent != nil && envelope.Sequence <= agent.LastSequence && !envelope.ReceivedAt.After(agent.lastReceived) {
		r.counters.Stale++
		r.logger.Debug("dropping out-of-order event",
			"session_id", envelope.SessionID,
			"sequence", envelope.Sequence,
			"last_sequence", agent.LastSequence,
		)
		return false
	}

	var changed bool
	switch {
	case envelope.Kind == agentevent.KindSessionStart:
		changed = r.applySessionStart(envelope, agent, now)
	case envelope.Kind.IsToolUse():
		changed = r.applyToolUse(envelope, agent, tree, now)
	case envelope.Kind == agentevent.KindSessionEnd:
		changed = r.applySessionEnd(envelope, agent, now)
	default:
		r.counters.Ignored++
		r.logger.Warn("ignoring event of unknown kind", "kind", envelope.Kind, "sequence", envelope.Sequence)
	}
	if !changed {
		return false
	}
	r.counters.Applied++
	r.publish()
	return true
}

func (r *Registry) applySessionStart(envelope agentevent.Envelope, agent *Agent, now time.Time) bool {
	body, err := envelope.SessionStart()
	if err != nil {
		r.counters.Ignored++
		r.logger.Warn("ignoring undecodable session-start", "sequence", envelope.Sequence, "error", err)
		return false
	}
	if agent == nil {
		agent = r.create(envelope.SessionID, now, false)
	} else if agent.State == StateEnded {
		r.counters.Revived++
		agent.EndReason = ""
	}
	agent.Cwd = body.Cwd
	agent.Model = body.Model
	agent.TransitionStart = now
	r.enter(agent, StateStarting)
	r.touch(agent, envelope, now)
	r.logger.Info("session started", "session_id", agent.SessionID, "label", agent.Label, "cwd", agent.Cwd)
	return true
}

func (r *Registry) applyToolUse(envelope agentevent.Envelope, agent *Agent, tree Resolver, now time.Time) bool {
	body, err := envelope.ToolUse()
	if err != nil {
		r.counters.Ignored++
		r.logger.Warn("ignoring undecodable tool-use", "sequence", envelope.Sequence, "error", err)
		return false
	}
	state, _ := stateForTool(envelope.Kind)

	switch {
	case agent == nil:
		agent = r.create(envelope.SessionID, now, true)
		r.counters.Implicit++
		r.logger.Info("session created by tool-use", "session_id", agent.SessionID, "label", agent.Label)
	case agent.State == StateEnded:
		r.counters.Revived++
		agent.EndReason = ""
		r.enter(agent, StateStarting)
		r.logger.Info("session revived by tool-use", "session_id", agent.SessionID)
	}

	target := r.reference(agent, body.ToolInput.FilePath, envelope, tree, now)
	agent.PreviousTarget = agent.Target
	agent.Target = target
	agent.TransitionStart = now
	r.enter(agent, state)
	agent.Activity = appendBounded(agent.Activity, ActivityRecord{
		Sequence: envelope.Sequence,
		Tool:     envelope.Kind,
		Target:   target,
		At:       envelope.ReceivedAt,
	}, r.config.ActivityLog)
	if target.Resolved() {
		r.recordNode(target.Node, agent.SessionID, envelope.Kind, envelope.ReceivedAt)
	}
	r.touch(agent, envelope, now)
	return true
}

func (r *Registry) applySessionEnd(envelope agentevent.Envelope, agent *Agent, now time.Time) bool {
	if agent == nil {
		r.counters.Ignored++
		r.logger.Debug("ignoring session-end for unknown session", "session_id", envelope.SessionID)
		return false
	}
	body, err := envelope.SessionEnd()
	if err != nil {
		r.counters.Ignored++
		r.logger.Warn("ignoring undecodable session-end", "sequence", envelope.Sequence, "error", err)
		return false
	}
	r.touch(agent, envelope, now)
	if agent.State == StateEnded {
		return true
	}
	agent.EndReason = body.Reason
	if agent.EndReason == "" {
		agent.EndReason = "session-end"
	}
	r.enter(agent, StateEnded)
	r.logger.Info("session ended", "session_id", agent.SessionID, "reason", agent.EndReason)
	return true
}

// Sweep advances the timers and retries pending references against
// tree. It reports whether anything changed; if so a new snapshot has
// been published.
func (r *Registry) Sweep(tree Resolver) bool {
	now := r.clock.Now()
	changed := r.resolvePending(tree, now)

	for _, sessionID := range r.order {
		agent := r.agents[sessionID]
		quiet := now.Sub(agent.LastEvent)
		switch {
		case agent.State == StateStarting && now.Sub(agent.TransitionStart) >= r.config.SpawnDuration:
			r.enter(agent, StateIdle)
			changed = true
		case agent.State.Busy() && quiet >= r.config.ActivityWindow:
			r.enter(agent, StateIdle)
			changed = true
		}
		if agent.State == StateIdle && quiet >= r.config.IdleTimeout {
			agent.EndReason = "idle"
			r.enter(agent, StateEnded)
			changed = true
			r.logger.Info("session ended", "session_id", agent.SessionID, "reason", agent.EndReason)
		}
	}

	if changed {
		r.publish()
	}
	return changed
}

func (r *Registry) create(sessionID string, now time.Time, implicit bool) *Agent {
	agent := &Agent{
		SessionID: sessionID,
		Identity:  IdentityOf(sessionID),
		State:     StateStarting,
		Implicit:  implicit,
		FirstSeen: now,
		States:    []State{StateStarting},
	}
	r.agents[sessionID] = agent
	r.order = append(r.order, sessionID)
	return agent
}

// enter moves agent to state, recording it if it differs from the
// current one.
func (r *Registry) enter(agent *Agent, state State) {
	if agent.State == state {
		return
	}
	agent.State = state
	agent.States = appendBounded(agent.States, state, r.config.StateHistory)
}

func (r *Registry) touch(agent *Agent, envelope agentevent.Envelope, now time.Time) {
	agent.LastEvent = now
	agent.LastSequence = envelope.Sequence
	agent.lastReceived = envelope.ReceivedAt
}

// reference resolves a tool-use path, relative paths being taken from
// the session's working directory.
func (r *Registry) reference(agent *Agent, path string, envelope agentevent.Envelope, tree Resolver, now time.Time) NodeRef {
	if !filepath.IsAbs(path) && agent.Cwd != "" {
		path = filepath.Join(agent.Cwd, path)
	}
	path = filepath.Clean(path)
	if tree != nil {
		if node, ok := tree.Lookup(path); ok {
			return NodeRef{Path: path, Node: node.ID}
		}
	}
	r.pending = append(r.pending, pendingReference{
		sessionID: agent.SessionID,
		sequence:  envelope.Sequence,
		tool:      envelope.Kind,
		path:      path,
		at:        envelope.ReceivedAt,
		requested: now,
	})
	return NodeRef{Path: path, Pending: true, sequence: envelope.Sequence}
}

func (r *Registry) resolvePending(tree Resolver, now time.Time) bool {
	if len(r.pending) == 0 {
		return false
	}
	changed := false
	kept := r.pending[:0]
	for _, pending := range r.pending {
		if tree != nil {
			if node, ok := tree.Lookup(pending.path); ok {
				r.settle(pending, NodeRef{Path: pending.path, Node: node.ID})
				r.recordNode(node.ID, pending.sessionID, pending.tool, pending.at)
				r.counters.Resolved++
				changed = true
				continue
			}
		}
		if now.Sub(pending.requested) >= r.config.ResolveGrace {
			r.settle(pending, NodeRef{Path: pending.path})
			r.counters.Dropped++
			changed = true
			r.logger.Debug("dropping unresolved reference", "session_id", pending.sessionID, "path", pending.path)
			continue
		}
		kept = append(kept, pending)
	}
	clear(r.pending[len(kept):])
	r.pending = kept
	return changed
}

// settle replaces the pending references created by one envelope.
func (r *Registry) settle(pending pendingReference, settled NodeRef) {
	agent := r.agents[pending.sessionID]
	if agent == nil {
		return
	}
	matches := func(ref NodeRef) bool { return ref.Pending && ref.sequence == pending.sequence }
	if matches(agent.Target) {
		agent.Target = settled
	}
	if matches(agent.PreviousTarget) {
		agent.PreviousTarget = settled
	}
	// Published snapshots share nothing with the writer's slices, so
	// the log can be patched in place.
	for index := range agent.Activity {
		if matches(agent.Activity[index].Target) {
			agent.Activity[index].Target = settled
		}
	}
}

func (r *Registry) recordNode(node fsmodel.NodeID, sessionID string, tool agentevent.Kind, at time.Time) {
	r.history[node] = appendBounded(r.history[node], NodeActivity{
		SessionID: sessionID,
		Tool:      tool,
		At:        at,
	}, r.config.NodeHistory)
	r.hotness[node]++
}

func (r *Registry) publish() {
	r.version++
	snapshot := &Snapshot{
		version:  r.version,
		agents:   make([]Agent, 0, len(r.order)),
		index:    make(map[string]int, len(r.order)),
		history:  maps.Clone(r.history),
		hotness:  maps.Clone(r.hotness),
		counters: r.counters,
		pending:  len(r.pending),
	}
	for _, sessionID := range r.order {
		snapshot.index[sessionID] = len(snapshot.agents)
		snapshot.agents = append(snapshot.agents, r.agents[sessionID].copy())
	}
	r.current.Store(snapshot)
	select {
	case r.published <- struct{}{}:
	default:
	}
}

// appendBounded returns a new slice holding the last limit elements of
// items followed by item. items itself is never modified, so slices
// already handed to a snapshot stay valid.
func appendBounded[T any](items []T, item T, limit int) []T {
	start := 0
	if len(items) >= limit {
		start = len(items) - limit + 1
	}
	next := make([]T, 0, len(items)-start+1)
	next = append(next, items[start:]...)
	return append(next, item)
}

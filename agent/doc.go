// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent tracks the lifecycle of agent sessions reported by the
// relay.
//
// A [Registry] owns one state machine per session ID:
//
//	Starting ──▶ Idle | Reading | Writing | Editing ──▶ Ended
//
// session-start creates or resets a session to Starting. Every tool-use
// (read, write, edit) moves a live session to the matching activity
// state and shifts its target into PreviousTarget. Sessions reach
// Ended on session-end or after IdleTimeout without events, and stay
// in the registry for history queries until the process exits.
//
// Targets are [NodeRef] values, not pointers into the file tree. A
// path the tree has not seen yet yields a pending reference that is
// resolved on a later [Registry.Sweep] or dropped after ResolveGrace.
// The registry also keeps a relation table from node ID to the most
// recent activity on that node, plus a monotonic hotness count used
// for "most active files" queries.
//
// The Registry has a single writer. Readers use [Registry.Snapshot],
// which returns an immutable [Snapshot] swapped in atomically after
// every change, and never take a lock.
package agent

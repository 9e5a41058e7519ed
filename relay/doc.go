// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay ingests agent telemetry over HTTP and fans it out to
// every connected viewer over WebSocket.
//
// Agents POST to /session-start, /read, /write, /edit and /session-end.
// Each accepted body becomes an [agentevent.Envelope] stamped with the
// next global sequence number and the relay's receipt time, and is
// offered to every subscriber on /ws. Delivery is best effort: nothing
// is queued for viewers that are not connected and nothing is replayed
// on reconnect.
//
// The [Hub] never lets a viewer slow down ingestion. Its member list is
// copy-on-write, so broadcast reads it without a lock; a separate
// sequencer mutex covers sequence stamping and enqueueing, which keeps
// each session's events in receipt order in every queue. Each viewer
// has a bounded queue drained by its own writer goroutine. A viewer
// whose queue is full is disconnected with an [OverflowError] and the
// rest are unaffected.
package relay

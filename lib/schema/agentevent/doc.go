// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentevent defines the wire schema shared by the relay and
// its clients.
//
// Agents report activity with HTTP POST requests whose JSON bodies are
// [SessionStart], [ToolUse], or [SessionEnd]. The relay validates the
// body against the endpoint's [Kind], stamps it into an [Envelope]
// with a global sequence number and receipt time, and pushes the
// envelope to every connected client. Clients validate envelopes again
// on receipt, since the push channel is the trust boundary for them.
//
// Envelopes travel as JSON text frames by default and as deterministic
// CBOR binary frames for clients that ask for them. The Payload field
// is always the normalized JSON of the request body.
package agentevent

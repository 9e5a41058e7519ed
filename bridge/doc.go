// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge connects the producers of scene state to its
// consumers.
//
// Three goroutines feed two single-writer producers:
//
//   - [RunWatch] is the file-system model's writer. It applies batches
//     from a watch backend, keeps the backend's directory set in step
//     with the tree, rescans after an overflow, and marks the snapshot
//     stale when the backend fails.
//   - [Client] holds the WebSocket connection to the relay. It validates
//     each envelope, drops and counts malformed ones, and reconnects
//     with bounded exponential backoff. Nothing missed during an outage
//     is replayed.
//   - [RunRegistry] is the agent registry's writer. It applies the
//     client's envelopes, sweeps the registry's timers, and retries
//     pending node references whenever the model publishes.
//
// Consumers never touch the writers. Once per render tick a [Composer]
// loads both published snapshots and the client's connection state into
// a [Frame]. [FrameHandler] serves the same view over HTTP.
package bridge

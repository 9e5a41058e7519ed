// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests never call
// time.After directly. They are the only place in the test suite where
// real wall-clock timeouts appear; everything else runs on
// lib/clock.FakeClock.
//
// [WaitFor] polls a condition against a deadline, for state that is
// published through atomic snapshots rather than channels.
//
// All helpers call t.Fatalf on failure.
package testutil

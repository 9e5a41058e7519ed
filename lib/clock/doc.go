// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that timer-driven
// code (registry sweeps, reconnect backoff, receipt stamping) can be
// tested deterministically.
//
// Production code holds a Clock and receives Real(). Tests construct a
// FakeClock with Fake, start their goroutines, call WaitForTimers to
// make sure the goroutine has registered its timer or ticker, and then
// call Advance to fire it:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go client.Run(ctx)
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(500 * time.Millisecond)
package clock

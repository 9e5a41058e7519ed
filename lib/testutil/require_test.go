// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

// recorder captures Fatalf without stopping the goroutine, so failure
// paths can be asserted.
type recorder struct {
	failed  bool
	message string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
}

func TestRequireReceive(t *testing.T) {
	t.Parallel()
	channel := make(chan int, 1)
	channel <- 7
	if got := RequireReceive(t, channel, time.Second, "value"); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}
}

func TestRequireClosedTimeout(t *testing.T) {
	t.Parallel()
	var r recorder
	RequireClosed(&r, make(chan struct{}), 10*time.Millisecond, "never closes %d", 1)
	if !r.failed {
		t.Fatal("RequireClosed did not fail on an open channel")
	}
	if want := "never closes 1"; !contains(r.message, want) {
		t.Errorf("message %q does not contain %q", r.message, want)
	}
}

func TestWaitFor(t *testing.T) {
	t.Parallel()
	calls := 0
	WaitFor(t, time.Second, func() bool {
		calls++
		return calls >= 3
	})
	if calls != 3 {
		t.Errorf("condition evaluated %d times, want 3", calls)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

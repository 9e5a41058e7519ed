// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"regexp"
	"slices"
	"testing"
)

func TestIdentityIsDeterministic(t *testing.T) {
	t.Parallel()

	label := regexp.MustCompile(`^[α-ω]-\d{2}$`)
	colors := make(map[Color]bool)
	for index := range 64 {
		sessionID := fmt.Sprintf("session-%d", index)
		identity := IdentityOf(sessionID)
		if again := IdentityOf(sessionID); again != identity {
			t.Fatalf("IdentityOf(%q) not stable: %+v vs %+v", sessionID, identity, again)
		}
		if !label.MatchString(identity.Label) {
			t.Errorf("label %q does not look like letter-number", identity.Label)
		}
		if !slices.Contains(Palette[:], identity.Color) {
			t.Errorf("colour %v not in palette", identity.Color)
		}
		colors[identity.Color] = true
	}
	// 64 IDs over a 16-colour palette should touch most of it.
	if len(colors) < 8 {
		t.Errorf("only %d distinct colours across 64 sessions", len(colors))
	}
}

func TestColorHex(t *testing.T) {
	t.Parallel()

	if got := (Color{R: 0x0a, G: 0xff, B: 0x00}).Hex(); got != "#0aff00" {
		t.Errorf("Hex() = %q", got)
	}
}

func TestStateText(t *testing.T) {
	t.Parallel()

	for _, state := range []State{StateStarting, StateIdle, StateReading, StateWriting, StateEditing, StateEnded} {
		text, err := state.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var parsed State
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if parsed != state {
			t.Errorf("round trip %s → %s", state, parsed)
		}
	}
	var state State
	if err := state.UnmarshalText([]byte("sleeping")); err == nil {
		t.Error("unknown state accepted")
	}
	if !StateEditing.Busy() || StateIdle.Busy() || StateEnded.Live() {
		t.Error("state predicates wrong")
	}
}

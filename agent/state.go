// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
)

// State is a session's lifecycle state.
type State uint8

const (
	StateStarting State = iota
	StateIdle
	StateReading
	StateWriting
	StateEditing
	StateEnded
)

var stateNames = [...]string{
	StateStarting: "starting",
	StateIdle:     "idle",
	StateReading:  "reading",
	StateWriting:  "writing",
	StateEditing:  "editing",
	StateEnded:    "ended",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for index, name := range stateNames {
		if name == string(text) {
			*s = State(index)
			return nil
		}
	}
	return fmt.Errorf("unknown agent state %q", text)
}

// Busy reports whether the state is one of the tool activity states.
func (s State) Busy() bool {
	return s == StateReading || s == StateWriting || s == StateEditing
}

// Live reports whether the session has not ended.
func (s State) Live() bool { return s != StateEnded }

// stateForTool maps a tool-use kind to its activity state.
func stateForTool(kind agentevent.Kind) (State, bool) {
	switch kind {
	case agentevent.KindRead:
		return StateReading, true
	case agentevent.KindWrite:
		return StateWriting, true
	case agentevent.KindEdit:
		return StateEditing, true
	}
	return 0, false
}

// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"strings"

	"github.com/ThoseWhoHackTrees/agent-vis/agent"
)

// toolVerbs maps tool names to the verb shown next to an agent. The
// relay only ingests Read, Write and Edit; the search tools are listed
// so activity from a relay that forwards them still reads naturally.
var toolVerbs = map[string]string{
	"Read":  "reading",
	"Write": "writing",
	"Edit":  "editing",
	"Grep":  "searching",
	"Glob":  "scanning",
}

// ToolVerb returns the display verb for a tool name. Unknown tools
// read as "using <tool>".
func ToolVerb(tool string) string {
	if verb, ok := toolVerbs[tool]; ok {
		return verb
	}
	if tool == "" {
		return "working"
	}
	return "using " + strings.ToLower(tool)
}

// StateVerb returns the display verb for an agent state.
func StateVerb(state agent.State) string {
	switch state {
	case agent.StateStarting:
		return "spawning"
	case agent.StateIdle:
		return "idle"
	case agent.StateReading:
		return ToolVerb("Read")
	case agent.StateWriting:
		return ToolVerb("Write")
	case agent.StateEditing:
		return ToolVerb("Edit")
	case agent.StateEnded:
		return "gone"
	default:
		return state.String()
	}
}

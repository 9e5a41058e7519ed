// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package agentevent

import "fmt"

// Kind identifies an agent event. The string value doubles as the
// relay endpoint path.
type Kind string

const (
	KindSessionStart Kind = "session-start"
	KindRead         Kind = "read"
	KindWrite        Kind = "write"
	KindEdit         Kind = "edit"
	KindSessionEnd   Kind = "session-end"
)

// Kinds lists every kind in endpoint registration order.
func Kinds() []Kind {
	return []Kind{KindSessionStart, KindRead, KindWrite, KindEdit, KindSessionEnd}
}

// ParseKind validates a kind string.
func ParseKind(value string) (Kind, error) {
	kind := Kind(value)
	switch kind {
	case KindSessionStart, KindRead, KindWrite, KindEdit, KindSessionEnd:
		return kind, nil
	}
	return "", fmt.Errorf("unknown event kind %q", value)
}

// IsToolUse reports whether the kind carries a file path.
func (k Kind) IsToolUse() bool {
	return k == KindRead || k == KindWrite || k == KindEdit
}

// ToolName is the tool_name an agent must send for a tool-use kind,
// or "" for lifecycle kinds.
func (k Kind) ToolName() string {
	switch k {
	case KindRead:
		return "Read"
	case KindWrite:
		return "Write"
	case KindEdit:
		return "Edit"
	}
	return ""
}

// Path is the relay ingest endpoint for the kind.
func (k Kind) Path() string { return "/" + string(k) }

// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package agentevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxRequestBytes bounds an ingest body.
const MaxRequestBytes = 64 << 10

// SessionStart is the body of POST /session-start.
type SessionStart struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
	Model     string `json:"model"`
}

// ToolUse is the body of POST /read, /write, and /edit.
type ToolUse struct {
	SessionID string    `json:"session_id"`
	ToolName  string    `json:"tool_name"`
	ToolInput ToolInput `json:"tool_input"`
}

// ToolInput carries the target of a tool-use.
type ToolInput struct {
	FilePath string `json:"file_path"`
}

// SessionEnd is the body of POST /session-end.
type SessionEnd struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// ValidationError describes a body that cannot be accepted.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: field %s: %s", e.Kind, e.Field, e.Reason)
}

// Request is a validated ingest body.
type Request struct {
	Kind      Kind
	SessionID string

	// Payload is the body re-encoded from its typed form, so unknown
	// fields and formatting differences never reach clients.
	Payload json.RawMessage
}

// DecodeRequest parses and validates body for the endpoint of kind.
// All failures are *ValidationError.
func DecodeRequest(kind Kind, body []byte) (Request, error) {
	if len(body) > MaxRequestBytes {
		return Request{}, &ValidationError{Kind: kind, Reason: fmt.Sprintf("body exceeds %d bytes", MaxRequestBytes)}
	}
	var typed any
	switch kind {
	case KindSessionStart:
		typed = &SessionStart{}
	case KindRead, KindWrite, KindEdit:
		typed = &ToolUse{}
	case KindSessionEnd:
		typed = &SessionEnd{}
	default:
		return Request{}, &ValidationError{Kind: kind, Reason: "unknown kind"}
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(typed); err != nil {
		return Request{}, &ValidationError{Kind: kind, Reason: "malformed JSON: " + err.Error()}
	}
	if decoder.More() {
		return Request{}, &ValidationError{Kind: kind, Reason: "trailing data after JSON body"}
	}

	sessionID, err := validate(kind, typed)
	if err != nil {
		return Request{}, err
	}
	payload, err := json.Marshal(typed)
	if err != nil {
		return Request{}, &ValidationError{Kind: kind, Reason: err.Error()}
	}
	return Request{Kind: kind, SessionID: sessionID, Payload: payload}, nil
}

func validate(kind Kind, typed any) (string, error) {
	missing := func(field string) error {
		return &ValidationError{Kind: kind, Field: field, Reason: "required"}
	}
	switch body := typed.(type) {
	case *SessionStart:
		if strings.TrimSpace(body.SessionID) == "" {
			return "", missing("session_id")
		}
		if body.Cwd == "" {
			return "", missing("cwd")
		}
		if body.Model == "" {
			return "", missing("model")
		}
		return body.SessionID, nil
	case *ToolUse:
		if strings.TrimSpace(body.SessionID) == "" {
			return "", missing("session_id")
		}
		if body.ToolName == "" {
			return "", missing("tool_name")
		}
		if body.ToolName != kind.ToolName() {
			return "", &ValidationError{
				Kind:   kind,
				Field:  "tool_name",
				Reason: fmt.Sprintf("%q does not match endpoint (want %q)", body.ToolName, kind.ToolName()),
			}
		}
		if body.ToolInput.FilePath == "" {
			return "", missing("tool_input.file_path")
		}
		return body.SessionID, nil
	case *SessionEnd:
		if strings.TrimSpace(body.SessionID) == "" {
			return "", missing("session_id")
		}
		return body.SessionID, nil
	}
	return "", &ValidationError{Kind: kind, Reason: "unsupported payload"}
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

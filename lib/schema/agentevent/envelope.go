// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package agentevent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/codec"
)

// Envelope is one relayed event.
type Envelope struct {
	// Sequence is the relay's global receipt order, starting at 1 and
	// strictly increasing for the relay's lifetime.
	Sequence uint64 `json:"sequence"`

	// ReceivedAt is the relay's clock at receipt.
	ReceivedAt time.Time `json:"received_at"`

	Kind      Kind   `json:"kind"`
	SessionID string `json:"session_id"`

	// Payload is the normalized request body.
	Payload json.RawMessage `json:"payload"`
}

// Encoding selects the push frame format.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// ParseEncoding accepts "json", "cbor", or "" (JSON).
func ParseEncoding(value string) (Encoding, error) {
	switch value {
	case "", "json":
		return EncodingJSON, nil
	case "cbor":
		return EncodingCBOR, nil
	}
	return "", fmt.Errorf("unknown encoding %q", value)
}

// Encode serializes the envelope for a push frame.
func (e Envelope) Encode(encoding Encoding) ([]byte, error) {
	if encoding == EncodingCBOR {
		return codec.Marshal(e)
	}
	return json.Marshal(e)
}

// Decode parses a push frame and validates the result. Any failure
// means the frame must be dropped.
func Decode(data []byte, encoding Encoding) (Envelope, error) {
	var envelope Envelope
	var err error
	if encoding == EncodingCBOR {
		err = codec.Unmarshal(data, &envelope)
	} else {
		err = json.Unmarshal(data, &envelope)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if err := envelope.Validate(); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}

// Validate checks the envelope header and that the payload is a valid
// body for Kind carrying the same session ID.
func (e Envelope) Validate() error {
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return &ValidationError{Kind: e.Kind, Field: "kind", Reason: err.Error()}
	}
	if e.Sequence == 0 {
		return &ValidationError{Kind: e.Kind, Field: "sequence", Reason: "must be positive"}
	}
	if e.SessionID == "" {
		return &ValidationError{Kind: e.Kind, Field: "session_id", Reason: "required"}
	}
	request, err := DecodeRequest(e.Kind, e.Payload)
	if err != nil {
		return err
	}
	if request.SessionID != e.SessionID {
		return &ValidationError{Kind: e.Kind, Field: "session_id", Reason: "envelope and payload disagree"}
	}
	return nil
}

// SessionStart decodes the payload of a session-start envelope.
func (e Envelope) SessionStart() (SessionStart, error) {
	var body SessionStart
	if e.Kind != KindSessionStart {
		return body, fmt.Errorf("envelope %d is %s, not %s", e.Sequence, e.Kind, KindSessionStart)
	}
	err := json.Unmarshal(e.Payload, &body)
	return body, err
}

// ToolUse decodes the payload of a read, write, or edit envelope.
func (e Envelope) ToolUse() (ToolUse, error) {
	var body ToolUse
	if !e.Kind.IsToolUse() {
		return body, fmt.Errorf("envelope %d is %s, not a tool-use", e.Sequence, e.Kind)
	}
	err := json.Unmarshal(e.Payload, &body)
	return body, err
}

// SessionEnd decodes the payload of a session-end envelope.
func (e Envelope) SessionEnd() (SessionEnd, error) {
	var body SessionEnd
	if e.Kind != KindSessionEnd {
		return body, fmt.Errorf("envelope %d is %s, not %s", e.Sequence, e.Kind, KindSessionEnd)
	}
	err := json.Unmarshal(e.Payload, &body)
	return body, err
}

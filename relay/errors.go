// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"fmt"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
)

// ErrClosed is returned when subscribing to a closed hub, and is the
// disconnect reason of every subscriber still attached when it closes.
var ErrClosed = errors.New("relay: hub closed")

// IngestionError is an agent request the relay refused. It is answered
// with 400 and never broadcast.
type IngestionError struct {
	Kind   agentevent.Kind
	Remote string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("rejecting %s from %s: %v", e.Kind, e.Remote, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// OverflowError is the disconnect reason of a viewer whose outbound
// queue filled up.
type OverflowError struct {
	ClientID string
	Capacity int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("client %s fell behind: outbound queue of %d frames is full", e.ClientID, e.Capacity)
}

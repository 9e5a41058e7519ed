// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package watch

import (
	"errors"
	"log/slog"
)

// Inotify is only available on Linux.
type Inotify struct{ Backend }

// NewInotify fails on this platform; use the fsnotify backend.
func NewInotify(*slog.Logger) (*Inotify, error) {
	return nil, errors.New("watch: inotify backend requires linux; use fsnotify")
}

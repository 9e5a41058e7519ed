// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch reports file-system changes below a set of watched
// directories as batches of [Event] values.
//
// Two backends implement [Backend]. [Inotify] speaks to the Linux
// kernel directly and pairs IN_MOVED_FROM with IN_MOVED_TO by cookie,
// so a rename inside the tree arrives as one Rename event and the
// consumer can keep the node's identity. [FSNotify] is portable but
// cannot pair renames; it reports them as Remove followed by Create.
//
// Backends watch single directories, not trees. The consumer (the
// file-system model's writer) calls Add for every directory it starts
// tracking and Remove for every directory it drops.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
)

// Op is the kind of change an Event reports.
type Op uint8

const (
	Create Op = iota + 1
	Modify
	Remove
	Rename
)

func (o Op) String() string {
	switch o {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Remove:
		return "remove"
	case Rename:
		return "rename"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Event is one observed change.
type Event struct {
	Op   Op
	Path string

	// OldPath is the source path of a Rename.
	OldPath string

	// Directory is set when the backend knows the path is a
	// directory. It is advisory; consumers stat the path themselves.
	Directory bool
}

func (e Event) String() string {
	if e.Op == Rename {
		return fmt.Sprintf("rename %s -> %s", e.OldPath, e.Path)
	}
	return fmt.Sprintf("%s %s", e.Op, e.Path)
}

// Backend is a source of change batches.
type Backend interface {
	// Add starts watching the direct entries of directory. Adding a
	// directory twice is not an error.
	Add(directory string) error

	// Remove stops watching directory. Unknown directories are
	// ignored.
	Remove(directory string) error

	// Events delivers batches in observation order. The channel is
	// closed after Close.
	Events() <-chan []Event

	// Errors delivers asynchronous failures: *WatchError for a
	// problem with one path, ErrOverflow when events were lost.
	Errors() <-chan error

	// AtomicRename reports whether the backend emits Rename events.
	AtomicRename() bool

	// Close stops the backend and releases its descriptors.
	Close() error
}

// ErrOverflow reports that the backend dropped events. The consumer
// must rescan to recover.
var ErrOverflow = errors.New("watch: event queue overflow")

// WatchError is a failure attributable to one path. Walks skip the
// entry and continue; backends report it on Errors.
type WatchError struct {
	Path string
	Op   string
	Err  error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

// Open returns the named backend: "inotify" or "fsnotify".
func Open(name string, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case "inotify":
		backend, err := NewInotify(logger)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "fsnotify":
		backend, err := NewFSNotify(logger)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("watch: unknown backend %q", name)
	}
}

// batchCapacity bounds the Events channel of both backends.
const batchCapacity = 64

// errorCapacity bounds the Errors channel. Errors beyond it are
// dropped; a consumer that is behind has stale state anyway.
const errorCapacity = 16

func reportError(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

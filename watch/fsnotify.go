// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FSNotify is the portable backend. Renames arrive as Remove of the
// old path and Create of the new one, so renamed nodes get new
// identities.
type FSNotify struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	events chan []Event
	errors chan error

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewFSNotify starts an fsnotify watcher.
func NewFSNotify(logger *slog.Logger) (*FSNotify, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	backend := &FSNotify{
		watcher: watcher,
		logger:  logger,
		events:  make(chan []Event, batchCapacity),
		errors:  make(chan error, errorCapacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go backend.loop()
	return backend, nil
}

func (w *FSNotify) Add(directory string) error {
	if err := w.watcher.Add(filepath.Clean(directory)); err != nil {
		return &WatchError{Path: directory, Op: "add", Err: err}
	}
	return nil
}

func (w *FSNotify) Remove(directory string) error {
	err := w.watcher.Remove(filepath.Clean(directory))
	if err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return &WatchError{Path: directory, Op: "remove", Err: err}
	}
	return nil
}

func (w *FSNotify) Events() <-chan []Event { return w.events }

func (w *FSNotify) Errors() <-chan error { return w.errors }

func (w *FSNotify) AtomicRename() bool { return false }

func (w *FSNotify) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	<-w.done
	return err
}

func (w *FSNotify) loop() {
	defer close(w.done)
	defer close(w.events)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			batch := appendConverted(nil, event)
			// Coalesce whatever else is already queued into the
			// same batch.
		drain:
			for len(batch) < 256 {
				select {
				case more, ok := <-w.watcher.Events:
					if !ok {
						break drain
					}
					batch = appendConverted(batch, more)
				default:
					break drain
				}
			}
			if len(batch) == 0 {
				continue
			}
			select {
			case w.events <- batch:
			case <-w.stop:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				reportError(w.errors, ErrOverflow)
				continue
			}
			reportError(w.errors, &WatchError{Op: "fsnotify", Err: err})
		}
	}
}

func appendConverted(batch []Event, event fsnotify.Event) []Event {
	path := filepath.Clean(event.Name)
	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = Create
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = Remove
	case event.Has(fsnotify.Write):
		op = Modify
	default:
		return batch
	}
	if last := len(batch) - 1; op == Modify && last >= 0 && batch[last].Op == Modify && batch[last].Path == path {
		return batch
	}
	return append(batch, Event{Op: op, Path: path})
}

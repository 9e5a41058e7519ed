// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package watch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

const inotifyMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_CLOSE_WRITE |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_ATTRIB |
	unix.IN_ONLYDIR | unix.IN_DONT_FOLLOW | unix.IN_EXCL_UNLINK

// pollTimeoutMilliseconds bounds how long the read loop waits before
// rechecking for Close. It is also how long an unpaired IN_MOVED_FROM
// is held waiting for its IN_MOVED_TO.
const pollTimeoutMilliseconds = 100

// Inotify is the Linux backend.
type Inotify struct {
	fd     int
	logger *slog.Logger

	// mutex guards the watch tables, which the read loop resolves
	// against while the consumer adds and removes directories.
	mutex   sync.Mutex
	watches map[int32]string
	paths   map[string]int32

	events chan []Event
	errors chan error

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewInotify creates an inotify instance and starts its read loop.
func NewInotify(logger *slog.Logger) (*Inotify, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	backend := &Inotify{
		fd:      fd,
		logger:  logger,
		watches: make(map[int32]string),
		paths:   make(map[string]int32),
		events:  make(chan []Event, batchCapacity),
		errors:  make(chan error, errorCapacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go backend.readLoop()
	return backend, nil
}

func (w *Inotify) Add(directory string) error {
	directory = filepath.Clean(directory)

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, watched := w.paths[directory]; watched {
		return nil
	}
	descriptor, err := unix.InotifyAddWatch(w.fd, directory, inotifyMask)
	if err != nil {
		return &WatchError{Path: directory, Op: "inotify_add_watch", Err: err}
	}
	wd := int32(descriptor)
	// The kernel returns an existing descriptor when the inode is
	// already watched under another name.
	if previous, exists := w.watches[wd]; exists {
		delete(w.paths, previous)
	}
	w.watches[wd] = directory
	w.paths[directory] = wd
	return nil
}

func (w *Inotify) Remove(directory string) error {
	directory = filepath.Clean(directory)

	w.mutex.Lock()
	defer w.mutex.Unlock()
	wd, watched := w.paths[directory]
	if !watched {
		return nil
	}
	delete(w.paths, directory)
	delete(w.watches, wd)
	// EINVAL means the kernel already dropped the watch (the
	// directory was deleted).
	if _, err := unix.InotifyRmWatch(w.fd, uint32(wd)); err != nil && !errors.Is(err, unix.EINVAL) {
		return &WatchError{Path: directory, Op: "inotify_rm_watch", Err: err}
	}
	return nil
}

// Watched returns the number of directories currently watched.
func (w *Inotify) Watched() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.paths)
}

func (w *Inotify) Events() <-chan []Event { return w.events }

func (w *Inotify) Errors() <-chan error { return w.errors }

func (w *Inotify) AtomicRename() bool { return true }

// Close stops the read loop and waits for it to release the
// descriptor. Safe to call more than once.
func (w *Inotify) Close() error {
	w.closeOnce.Do(func() { close(w.stop) })
	<-w.done
	return nil
}

// pendingMove is an IN_MOVED_FROM waiting for its IN_MOVED_TO.
type pendingMove struct {
	cookie    uint32
	path      string
	directory bool
}

func (w *Inotify) readLoop() {
	defer close(w.done)
	defer close(w.events)
	defer unix.Close(w.fd)

	buffer := make([]byte, 64*1024)
	var pending *pendingMove
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, pollTimeoutMilliseconds)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			reportError(w.errors, &WatchError{Op: "poll", Err: err})
			return
		}
		if count == 0 {
			// A move whose partner did not arrive within one poll
			// interval left the tree.
			if pending != nil {
				if !w.send([]Event{{Op: Remove, Path: pending.path, Directory: pending.directory}}) {
					return
				}
				pending = nil
			}
			continue
		}

		bytesRead, err := unix.Read(w.fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			reportError(w.errors, &WatchError{Op: "read", Err: err})
			return
		}

		var batch []Event
		batch, pending = w.decode(buffer[:bytesRead], pending)
		if len(batch) > 0 && !w.send(batch) {
			return
		}
	}
}

func (w *Inotify) send(batch []Event) bool {
	select {
	case w.events <- batch:
		return true
	case <-w.stop:
		return false
	}
}

// decode converts a buffer of raw events. Layout from inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded
//	};
func (w *Inotify) decode(buffer []byte, pending *pendingMove) ([]Event, *pendingMove) {
	var batch []Event
	flush := func() {
		if pending != nil {
			batch = append(batch, Event{Op: Remove, Path: pending.path, Directory: pending.directory})
			pending = nil
		}
	}

	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		wd := int32(binary.NativeEndian.Uint32(buffer[offset : offset+4]))
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		cookie := binary.NativeEndian.Uint32(buffer[offset+8 : offset+12])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}
		name := nullTerminatedString(buffer[offset+unix.SizeofInotifyEvent : offset+eventSize])
		offset += eventSize

		if mask&unix.IN_Q_OVERFLOW != 0 {
			reportError(w.errors, ErrOverflow)
			continue
		}
		if mask&unix.IN_IGNORED != 0 {
			w.forget(wd)
			continue
		}
		if name == "" {
			continue
		}

		w.mutex.Lock()
		directory, known := w.watches[wd]
		w.mutex.Unlock()
		if !known {
			continue
		}
		path := filepath.Join(directory, name)
		isDirectory := mask&unix.IN_ISDIR != 0

		switch {
		case mask&unix.IN_MOVED_FROM != 0:
			flush()
			pending = &pendingMove{cookie: cookie, path: path, directory: isDirectory}
		case mask&unix.IN_MOVED_TO != 0:
			if pending != nil && pending.cookie == cookie {
				batch = append(batch, Event{Op: Rename, OldPath: pending.path, Path: path, Directory: isDirectory})
				if isDirectory {
					w.rename(pending.path, path)
				}
				pending = nil
				continue
			}
			flush()
			batch = append(batch, Event{Op: Create, Path: path, Directory: isDirectory})
		case mask&unix.IN_CREATE != 0:
			flush()
			batch = append(batch, Event{Op: Create, Path: path, Directory: isDirectory})
		case mask&unix.IN_DELETE != 0:
			flush()
			batch = append(batch, Event{Op: Remove, Path: path, Directory: isDirectory})
		case mask&(unix.IN_CLOSE_WRITE|unix.IN_ATTRIB) != 0:
			flush()
			if last := len(batch) - 1; last >= 0 && batch[last].Op == Modify && batch[last].Path == path {
				continue
			}
			batch = append(batch, Event{Op: Modify, Path: path, Directory: isDirectory})
		}
	}
	return batch, pending
}

// rename rewrites the recorded paths of a moved directory and every
// watched directory below it. The kernel keeps the descriptors.
func (w *Inotify) rename(oldPath, newPath string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	prefix := oldPath + string(filepath.Separator)
	for wd, directory := range w.watches {
		var renamed string
		switch {
		case directory == oldPath:
			renamed = newPath
		case strings.HasPrefix(directory, prefix):
			renamed = newPath + directory[len(oldPath):]
		default:
			continue
		}
		delete(w.paths, directory)
		w.watches[wd] = renamed
		w.paths[renamed] = wd
	}
}

func (w *Inotify) forget(wd int32) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if directory, exists := w.watches[wd]; exists {
		delete(w.watches, wd)
		if w.paths[directory] == wd {
			delete(w.paths, directory)
		}
	}
}

func nullTerminatedString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

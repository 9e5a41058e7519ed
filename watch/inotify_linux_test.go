// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package watch

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/testutil"
	"golang.org/x/sys/unix"
)

// rawEvent encodes one struct inotify_event with a name padded to 16
// bytes, the way the kernel pads.
func rawEvent(wd int32, mask, cookie uint32, name string) []byte {
	nameLength := 0
	if name != "" {
		nameLength = (len(name) + 1 + 15) / 16 * 16
	}
	buffer := make([]byte, unix.SizeofInotifyEvent+nameLength)
	binary.NativeEndian.PutUint32(buffer[0:4], uint32(wd))
	binary.NativeEndian.PutUint32(buffer[4:8], mask)
	binary.NativeEndian.PutUint32(buffer[8:12], cookie)
	binary.NativeEndian.PutUint32(buffer[12:16], uint32(nameLength))
	copy(buffer[unix.SizeofInotifyEvent:], name)
	return buffer
}

func newDecoder() *Inotify {
	return &Inotify{
		watches: map[int32]string{1: "/repo", 2: "/repo/src", 3: "/repo/src/deep"},
		paths:   map[string]int32{"/repo": 1, "/repo/src": 2, "/repo/src/deep": 3},
		errors:  make(chan error, errorCapacity),
	}
}

func concat(parts ...[]byte) []byte {
	var buffer []byte
	for _, part := range parts {
		buffer = append(buffer, part...)
	}
	return buffer
}

func TestDecodePairsMovesByCookie(t *testing.T) {
	t.Parallel()
	backend := newDecoder()
	buffer := concat(
		rawEvent(1, unix.IN_CREATE, 0, "a.go"),
		rawEvent(1, unix.IN_MOVED_FROM, 77, "a.go"),
		rawEvent(2, unix.IN_MOVED_TO, 77, "b.go"),
		rawEvent(2, unix.IN_CLOSE_WRITE, 0, "b.go"),
		rawEvent(2, unix.IN_ATTRIB, 0, "b.go"),
	)
	batch, pending := backend.decode(buffer, nil)
	if pending != nil {
		t.Fatalf("unexpected pending move %+v", pending)
	}
	want := []Event{
		{Op: Create, Path: "/repo/a.go"},
		{Op: Rename, OldPath: "/repo/a.go", Path: "/repo/src/b.go"},
		{Op: Modify, Path: "/repo/src/b.go"},
	}
	if len(batch) != len(want) {
		t.Fatalf("batch = %v, want %v", batch, want)
	}
	for i := range want {
		if batch[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, batch[i], want[i])
		}
	}
}

func TestDecodeUnpairedMoves(t *testing.T) {
	t.Parallel()
	backend := newDecoder()

	// A move out of the tree followed by an unrelated move in.
	batch, pending := backend.decode(concat(
		rawEvent(1, unix.IN_MOVED_FROM, 5, "gone.txt"),
		rawEvent(1, unix.IN_MOVED_TO, 6, "arrived.txt"),
	), nil)
	if pending != nil {
		t.Fatalf("unexpected pending move %+v", pending)
	}
	if len(batch) != 2 || batch[0] != (Event{Op: Remove, Path: "/repo/gone.txt"}) || batch[1] != (Event{Op: Create, Path: "/repo/arrived.txt"}) {
		t.Errorf("batch = %v", batch)
	}

	// A MOVED_FROM at the end of a buffer is carried to the next read.
	batch, pending = backend.decode(rawEvent(2, unix.IN_MOVED_FROM, 9, "x"), nil)
	if len(batch) != 0 || pending == nil || pending.cookie != 9 {
		t.Fatalf("batch = %v pending = %+v", batch, pending)
	}
	batch, pending = backend.decode(rawEvent(1, unix.IN_MOVED_TO, 9, "y"), pending)
	if pending != nil || len(batch) != 1 || batch[0] != (Event{Op: Rename, OldPath: "/repo/src/x", Path: "/repo/y"}) {
		t.Errorf("batch = %v pending = %+v", batch, pending)
	}
}

func TestDecodeDirectoryRenameRewritesWatches(t *testing.T) {
	t.Parallel()
	backend := newDecoder()
	batch, _ := backend.decode(concat(
		rawEvent(1, unix.IN_MOVED_FROM|unix.IN_ISDIR, 3, "src"),
		rawEvent(1, unix.IN_MOVED_TO|unix.IN_ISDIR, 3, "lib"),
		rawEvent(3, unix.IN_CREATE, 0, "new.go"),
	), nil)
	if len(batch) != 2 {
		t.Fatalf("batch = %v", batch)
	}
	if batch[1].Path != "/repo/lib/deep/new.go" {
		t.Errorf("event under renamed directory has path %s", batch[1].Path)
	}
	if _, stale := backend.paths["/repo/src"]; stale {
		t.Error("old directory path still registered")
	}
	if backend.paths["/repo/lib"] != 2 || backend.paths["/repo/lib/deep"] != 3 {
		t.Errorf("paths = %v", backend.paths)
	}
}

func TestDecodeOverflowAndIgnored(t *testing.T) {
	t.Parallel()
	backend := newDecoder()
	batch, _ := backend.decode(concat(
		rawEvent(-1, unix.IN_Q_OVERFLOW, 0, ""),
		rawEvent(3, unix.IN_IGNORED, 0, ""),
		rawEvent(3, unix.IN_CREATE, 0, "orphan"),
	), nil)
	if len(batch) != 0 {
		t.Errorf("batch = %v, want events for forgotten watch dropped", batch)
	}
	if err := testutil.RequireReceive(t, backend.Errors(), time.Second, "overflow error"); err != ErrOverflow {
		t.Errorf("error = %v, want ErrOverflow", err)
	}
}

func TestInotifyLive(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	backend, err := NewInotify(nil)
	if err != nil {
		t.Fatalf("NewInotify: %v", err)
	}
	defer backend.Close()
	if err := backend.Add(root); err != nil {
		t.Fatalf("Add: %v", err)
	}

	first := filepath.Join(root, "first.txt")
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, backend, Event{Op: Create, Path: first})

	second := filepath.Join(root, "second.txt")
	if err := os.Rename(first, second); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, backend, Event{Op: Rename, OldPath: first, Path: second})

	outside := filepath.Join(t.TempDir(), "outside.txt")
	if err := os.Rename(second, outside); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, backend, Event{Op: Remove, Path: second})

	if err := backend.Remove(root); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if backend.Watched() != 0 {
		t.Errorf("Watched = %d after Remove", backend.Watched())
	}
	backend.Close()
	for range backend.Events() {
	}
}

// awaitEvent consumes batches until want appears.
func awaitEvent(t *testing.T, backend Backend, want Event) {
	t.Helper()
	for {
		batch := testutil.RequireReceive(t, backend.Events(), 5*time.Second, "waiting for %v", want)
		for _, event := range batch {
			if event.Op == want.Op && event.Path == want.Path && event.OldPath == want.OldPath {
				return
			}
		}
	}
}

// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
)

func TestFSNotifyReportsRenameAsRemoveCreate(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	backend, err := NewFSNotify(nil)
	if err != nil {
		t.Fatalf("NewFSNotify: %v", err)
	}
	defer backend.Close()
	if backend.AtomicRename() {
		t.Fatal("fsnotify backend claims atomic renames")
	}
	if err := backend.Add(root); err != nil {
		t.Fatalf("Add: %v", err)
	}

	original := filepath.Join(root, "a.txt")
	if err := os.WriteFile(original, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, backend, Event{Op: Create, Path: original})

	renamed := filepath.Join(root, "b.txt")
	if err := os.Rename(original, renamed); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, backend, Event{Op: Create, Path: renamed})

	if err := backend.Remove(root); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := backend.Remove(filepath.Join(root, "never-added")); err != nil {
		t.Errorf("Remove of unknown directory: %v", err)
	}
}

func TestAppendConverted(t *testing.T) {
	t.Parallel()
	batch := appendConverted(nil, fsnotify.Event{Name: "/r/a", Op: fsnotify.Write})
	batch = appendConverted(batch, fsnotify.Event{Name: "/r/a", Op: fsnotify.Write})
	batch = appendConverted(batch, fsnotify.Event{Name: "/r/a", Op: fsnotify.Chmod})
	batch = appendConverted(batch, fsnotify.Event{Name: "/r/a", Op: fsnotify.Rename})
	batch = appendConverted(batch, fsnotify.Event{Name: "/r/b/", Op: fsnotify.Create})
	want := []Event{{Op: Modify, Path: "/r/a"}, {Op: Remove, Path: "/r/a"}, {Op: Create, Path: "/r/b"}}
	if len(batch) != len(want) {
		t.Fatalf("batch = %v, want %v", batch, want)
	}
	for i := range want {
		if batch[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, batch[i], want[i])
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := Open("kqueue", nil); err == nil {
		t.Fatal("Open accepted unknown backend")
	}
}

// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package fsmodel

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/ThoseWhoHackTrees/agent-vis/layout"
	"github.com/ThoseWhoHackTrees/agent-vis/watch"
)

// writeTree creates files below root. Keys ending in "/" are
// directories; other keys are files with the value as content.
func writeTree(t *testing.T, root string, entries map[string]string) {
	t.Helper()
	for name, content := range entries {
		path := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(path, 0o755); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func build(t *testing.T, root string) *Model {
	t.Helper()
	model, err := Build(root, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return model
}

func mustLookup(t *testing.T, snapshot *Snapshot, path string) *Node {
	t.Helper()
	node, ok := snapshot.Lookup(path)
	if !ok {
		t.Fatalf("Lookup(%s) missing", path)
	}
	return node
}

func TestBuildAppliesIgnoreRules(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":            "*.log\ntarget/\n",
		"main.go":               "package main",
		"debug.log":             "noise",
		"target/out.bin":        "bin",
		"src/lib.rs":            "fn main() {}",
		"src/nested/deep.py":    "print()",
		"src/nested/.gitignore": "deep.py\n",
		"docs/":                 "",
		".git/HEAD":             "ref",
	})

	model := build(t, root)
	snapshot := model.Snapshot()

	for _, name := range []string{"debug.log", "target", "target/out.bin", ".git", "src/nested/deep.py"} {
		if _, ok := snapshot.Lookup(filepath.Join(root, name)); ok {
			t.Errorf("%s should be ignored", name)
		}
	}
	rootNode := snapshot.Root()
	if rootNode.Path != root || rootNode.Depth != 0 || rootNode.Parent != 0 {
		t.Errorf("root = %+v", rootNode)
	}

	mainNode := mustLookup(t, snapshot, filepath.Join(root, "main.go"))
	if mainNode.Kind != KindFile || mainNode.Category != CategoryGo || mainNode.Size != int64(len("package main")) {
		t.Errorf("main.go = %+v", mainNode)
	}
	src := mustLookup(t, snapshot, filepath.Join(root, "src"))
	if src.Kind != KindDirectory || src.Category != CategoryDirectory {
		t.Errorf("src = %+v", src)
	}
	lib := mustLookup(t, snapshot, filepath.Join(root, "src", "lib.rs"))
	if lib.Parent != src.ID || lib.Depth != 2 || lib.Category != CategoryRust {
		t.Errorf("lib.rs = %+v", lib)
	}
	if lib.Position != layout.Place(src.Position, 2, lib.Slot, false) {
		t.Errorf("lib.rs position %+v not derived from parent", lib.Position)
	}

	// root, .gitignore, docs, main.go, src, src/lib.rs, src/nested,
	// src/nested/.gitignore
	if snapshot.Len() != 8 {
		var paths []string
		snapshot.Walk(func(node *Node) bool { paths = append(paths, node.Path); return true })
		t.Errorf("Len = %d, nodes %v", snapshot.Len(), paths)
	}
	children := snapshot.Children(rootNode.ID)
	for i := 1; i < len(children); i++ {
		if children[i].Slot <= children[i-1].Slot {
			t.Errorf("children not in slot order: %d after %d", children[i].Slot, children[i-1].Slot)
		}
	}
	directories := snapshot.Directories()
	if len(directories) != 4 || directories[0] != root {
		t.Errorf("Directories = %v", directories)
	}
}

func TestBuildRootNotFound(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if _, err := Build(filepath.Join(root, "missing"), Options{Logger: quietLogger()}); !errors.Is(err, ErrRootNotFound) {
		t.Errorf("missing root: error = %v, want ErrRootNotFound", err)
	}
	file := filepath.Join(root, "file")
	writeTree(t, root, map[string]string{"file": "x"})
	if _, err := Build(file, Options{Logger: quietLogger()}); !errors.Is(err, ErrRootNotFound) {
		t.Errorf("file root: error = %v, want ErrRootNotFound", err)
	}
}

func TestCreateTakesNextSlotAndSiblingsStayPut(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": "a", "b.go": "b", "c.go": "c", "sub/": ""})
	model := build(t, root)
	before := model.Snapshot()

	positions := make(map[NodeID]layout.Vec3)
	for _, child := range before.Children(before.Root().ID) {
		positions[child.ID] = child.Position
	}
	maxSlot := before.Children(before.Root().ID)[3].Slot

	writeTree(t, root, map[string]string{"d.go": "d"})
	result := model.Apply([]watch.Event{{Op: watch.Create, Path: filepath.Join(root, "d.go")}})
	if len(result.Created) != 1 {
		t.Fatalf("Created = %v", result.Created)
	}
	after := model.Snapshot()
	created := mustLookup(t, after, filepath.Join(root, "d.go"))
	if created.Slot != maxSlot+1 {
		t.Errorf("new child slot = %d, want %d", created.Slot, maxSlot+1)
	}
	for id, position := range positions {
		node, _ := after.Node(id)
		if node.Position != position {
			t.Errorf("sibling %s moved from %+v to %+v", node.Name, position, node.Position)
		}
	}

	// Removing a sibling retires its slot and leaves the rest in place.
	b := mustLookup(t, after, filepath.Join(root, "b.go"))
	if err := os.Remove(b.Path); err != nil {
		t.Fatal(err)
	}
	model.Apply([]watch.Event{{Op: watch.Remove, Path: b.Path}})
	writeTree(t, root, map[string]string{"e.go": "e"})
	model.Apply([]watch.Event{{Op: watch.Create, Path: filepath.Join(root, "e.go")}})
	final := model.Snapshot()
	if _, ok := final.Node(b.ID); ok {
		t.Error("removed node still present")
	}
	e := mustLookup(t, final, filepath.Join(root, "e.go"))
	if e.Slot != created.Slot+1 {
		t.Errorf("slot after removal = %d, want %d (retired slots are not reused)", e.Slot, created.Slot+1)
	}
	for id, position := range positions {
		if id == b.ID {
			continue
		}
		node, _ := final.Node(id)
		if node.Position != position {
			t.Errorf("sibling %s moved after removal", node.Name)
		}
	}
	if final.Root().Scale != layout.DirectoryScale(len(final.Root().Children)) {
		t.Errorf("root scale not updated")
	}

	// The earlier snapshot is untouched.
	if _, ok := before.Lookup(filepath.Join(root, "d.go")); ok {
		t.Error("published snapshot was mutated")
	}
	if len(before.Root().Children) != 4 {
		t.Errorf("published root children mutated: %v", before.Root().Children)
	}
}

func TestCreateBuildsMissingAncestors(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	model := build(t, root)

	writeTree(t, root, map[string]string{"a/b/c/file.md": "x", "a/b/sibling.txt": "y"})
	result := model.Apply([]watch.Event{{Op: watch.Create, Path: filepath.Join(root, "a", "b", "c", "file.md")}})

	snapshot := model.Snapshot()
	for _, name := range []string{"a", "a/b", "a/b/c", "a/b/c/file.md", "a/b/sibling.txt"} {
		mustLookup(t, snapshot, filepath.Join(root, filepath.FromSlash(name)))
	}
	if len(result.Created) != 5 {
		t.Errorf("Created %d nodes, want 5", len(result.Created))
	}
	if len(result.AddedDirectories) != 3 {
		t.Errorf("AddedDirectories = %v", result.AddedDirectories)
	}
}

func TestModifyUpdatesInPlace(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"data.json": "{}"})
	model := build(t, root)
	path := filepath.Join(root, "data.json")
	original := mustLookup(t, model.Snapshot(), path)

	writeTree(t, root, map[string]string{"data.json": strings.Repeat("x", 100000)})
	result := model.Apply([]watch.Event{{Op: watch.Modify, Path: path}})
	if len(result.Updated) != 1 {
		t.Fatalf("Updated = %v", result.Updated)
	}
	updated := mustLookup(t, model.Snapshot(), path)
	if updated.ID != original.ID || updated.Position != original.Position {
		t.Errorf("modify changed identity or position")
	}
	if updated.Size != 100000 || updated.Scale <= original.Scale {
		t.Errorf("size %d scale %v (was %v)", updated.Size, updated.Scale, original.Scale)
	}

	// Modify of an unknown path creates it.
	writeTree(t, root, map[string]string{"late.txt": "z"})
	model.Apply([]watch.Event{{Op: watch.Modify, Path: filepath.Join(root, "late.txt")}})
	mustLookup(t, model.Snapshot(), filepath.Join(root, "late.txt"))
}

func TestAtomicRenameKeepsIdentity(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"old.go":          "x",
		"other.go":        "y",
		"pkg/inner.go":    "z",
		"pkg/deep/leaf.c": "w",
		"dest/":           "",
	})
	model := build(t, root)
	snapshot := model.Snapshot()
	file := mustLookup(t, snapshot, filepath.Join(root, "old.go"))
	pkg := mustLookup(t, snapshot, filepath.Join(root, "pkg"))
	leaf := mustLookup(t, snapshot, filepath.Join(root, "pkg", "deep", "leaf.c"))
	dest := mustLookup(t, snapshot, filepath.Join(root, "dest"))

	// Same parent: identity and slot kept.
	newFile := filepath.Join(root, "new.rs")
	if err := os.Rename(file.Path, newFile); err != nil {
		t.Fatal(err)
	}
	model.Apply([]watch.Event{{Op: watch.Rename, OldPath: file.Path, Path: newFile}})
	renamed := mustLookup(t, model.Snapshot(), newFile)
	if renamed.ID != file.ID || renamed.Slot != file.Slot || renamed.Position != file.Position {
		t.Errorf("same-parent rename: got %+v, was %+v", renamed, file)
	}
	if renamed.Category != CategoryRust {
		t.Errorf("category = %s, want recomputed from new name", renamed.Category)
	}
	if _, ok := model.Snapshot().Lookup(file.Path); ok {
		t.Error("old path still live")
	}

	// New parent: identity kept, next slot of the new parent, subtree
	// rewritten.
	movedPkg := filepath.Join(root, "dest", "pkg")
	if err := os.Rename(pkg.Path, movedPkg); err != nil {
		t.Fatal(err)
	}
	result := model.Apply([]watch.Event{{Op: watch.Rename, OldPath: pkg.Path, Path: movedPkg, Directory: true}})
	after := model.Snapshot()
	moved := mustLookup(t, after, movedPkg)
	if moved.ID != pkg.ID || moved.Parent != dest.ID || moved.Slot != 0 || moved.Depth != 2 {
		t.Errorf("moved pkg = %+v", moved)
	}
	movedLeaf := mustLookup(t, after, filepath.Join(movedPkg, "deep", "leaf.c"))
	if movedLeaf.ID != leaf.ID || movedLeaf.Depth != 4 || movedLeaf.Slot != leaf.Slot {
		t.Errorf("moved leaf = %+v", movedLeaf)
	}
	deep := mustLookup(t, after, filepath.Join(movedPkg, "deep"))
	if movedLeaf.Position != layout.Place(deep.Position, 4, leaf.Slot, false) {
		t.Error("subtree not re-placed under new parent")
	}
	if len(result.Moved) != 1 || len(result.Created) != 0 || len(result.Removed) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRenameOverExistingKeepsDestination(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"file.md": "old", ".file.md.tmp": "new content"})
	model := build(t, root)
	destination := mustLookup(t, model.Snapshot(), filepath.Join(root, "file.md"))
	temporary := filepath.Join(root, ".file.md.tmp")

	if err := os.Rename(temporary, destination.Path); err != nil {
		t.Fatal(err)
	}
	model.Apply([]watch.Event{{Op: watch.Rename, OldPath: temporary, Path: destination.Path}})
	snapshot := model.Snapshot()
	saved := mustLookup(t, snapshot, destination.Path)
	if saved.ID != destination.ID || saved.Size != int64(len("new content")) {
		t.Errorf("saved = %+v, want destination identity with new size", saved)
	}
	if _, ok := snapshot.Lookup(temporary); ok {
		t.Error("temporary file still present")
	}
}

// mkdir d && mv f d/: by the time the Create for d is applied, the walk
// of d already finds f, and the paired Rename must move the original
// node onto that path instead of keeping the walk's copy.
func TestRenameIntoFreshDirectoryKeepsIdentity(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"f.go":          "x",
		"pkg/inner.go":  "y",
		"pkg/deep/a.c":  "z",
		"later/stay.md": "w",
	})
	model := build(t, root)
	snapshot := model.Snapshot()
	file := mustLookup(t, snapshot, filepath.Join(root, "f.go"))
	pkg := mustLookup(t, snapshot, filepath.Join(root, "pkg"))
	leaf := mustLookup(t, snapshot, filepath.Join(root, "pkg", "deep", "a.c"))

	// Create and Rename in the same batch.
	fresh := filepath.Join(root, "d")
	if err := os.Mkdir(fresh, 0o755); err != nil {
		t.Fatal(err)
	}
	movedFile := filepath.Join(fresh, "f.go")
	if err := os.Rename(file.Path, movedFile); err != nil {
		t.Fatal(err)
	}
	result := model.Apply([]watch.Event{
		{Op: watch.Create, Path: fresh, Directory: true},
		{Op: watch.Rename, OldPath: file.Path, Path: movedFile},
	})
	after := model.Snapshot()
	moved := mustLookup(t, after, movedFile)
	if moved.ID != file.ID {
		t.Errorf("file moved into a fresh directory: id %d, want %d", moved.ID, file.ID)
	}
	directory := mustLookup(t, after, fresh)
	if moved.Parent != directory.ID || !slices.Equal(directory.Children, []NodeID{file.ID}) {
		t.Errorf("fresh directory children = %v, want [%d]", directory.Children, file.ID)
	}
	if _, ok := after.Lookup(file.Path); ok {
		t.Error("old path still live")
	}
	if !slices.Equal(result.AddedDirectories, []string{fresh}) || len(result.RemovedDirectories) != 0 {
		t.Errorf("directories added %v removed %v", result.AddedDirectories, result.RemovedDirectories)
	}

	// Create in one batch, Rename in the next, for a whole directory.
	nested := filepath.Join(root, "later", "pkg")
	if err := os.Rename(pkg.Path, nested); err != nil {
		t.Fatal(err)
	}
	model.Apply([]watch.Event{{Op: watch.Create, Path: nested, Directory: true}})
	result = model.Apply([]watch.Event{{Op: watch.Rename, OldPath: pkg.Path, Path: nested, Directory: true}})
	after = model.Snapshot()
	if got := mustLookup(t, after, nested); got.ID != pkg.ID {
		t.Errorf("directory moved after its walk: id %d, want %d", got.ID, pkg.ID)
	}
	if got := mustLookup(t, after, filepath.Join(nested, "deep", "a.c")); got.ID != leaf.ID {
		t.Errorf("descendant id %d, want %d", got.ID, leaf.ID)
	}
	if len(result.RemovedDirectories) != 0 {
		t.Errorf("moved directories reported removed: %v", result.RemovedDirectories)
	}
	if after.Len() != snapshot.Len()+1 {
		t.Errorf("node count %d, want %d", after.Len(), snapshot.Len()+1)
	}
}

func TestNonAtomicRenameCreatesNewIdentity(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x"})
	model := build(t, root)
	original := mustLookup(t, model.Snapshot(), filepath.Join(root, "a.txt"))

	renamed := filepath.Join(root, "b.txt")
	if err := os.Rename(original.Path, renamed); err != nil {
		t.Fatal(err)
	}
	model.Apply([]watch.Event{{Op: watch.Remove, Path: original.Path}, {Op: watch.Create, Path: renamed}})
	node := mustLookup(t, model.Snapshot(), renamed)
	if node.ID == original.ID {
		t.Error("remove+create preserved identity")
	}
}

func TestRenameIntoIgnoredRemoves(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{".gitignore": "*.bak\n", "notes.txt": "x"})
	model := build(t, root)
	source := filepath.Join(root, "notes.txt")
	target := filepath.Join(root, "notes.bak")
	if err := os.Rename(source, target); err != nil {
		t.Fatal(err)
	}
	model.Apply([]watch.Event{{Op: watch.Rename, OldPath: source, Path: target}})
	snapshot := model.Snapshot()
	if _, ok := snapshot.Lookup(source); ok {
		t.Error("source still present")
	}
	if _, ok := snapshot.Lookup(target); ok {
		t.Error("ignored target present")
	}
}

func TestIgnoreRuleChangesReconcile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"app.log": "x", "keep.go": "y", "sub/trace.log": "z"})
	model := build(t, root)
	rules := filepath.Join(root, ".gitignore")

	writeTree(t, root, map[string]string{".gitignore": "*.log\n"})
	model.Apply([]watch.Event{{Op: watch.Create, Path: rules}})
	snapshot := model.Snapshot()
	for _, name := range []string{"app.log", "sub/trace.log"} {
		if _, ok := snapshot.Lookup(filepath.Join(root, filepath.FromSlash(name))); ok {
			t.Errorf("%s still present after rule added", name)
		}
	}
	mustLookup(t, snapshot, filepath.Join(root, "keep.go"))
	mustLookup(t, snapshot, rules)

	if err := os.Remove(rules); err != nil {
		t.Fatal(err)
	}
	model.Apply([]watch.Event{{Op: watch.Remove, Path: rules}})
	snapshot = model.Snapshot()
	for _, name := range []string{"app.log", "sub/trace.log"} {
		mustLookup(t, snapshot, filepath.Join(root, filepath.FromSlash(name)))
	}
}

func TestPublishedAndStale(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	model := build(t, root)
	<-model.Published()
	version := model.Snapshot().Version()

	// A no-op batch does not publish.
	model.Apply([]watch.Event{{Op: watch.Remove, Path: filepath.Join(root, "never")}})
	if model.Snapshot().Version() != version {
		t.Error("no-op batch published")
	}
	select {
	case <-model.Published():
		t.Error("no-op batch signalled")
	default:
	}

	model.SetStale(errors.New("backend closed"))
	<-model.Published()
	snapshot := model.Snapshot()
	if !snapshot.Stale() || snapshot.StaleReason() != "backend closed" || snapshot.Version() != version+1 {
		t.Errorf("stale snapshot = v%d stale=%v %q", snapshot.Version(), snapshot.Stale(), snapshot.StaleReason())
	}

	writeTree(t, root, map[string]string{"missed.txt": "x"})
	result := model.Rescan()
	if len(result.Created) != 1 {
		t.Errorf("Rescan created %v", result.Created)
	}
	if model.Snapshot().Stale() {
		t.Error("Rescan left the snapshot stale")
	}
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()
	tests := map[string]Category{
		"main.rs":    CategoryRust,
		"Cargo.toml": CategoryConfig,
		"a.YML":      CategoryConfig,
		"README.md":  CategoryText,
		"app.tsx":    CategoryJavaScript,
		"x.py":       CategoryPython,
		"index.html": CategoryWeb,
		"k.cpp":      CategoryCompiled,
		"m.go":       CategoryGo,
		"Makefile":   CategoryOther,
	}
	for name, want := range tests {
		if got := CategoryOf(name); got != want {
			t.Errorf("CategoryOf(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestKindText(t *testing.T) {
	t.Parallel()
	for _, kind := range []Kind{KindFile, KindDirectory} {
		text, _ := kind.MarshalText()
		var parsed Kind
		if err := parsed.UnmarshalText(text); err != nil || parsed != kind {
			t.Errorf("%s round trip = %s, %v", kind, parsed, err)
		}
	}
	var parsed Kind
	if err := parsed.UnmarshalText([]byte("socket")); err == nil {
		t.Error("UnmarshalText accepted socket")
	}
}

func TestWalkSkipsSubtree(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"skip/a": "", "skip/b": "", "keep": ""})
	model := build(t, root)
	var visited []string
	model.Snapshot().Walk(func(node *Node) bool {
		visited = append(visited, node.Name)
		return node.Name != "skip"
	})
	if slices.Contains(visited, "a") || !slices.Contains(visited, "keep") {
		t.Errorf("visited = %v", visited)
	}
}

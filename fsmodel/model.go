// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package fsmodel maintains the live tree of files and directories
// below a root, with a stable layout slot and position for every node.
//
// A Model has exactly one writer: the goroutine that calls [Build],
// [Model.Apply], [Model.Rescan], and [Model.SetStale]. After every
// change the writer publishes an immutable [Snapshot] with an atomic
// pointer swap, so any number of readers can call [Model.Snapshot]
// without locks and never observe a half-applied batch.
//
// Nodes are copy-on-write: the writer clones a node before changing it
// if the node is shared with a published snapshot.
package fsmodel

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/ThoseWhoHackTrees/agent-vis/layout"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/ignore"
	"github.com/ThoseWhoHackTrees/agent-vis/watch"
)

// ErrRootNotFound is returned by Build when the root does not exist or
// is not a directory.
var ErrRootNotFound = errors.New("fsmodel: root not found")

// Options configures Build.
type Options struct {
	Logger *slog.Logger

	// Matcher supplies ignore rules. Nil loads them from the root.
	Matcher *ignore.Matcher
}

// Model is the mutable tree. Only the writer goroutine may call its
// mutating methods; Snapshot and Published are safe from anywhere.
type Model struct {
	rootPath string
	logger   *slog.Logger
	matcher  *ignore.Matcher

	nextID NodeID
	rootID NodeID
	nodes  map[NodeID]*Node
	paths  map[string]NodeID

	// owned marks nodes created or cloned since the last publish;
	// they are not visible to readers and may be changed in place.
	owned map[NodeID]bool

	// resync collects directories to re-walk at the end of a batch:
	// ignore rules changed there, or a directory moved in.
	resync map[string]bool

	// fresh holds nodes created during the current batch, freshBefore
	// those of the previous one. A rename whose destination is such a
	// node raced a directory walk that saw the moved entry first.
	fresh       map[NodeID]bool
	freshBefore map[NodeID]bool

	version     uint64
	stale       bool
	staleReason string

	current   atomic.Pointer[Snapshot]
	published chan struct{}
}

// ApplyResult summarizes one mutation.
type ApplyResult struct {
	Created []NodeID
	Updated []NodeID
	Removed []NodeID
	Moved   []NodeID

	// AddedDirectories must be registered with the watch backend;
	// RemovedDirectories may be unregistered.
	AddedDirectories   []string
	RemovedDirectories []string

	// Skipped counts events for ignored paths or paths outside the
	// root.
	Skipped int

	// Errors holds *watch.WatchError values for entries that could
	// not be read. They never abort the batch.
	Errors []error
}

// Changed reports whether the tree differs from before the mutation.
func (r *ApplyResult) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Removed)+len(r.Moved) > 0
}

// Build walks root and returns a Model with its first snapshot
// published. Unreadable entries are skipped and logged.
func Build(root string, options Options) (*Model, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootNotFound, absolute, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, absolute)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	matcher := options.Matcher
	if matcher == nil {
		matcher, err = ignore.New(absolute)
		if err != nil {
			return nil, err
		}
	}

	model := &Model{
		rootPath:  absolute,
		logger:    logger,
		matcher:   matcher,
		nodes:     make(map[NodeID]*Node),
		paths:     make(map[string]NodeID),
		owned:     make(map[NodeID]bool),
		resync:       make(map[string]bool),
		fresh:        make(map[NodeID]bool),
		freshBefore:  make(map[NodeID]bool),
		published:    make(chan struct{}, 1),
	}
	rootNode := &Node{
		ID:       model.allocateID(),
		Path:     absolute,
		Name:     filepath.Base(absolute),
		Kind:     KindDirectory,
		Category: CategoryDirectory,
		Scale:    layout.DirectoryScale(0),
		ModTime:  info.ModTime(),
	}
	model.rootID = rootNode.ID
	model.insert(rootNode)

	result := &ApplyResult{}
	model.syncDirectory(model.rootID, result)
	clear(model.fresh)
	model.publish()

	for _, err := range result.Errors {
		logger.Warn("skipping unreadable entry", "error", err)
	}
	logger.Info("file-system model built",
		"root", absolute,
		"nodes", len(model.nodes),
		"skipped", len(result.Errors),
	)
	return model, nil
}

// RootPath is the absolute root.
func (m *Model) RootPath() string { return m.rootPath }

// ExcludeDirectory holds the repository-wide exclude file. It is
// ignored, so it is never a node and the watch loop registers it on
// its own.
func (m *Model) ExcludeDirectory() string { return filepath.Join(m.rootPath, ".git", "info") }

// Snapshot returns the most recently published snapshot. Never blocks.
func (m *Model) Snapshot() *Snapshot { return m.current.Load() }

// Published is signalled after every publish. It has capacity 1, so a
// slow reader sees one signal for any number of publishes.
func (m *Model) Published() <-chan struct{} { return m.published }

// Apply is the single mutation entry point. Events are applied in
// order; ignore-rule changes are reconciled after the whole batch. A
// snapshot is published when anything changed.
func (m *Model) Apply(events []watch.Event) *ApplyResult {
	result := &ApplyResult{}
	wasStale := m.stale
	m.fresh, m.freshBefore = m.freshBefore, m.fresh
	clear(m.fresh)
	for _, event := range events {
		path := filepath.Clean(event.Path)
		switch event.Op {
		case watch.Create, watch.Modify:
			m.refresh(path, result)
		case watch.Remove:
			m.removePath(path, result)
		case watch.Rename:
			oldPath := filepath.Clean(event.OldPath)
			m.rename(oldPath, path, result)
			m.noteRuleFile(oldPath)
		}
		m.noteRuleFile(path)
	}
	m.reconcile(result)
	if result.Changed() || m.stale != wasStale {
		m.publish()
	}
	for _, err := range result.Errors {
		m.logger.Warn("skipping unreadable entry", "error", err)
	}
	return result
}

// Rescan re-walks the entire tree against the disk, clears any stale
// mark, and publishes. Used after the backend lost events.
func (m *Model) Rescan() *ApplyResult {
	result := &ApplyResult{}
	m.syncDirectory(m.rootID, result)
	clear(m.fresh)
	clear(m.freshBefore)
	m.stale = false
	m.staleReason = ""
	m.publish()
	m.logger.Info("file-system model rescanned",
		"created", len(result.Created),
		"removed", len(result.Removed),
		"updated", len(result.Updated),
	)
	return result
}

// SetStale publishes a snapshot marked stale with err as the reason.
// The mark persists until Rescan.
func (m *Model) SetStale(err error) {
	m.stale = true
	m.staleReason = err.Error()
	m.publish()
}

func (m *Model) publish() {
	m.version++
	snapshot := &Snapshot{
		version:     m.version,
		rootPath:    m.rootPath,
		root:        m.rootID,
		nodes:       maps.Clone(m.nodes),
		paths:       maps.Clone(m.paths),
		stale:       m.stale,
		staleReason: m.staleReason,
	}
	clear(m.owned)
	m.current.Store(snapshot)
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *Model) allocateID() NodeID {
	m.nextID++
	return m.nextID
}

func (m *Model) insert(node *Node) {
	m.nodes[node.ID] = node
	m.paths[node.Path] = node.ID
	m.owned[node.ID] = true
}

// mutable returns a node the writer may change in place.
func (m *Model) mutable(id NodeID) *Node {
	node := m.nodes[id]
	if m.owned[id] {
		return node
	}
	node = node.clone()
	m.nodes[id] = node
	m.owned[id] = true
	return node
}

// inside reports whether path is strictly below the root.
func (m *Model) inside(path string) bool {
	return strings.HasPrefix(path, m.rootPath+string(filepath.Separator))
}

func (m *Model) noteRuleFile(path string) {
	if m.matcher.IsRuleFile(path) {
		m.resync[filepath.Dir(path)] = true
	}
}

func (m *Model) recordError(result *ApplyResult, path, op string, err error) {
	result.Errors = append(result.Errors, &watch.WatchError{Path: path, Op: op, Err: err})
}

// refresh makes the tree agree with the disk for path: create, update,
// or remove.
func (m *Model) refresh(path string, result *ApplyResult) {
	if !m.inside(path) {
		result.Skipped++
		return
	}
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.removePath(path, result)
			return
		}
		m.recordError(result, path, "stat", err)
		return
	}
	if m.matcher.Ignored(path, info.IsDir()) {
		m.removePath(path, result)
		result.Skipped++
		return
	}

	if id, exists := m.paths[path]; exists {
		if m.nodes[id].IsDirectory() == info.IsDir() {
			m.update(id, info, result)
			return
		}
		m.removeSubtree(id, result)
	}

	parentID, ok := m.ensureDirectory(filepath.Dir(path), result)
	if !ok {
		return
	}
	// Creating a missing ancestor walks it, which may already have
	// picked up path.
	if id, exists := m.paths[path]; exists {
		m.update(id, info, result)
		return
	}
	id := m.addNode(parentID, path, info, result)
	if info.IsDir() {
		m.syncDirectory(id, result)
	}
}

// ensureDirectory returns the directory node for path, creating it and
// any missing ancestors inside the root.
func (m *Model) ensureDirectory(path string, result *ApplyResult) (NodeID, bool) {
	if path == m.rootPath {
		return m.rootID, true
	}
	if id, exists := m.paths[path]; exists {
		return id, m.nodes[id].IsDirectory()
	}
	if !m.inside(path) {
		return 0, false
	}
	info, err := os.Lstat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.recordError(result, path, "stat", err)
		}
		return 0, false
	}
	if !info.IsDir() || m.matcher.Ignored(path, true) {
		return 0, false
	}
	parentID, ok := m.ensureDirectory(filepath.Dir(path), result)
	if !ok {
		return 0, false
	}
	if id, exists := m.paths[path]; exists {
		return id, true
	}
	id := m.addNode(parentID, path, info, result)
	m.syncDirectory(id, result)
	return id, true
}

// addNode places a new child at its parent's next slot.
func (m *Model) addNode(parentID NodeID, path string, info fs.FileInfo, result *ApplyResult) NodeID {
	parent := m.mutable(parentID)
	slot := parent.nextSlot
	parent.nextSlot++

	node := &Node{
		ID:      m.allocateID(),
		Path:    path,
		Name:    filepath.Base(path),
		Parent:  parentID,
		Depth:   parent.Depth + 1,
		Slot:    slot,
		ModTime: info.ModTime(),
	}
	if info.IsDir() {
		node.Kind = KindDirectory
		node.Category = CategoryDirectory
		node.Scale = layout.DirectoryScale(0)
		result.AddedDirectories = append(result.AddedDirectories, path)
	} else {
		node.Kind = KindFile
		node.Category = CategoryOf(node.Name)
		node.Size = info.Size()
		node.Scale = layout.FileScale(node.Size)
	}
	node.Position = layout.Place(parent.Position, node.Depth, slot, node.IsDirectory())

	parent.Children = append(parent.Children, node.ID)
	parent.Scale = layout.DirectoryScale(len(parent.Children))
	m.insert(node)
	m.fresh[node.ID] = true
	result.Created = append(result.Created, node.ID)
	return node.ID
}

// update refreshes size and modification time.
func (m *Model) update(id NodeID, info fs.FileInfo, result *ApplyResult) {
	current := m.nodes[id]
	size := current.Size
	if !current.IsDirectory() {
		size = info.Size()
	}
	if size == current.Size && info.ModTime().Equal(current.ModTime) {
		return
	}
	node := m.mutable(id)
	node.Size = size
	node.ModTime = info.ModTime()
	if !node.IsDirectory() {
		node.Scale = layout.FileScale(size)
	}
	result.Updated = append(result.Updated, id)
}

func (m *Model) removePath(path string, result *ApplyResult) {
	if path == m.rootPath {
		m.recordError(result, path, "remove", errors.New("root directory removed"))
		m.stale = true
		m.staleReason = "root directory removed"
		return
	}
	if id, exists := m.paths[path]; exists {
		m.removeSubtree(id, result)
	}
}

// removeSubtree detaches id from its parent and drops it with all
// descendants. The slot stays retired.
func (m *Model) removeSubtree(id NodeID, result *ApplyResult) {
	node := m.nodes[id]
	parent := m.mutable(node.Parent)
	parent.Children = slices.DeleteFunc(parent.Children, func(child NodeID) bool { return child == id })
	parent.Scale = layout.DirectoryScale(len(parent.Children))
	m.drop(id, result)
}

func (m *Model) drop(id NodeID, result *ApplyResult) {
	node := m.nodes[id]
	for _, child := range node.Children {
		m.drop(child, result)
	}
	delete(m.nodes, id)
	delete(m.owned, id)
	if m.paths[node.Path] == id {
		delete(m.paths, node.Path)
	}
	result.Removed = append(result.Removed, id)
	if node.IsDirectory() {
		result.RemovedDirectories = append(result.RemovedDirectories, node.Path)
		m.matcher.Forget(node.Path)
	}
}

// rename moves a node while keeping its identity. Within the same
// parent the slot is kept; a new parent assigns its next slot.
func (m *Model) rename(oldPath, newPath string, result *ApplyResult) {
	id, known := m.paths[oldPath]
	if !known || id == m.rootID || oldPath == newPath {
		m.refresh(newPath, result)
		return
	}
	if !m.inside(newPath) {
		m.removeSubtree(id, result)
		result.Skipped++
		return
	}
	info, err := os.Lstat(newPath)
	if err != nil {
		// Moved again (or deleted) before this event was applied;
		// a later event reports the final location.
		m.removeSubtree(id, result)
		if !errors.Is(err, fs.ErrNotExist) {
			m.recordError(result, newPath, "stat", err)
		}
		return
	}
	if m.matcher.Ignored(newPath, info.IsDir()) {
		m.removeSubtree(id, result)
		result.Skipped++
		return
	}
	if m.nodes[id].IsDirectory() != info.IsDir() {
		m.removeSubtree(id, result)
		m.refresh(newPath, result)
		return
	}

	newParentID, ok := m.ensureDirectory(filepath.Dir(newPath), result)
	if !ok {
		m.removeSubtree(id, result)
		return
	}
	if existing, exists := m.paths[newPath]; exists && existing != id {
		if !m.racedWalk(id, existing) {
			// Renaming over a live path (an editor's atomic save) keeps
			// the destination's identity and slot; the source
			// disappears.
			m.removeSubtree(id, result)
			m.refresh(newPath, result)
			if info.IsDir() {
				m.resync[newPath] = true
			}
			return
		}
		// The destination is the walk's copy of the entry being moved.
		// Its directories are the moved ones, still watched under the
		// new path, so they are not reported as removed.
		removed := len(result.RemovedDirectories)
		m.removeSubtree(existing, result)
		result.RemovedDirectories = result.RemovedDirectories[:removed]
	}

	node := m.mutable(id)
	if node.Parent != newParentID {
		oldParent := m.mutable(node.Parent)
		oldParent.Children = slices.DeleteFunc(oldParent.Children, func(child NodeID) bool { return child == id })
		oldParent.Scale = layout.DirectoryScale(len(oldParent.Children))

		newParent := m.mutable(newParentID)
		node.Slot = newParent.nextSlot
		newParent.nextSlot++
		newParent.Children = append(newParent.Children, id)
		newParent.Scale = layout.DirectoryScale(len(newParent.Children))
		node.Parent = newParentID
	}
	node.Name = filepath.Base(newPath)
	if !node.IsDirectory() {
		node.Category = CategoryOf(node.Name)
	}
	m.relocate(id, newPath)
	m.update(id, info, result)
	result.Moved = append(result.Moved, id)

	if node.IsDirectory() {
		m.matcher.Forget(oldPath)
		m.resync[newPath] = true
	}
}

// racedWalk reports whether existing, the node at a rename's
// destination, was created in this or the previous batch after the
// source, which is how a walk of a directory the source had already
// been moved into leaves it. IDs only grow.
func (m *Model) racedWalk(source, existing NodeID) bool {
	return source < existing && (m.fresh[existing] || m.freshBefore[existing])
}

// relocate rewrites the path, depth, and position of id and its
// subtree. Slots are unchanged.
func (m *Model) relocate(id NodeID, path string) {
	node := m.mutable(id)
	parent := m.nodes[node.Parent]
	if m.paths[node.Path] == id {
		delete(m.paths, node.Path)
	}
	node.Path = path
	node.Depth = parent.Depth + 1
	node.Position = layout.Place(parent.Position, node.Depth, node.Slot, node.IsDirectory())
	m.paths[path] = id
	for _, child := range node.Children {
		m.relocate(child, filepath.Join(path, m.nodes[child].Name))
	}
}

// reconcile re-walks the directories collected in resync, outermost
// first, so changed ignore rules take effect: newly ignored nodes are
// removed and newly visible paths are added.
func (m *Model) reconcile(result *ApplyResult) {
	if len(m.resync) == 0 {
		return
	}
	directories := slices.Sorted(maps.Keys(m.resync))
	clear(m.resync)

	excludeDirectory := m.ExcludeDirectory()
	var walked []string
	for _, directory := range directories {
		if directory == excludeDirectory {
			if err := m.matcher.Reload(directory); err != nil {
				m.recordError(result, directory, "reload", err)
			}
			directory = m.rootPath
		}
		covered := slices.ContainsFunc(walked, func(ancestor string) bool {
			return directory == ancestor || strings.HasPrefix(directory, ancestor+string(filepath.Separator))
		})
		if covered {
			continue
		}
		id, exists := m.paths[directory]
		if !exists || !m.nodes[id].IsDirectory() {
			continue
		}
		m.syncDirectory(id, result)
		walked = append(walked, directory)
	}
}

// syncDirectory makes the subtree at id match the disk, reloading each
// directory's ignore rules on the way down.
func (m *Model) syncDirectory(id NodeID, result *ApplyResult) {
	directoryPath := m.nodes[id].Path
	if err := m.matcher.Reload(directoryPath); err != nil {
		m.recordError(result, directoryPath, "reload", err)
	}
	entries, err := os.ReadDir(directoryPath)
	if err != nil {
		m.recordError(result, directoryPath, "readdir", err)
		return
	}

	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		path := filepath.Join(directoryPath, entry.Name())
		if !m.matcher.Ignored(path, entry.IsDir()) {
			present[path] = true
		}
	}
	for _, childID := range slices.Clone(m.nodes[id].Children) {
		if !present[m.nodes[childID].Path] {
			m.removeSubtree(childID, result)
		}
	}

	for _, entry := range entries {
		path := filepath.Join(directoryPath, entry.Name())
		if !present[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.recordError(result, path, "stat", err)
			}
			continue
		}
		if childID, exists := m.paths[path]; exists {
			if m.nodes[childID].IsDirectory() == info.IsDir() {
				m.update(childID, info, result)
				if info.IsDir() {
					m.syncDirectory(childID, result)
				}
				continue
			}
			m.removeSubtree(childID, result)
		}
		childID := m.addNode(id, path, info, result)
		if info.IsDir() {
			m.syncDirectory(childID, result)
		}
	}
}

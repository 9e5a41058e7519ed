// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package fsmodel

// Snapshot is an immutable view of the tree as of one applied batch.
// All methods are safe for concurrent use.
type Snapshot struct {
	version     uint64
	rootPath    string
	root        NodeID
	nodes       map[NodeID]*Node
	paths       map[string]NodeID
	stale       bool
	staleReason string
}

// Version increases with every publish.
func (s *Snapshot) Version() uint64 { return s.version }

// RootPath is the absolute path of the watched root.
func (s *Snapshot) RootPath() string { return s.rootPath }

// Root returns the root directory node.
func (s *Snapshot) Root() *Node { return s.nodes[s.root] }

// Node returns the node with id.
func (s *Snapshot) Node(id NodeID) (*Node, bool) {
	node, ok := s.nodes[id]
	return node, ok
}

// Lookup returns the live node at an absolute, cleaned path.
func (s *Snapshot) Lookup(path string) (*Node, bool) {
	id, ok := s.paths[path]
	if !ok {
		return nil, false
	}
	return s.nodes[id], true
}

// Children returns the children of id in slot order.
func (s *Snapshot) Children(id NodeID) []*Node {
	parent, ok := s.nodes[id]
	if !ok {
		return nil
	}
	children := make([]*Node, 0, len(parent.Children))
	for _, childID := range parent.Children {
		children = append(children, s.nodes[childID])
	}
	return children
}

// Len is the number of live nodes, including the root.
func (s *Snapshot) Len() int { return len(s.nodes) }

// Walk visits nodes depth-first from the root in slot order. Returning
// false from fn skips the node's subtree.
func (s *Snapshot) Walk(fn func(*Node) bool) {
	var visit func(NodeID)
	visit = func(id NodeID) {
		node := s.nodes[id]
		if node == nil || !fn(node) {
			return
		}
		for _, child := range node.Children {
			visit(child)
		}
	}
	visit(s.root)
}

// Stale reports that the watch backend failed after this snapshot was
// built, so it may no longer match the disk.
func (s *Snapshot) Stale() bool { return s.stale }

// StaleReason describes the failure that made the snapshot stale.
func (s *Snapshot) StaleReason() string { return s.staleReason }

// Directories returns the paths of every directory, root first.
func (s *Snapshot) Directories() []string {
	var directories []string
	s.Walk(func(node *Node) bool {
		if node.IsDirectory() {
			directories = append(directories, node.Path)
			return true
		}
		return false
	})
	return directories
}

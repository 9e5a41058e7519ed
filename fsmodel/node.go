// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package fsmodel

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThoseWhoHackTrees/agent-vis/layout"
)

// NodeID identifies a node for the lifetime of the process. IDs are
// allocated in increasing order and never reused. The zero ID means
// "no node".
type NodeID uint64

// Kind distinguishes files from directories. Symbolic links are
// recorded as files and never followed.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "file":
		*k = KindFile
	case "directory":
		*k = KindDirectory
	default:
		return fmt.Errorf("unknown node kind %q", text)
	}
	return nil
}

// Category groups files by extension for styling.
type Category string

const (
	CategoryDirectory  Category = "directory"
	CategoryRust       Category = "source/rust"
	CategoryGo         Category = "source/go"
	CategoryPython     Category = "source/python"
	CategoryJavaScript Category = "source/javascript"
	CategoryCompiled   Category = "source/compiled"
	CategoryWeb        Category = "web"
	CategoryConfig     Category = "config"
	CategoryText       Category = "text"
	CategoryOther      Category = "other"
)

// CategoryOf derives the category of a file from its name.
func CategoryOf(name string) Category {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "rs":
		return CategoryRust
	case "go":
		return CategoryGo
	case "py":
		return CategoryPython
	case "js", "ts", "jsx", "tsx", "mjs":
		return CategoryJavaScript
	case "java", "c", "cpp", "cc", "h", "hpp":
		return CategoryCompiled
	case "html", "css":
		return CategoryWeb
	case "toml", "yaml", "yml", "json":
		return CategoryConfig
	case "md", "txt":
		return CategoryText
	default:
		return CategoryOther
	}
}

// Node is one file or directory. Nodes reachable from a Snapshot are
// immutable; the Children slice must not be modified.
type Node struct {
	ID       NodeID   `json:"id"`
	Path     string   `json:"path"`
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Size     int64    `json:"size"`
	Category Category `json:"category"`

	// Parent is zero for the root.
	Parent NodeID `json:"parent,omitempty"`

	// Children are ordered by slot.
	Children []NodeID `json:"children,omitempty"`

	Depth    int         `json:"depth"`
	Slot     layout.Slot `json:"slot"`
	Position layout.Vec3 `json:"position"`
	Scale    float64     `json:"scale"`
	ModTime  time.Time   `json:"mod_time"`

	// nextSlot is the directory's slot counter. It only grows.
	nextSlot layout.Slot
}

// IsDirectory reports whether the node is a directory.
func (n *Node) IsDirectory() bool { return n.Kind == KindDirectory }

func (n *Node) clone() *Node {
	copied := *n
	copied.Children = append([]NodeID(nil), n.Children...)
	return &copied
}

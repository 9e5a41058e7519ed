// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the viewer's key bindings.
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	// Pause freezes the displayed frame. The producers keep running.
	Pause key.Binding

	// Ended toggles listing sessions that have ended.
	Ended key.Binding

	Quit key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "pause"),
	),
	Ended: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "ended"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// help is the footer line built from the bindings.
func (keys KeyMap) help() []key.Binding {
	return []key.Binding{keys.Up, keys.Down, keys.Pause, keys.Ended, keys.Quit}
}

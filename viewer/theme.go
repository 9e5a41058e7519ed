// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ThoseWhoHackTrees/agent-vis/agent"
	"github.com/ThoseWhoHackTrees/agent-vis/bridge"
)

// Theme is the viewer's colour scheme. Agent colours come from each
// session's identity, not from the theme.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// State colours for the state column.
	StateStarting lipgloss.Color
	StateIdle     lipgloss.Color
	StateBusy     lipgloss.Color
	StateEnded    lipgloss.Color

	// Connection indicator.
	Connected    lipgloss.Color
	Connecting   lipgloss.Color
	Disconnected lipgloss.Color

	// Stale is the banner shown when the tree stopped tracking the disk.
	Stale lipgloss.Color

	// Heat is the bar colour in the top files list.
	Heat lipgloss.Color
}

// DefaultTheme targets 256-colour terminals with a dark background.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	StateStarting: lipgloss.Color("141"), // light purple
	StateIdle:     lipgloss.Color("245"), // gray
	StateBusy:     lipgloss.Color("220"), // amber
	StateEnded:    lipgloss.Color("240"),

	Connected:    lipgloss.Color("114"), // green
	Connecting:   lipgloss.Color("220"),
	Disconnected: lipgloss.Color("196"), // red

	Stale: lipgloss.Color("196"),
	Heat:  lipgloss.Color("208"), // orange
}

// StateColor returns the colour for an agent state.
func (theme Theme) StateColor(state agent.State) lipgloss.Color {
	switch {
	case state == agent.StateStarting:
		return theme.StateStarting
	case state.Busy():
		return theme.StateBusy
	case state == agent.StateEnded:
		return theme.StateEnded
	default:
		return theme.StateIdle
	}
}

// ConnectionColor returns the colour for a relay connection state.
func (theme Theme) ConnectionColor(state bridge.ConnectionState) lipgloss.Color {
	switch state {
	case bridge.StateConnected:
		return theme.Connected
	case bridge.StateConnecting:
		return theme.Connecting
	default:
		return theme.Disconnected
	}
}

// identityColor converts an agent palette colour for lipgloss.
func identityColor(color agent.Color) lipgloss.Color {
	return lipgloss.Color(color.Hex())
}

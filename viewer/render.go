// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/ThoseWhoHackTrees/agent-vis/agent"
	"github.com/ThoseWhoHackTrees/agent-vis/bridge"
	"github.com/ThoseWhoHackTrees/agent-vis/fsmodel"
)

// Layout is the viewport and display options a frame is rendered
// with.
type Layout struct {
	// Width truncates every line; zero disables truncation. Height
	// bounds the agent list so the whole frame fits; zero is unbounded.
	Width  int
	Height int

	// TopFiles is the length of the hottest-files list.
	TopFiles int

	// Offset is the first agent row shown.
	Offset int

	ShowEnded bool
	Paused    bool

	// Status replaces the help line when set.
	Status string
}

// heatBarWidth is the widest bar in the top files list.
const heatBarWidth = 10

// Render draws one frame as text.
func Render(frame bridge.Frame, theme Theme, keys KeyMap, layout Layout) string {
	faint := lipgloss.NewStyle().Foreground(theme.FaintText)
	heading := lipgloss.NewStyle().Foreground(theme.HeaderForeground).Bold(true)

	var top []string
	top = append(top, renderHeader(frame, theme, layout))
	if frame.Model != nil && frame.Model.Stale() {
		banner := lipgloss.NewStyle().Foreground(theme.Stale).Bold(true)
		top = append(top, banner.Render("tree is stale: "+frame.Model.StaleReason()))
	}
	if reason := frame.Connection.LastError(); reason != "" && frame.Connection.State != bridge.StateConnected {
		line := "relay: " + reason
		if frame.Connection.Backoff > 0 {
			line += fmt.Sprintf(" (retry in %s)", frame.Connection.Backoff)
		}
		top = append(top, faint.Render(line))
	}
	top = append(top, "")

	var files []string
	if layout.TopFiles > 0 {
		files = append(files, "", heading.Render("Top files"))
		files = append(files, renderTopFiles(frame, theme, layout.TopFiles)...)
	}

	separator := lipgloss.NewStyle().Foreground(theme.BorderColor).Render(strings.Repeat("─", max(layout.Width, 20)))
	footer := []string{separator, renderCounters(frame, faint)}
	if layout.Status != "" {
		footer = append(footer, layout.Status)
	} else {
		footer = append(footer, renderHelp(keys, theme))
	}

	agents := visibleAgents(frame.Agents, layout.ShowEnded)
	rows := make([]string, 0, len(agents))
	for _, session := range agents {
		rows = append(rows, renderAgent(frame, session, theme))
	}
	if len(rows) == 0 {
		rows = append(rows, faint.Render("no sessions yet"))
	}
	budget := len(rows)
	if layout.Height > 0 {
		budget = max(1, layout.Height-len(top)-len(files)-len(footer)-1)
	}
	rows = window(rows, layout.Offset, budget)

	title := fmt.Sprintf("Agents (%d live, %d total)", len(frame.Agents.Active()), len(frame.Agents.Agents()))
	lines := make([]string, 0, len(top)+len(rows)+len(files)+len(footer)+1)
	lines = append(lines, top...)
	lines = append(lines, heading.Render(title))
	lines = append(lines, rows...)
	lines = append(lines, files...)
	lines = append(lines, footer...)

	if layout.Width > 0 {
		for index, line := range lines {
			lines[index] = ansi.Truncate(line, layout.Width, "…")
		}
	}
	return strings.Join(lines, "\n")
}

func renderHeader(frame bridge.Frame, theme Theme, layout Layout) string {
	name := lipgloss.NewStyle().Foreground(theme.HeaderForeground).Bold(true).Render("agent-vis")
	faint := lipgloss.NewStyle().Foreground(theme.FaintText)

	parts := []string{name}
	if layout.Paused {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.StateBusy).Render("[paused]"))
	}
	if frame.Model != nil {
		parts = append(parts,
			frame.Model.RootPath(),
			faint.Render(fmt.Sprintf("%d nodes", frame.Model.Len())),
			faint.Render(fmt.Sprintf("tree v%d", frame.Model.Version())),
		)
	}
	parts = append(parts, faint.Render(fmt.Sprintf("agents v%d", frame.Agents.Version())))
	connection := lipgloss.NewStyle().Foreground(theme.ConnectionColor(frame.Connection.State))
	parts = append(parts, connection.Render("● "+frame.Connection.State.String()))
	return strings.Join(parts, "  ")
}

func visibleAgents(snapshot *agent.Snapshot, showEnded bool) []agent.Agent {
	if showEnded {
		return snapshot.Agents()
	}
	return snapshot.Active()
}

func renderAgent(frame bridge.Frame, session agent.Agent, theme Theme) string {
	identity := lipgloss.NewStyle().Foreground(identityColor(session.Color))
	state := lipgloss.NewStyle().Foreground(theme.StateColor(session.State)).Width(10)
	faint := lipgloss.NewStyle().Foreground(theme.FaintText)

	label := identity.Bold(true).Width(8).Render(session.Label)
	if session.Implicit {
		label = identity.Width(8).Render(session.Label + "*")
	}
	line := identity.Render("●") + " " + label + state.Render(StateVerb(session.State)) +
		targetText(frame, session.Target)
	if !session.LastEvent.IsZero() {
		line += "  " + faint.Render(humanize.RelTime(session.LastEvent, frame.ComposedAt, "ago", "from now"))
	}
	if session.State == agent.StateEnded && session.EndReason != "" {
		line += "  " + faint.Render("("+session.EndReason+")")
	}
	return line
}

// targetText describes a reference. A resolved reference shows the
// node's current path, which follows renames.
func targetText(frame bridge.Frame, reference agent.NodeRef) string {
	if reference.IsZero() {
		return "-"
	}
	root := ""
	if frame.Model != nil {
		root = frame.Model.RootPath()
		if reference.Resolved() {
			if node, ok := frame.Model.Node(reference.Node); ok {
				return displayPath(root, node.Path)
			}
		}
	}
	text := displayPath(root, reference.Path)
	if reference.Pending {
		text += " (pending)"
	}
	return text
}

// displayPath shows paths inside root relative to it.
func displayPath(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	if path == root {
		return "."
	}
	relative, err := filepath.Rel(root, path)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return path
	}
	return relative
}

func renderTopFiles(frame bridge.Frame, theme Theme, count int) []string {
	faint := lipgloss.NewStyle().Foreground(theme.FaintText)
	hot := frame.Agents.TopHot(count)
	if len(hot) == 0 {
		return []string{faint.Render("nothing touched yet")}
	}

	heat := lipgloss.NewStyle().Foreground(theme.Heat)
	peak := hot[0].Count
	lines := make([]string, 0, len(hot))
	for _, entry := range hot {
		filled := max(1, int(entry.Count*heatBarWidth/peak))
		bar := heat.Render(strings.Repeat("▮", filled)) + strings.Repeat(" ", heatBarWidth-filled)

		path := fmt.Sprintf("node %d", entry.Node)
		var node *fsmodel.Node
		if frame.Model != nil {
			if found, ok := frame.Model.Node(entry.Node); ok {
				node = found
				path = displayPath(frame.Model.RootPath(), found.Path)
			}
		}
		line := fmt.Sprintf("%4d %s %s", entry.Count, bar, path)
		if node != nil && !node.IsDirectory() {
			line += "  " + faint.Render(humanize.Bytes(uint64(max(node.Size, 0))))
		}
		if last := lastToucher(frame.Agents, entry.Node); last != "" {
			line += "  " + last
		}
		lines = append(lines, line)
	}
	return lines
}

// lastToucher names the session that most recently acted on node,
// in its colour.
func lastToucher(snapshot *agent.Snapshot, node fsmodel.NodeID) string {
	history := snapshot.NodeHistory(node)
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]
	identity := agent.IdentityOf(last.SessionID)
	style := lipgloss.NewStyle().Foreground(identityColor(identity.Color))
	return style.Render(identity.Label) + " " + ToolVerb(last.Tool.ToolName())
}

func renderCounters(frame bridge.Frame, faint lipgloss.Style) string {
	counters := frame.Agents.Counters()
	return faint.Render(fmt.Sprintf("events %d  stale %d  pending %d  resolved %d  dropped %d  malformed %d",
		counters.Applied, counters.Stale, frame.Agents.Pending(), counters.Resolved, counters.Dropped, frame.Malformed))
}

func renderHelp(keys KeyMap, theme Theme) string {
	style := lipgloss.NewStyle().Foreground(theme.HelpText)
	var parts []string
	for _, binding := range keys.help() {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return style.Render(strings.Join(parts, "  "))
}

// window returns at most size rows starting at offset, clamping offset
// so the last page stays full.
func window(rows []string, offset, size int) []string {
	if size >= len(rows) {
		return rows
	}
	offset = min(max(offset, 0), len(rows)-size)
	return rows[offset : offset+size]
}

// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/ThoseWhoHackTrees/agent-vis/agent"
	"github.com/ThoseWhoHackTrees/agent-vis/bridge"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
)

// Interactive reports whether stdin and stdout are both terminals, so
// the interactive viewer can run.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// HeadlessConfig configures RunHeadless.
type HeadlessConfig struct {
	Source FrameSource

	// Interval between summaries. Defaults to 5s.
	Interval time.Duration

	// TopFiles defaults to 6.
	TopFiles int

	Clock  clock.Clock
	Logger *slog.Logger
}

// RunHeadless logs a summary of one frame per interval, plus a line
// for every agent state change seen between frames. It returns nil
// when ctx is done.
func RunHeadless(ctx context.Context, config HeadlessConfig) error {
	if config.Source == nil {
		panic("viewer: Source is required")
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.TopFiles <= 0 {
		config.TopFiles = 6
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ticker := config.Clock.NewTicker(config.Interval)
	defer ticker.Stop()

	seen := make(map[string]agent.State)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame := config.Source.Frame()
		for _, session := range frame.Agents.Agents() {
			previous, known := seen[session.SessionID]
			if known && previous == session.State {
				continue
			}
			seen[session.SessionID] = session.State
			config.Logger.Info("agent",
				"session_id", session.SessionID,
				"label", session.Label,
				"state", session.State,
				"target", targetText(frame, session.Target),
			)
		}
		config.Logger.Info("frame", Summary(frame, config.TopFiles)...)
	}
}

// Summary returns slog attributes describing a frame.
func Summary(frame bridge.Frame, topFiles int) []any {
	attrs := []any{
		"tick", frame.Tick,
		"agents", len(frame.Agents.Agents()),
		"live", len(frame.Agents.Active()),
		"pending", frame.Agents.Pending(),
		"connection", frame.Connection.State,
		"malformed", frame.Malformed,
	}
	if frame.Model != nil {
		attrs = append(attrs, "nodes", frame.Model.Len(), "tree_version", frame.Model.Version())
		if frame.Model.Stale() {
			attrs = append(attrs, "stale", frame.Model.StaleReason())
		}
	}
	var hot []string
	for _, entry := range frame.Agents.TopHot(topFiles) {
		path := ""
		if frame.Model != nil {
			if node, ok := frame.Model.Node(entry.Node); ok {
				path = displayPath(frame.Model.RootPath(), node.Path)
			}
		}
		if path == "" {
			continue
		}
		hot = append(hot, path)
	}
	if len(hot) > 0 {
		attrs = append(attrs, "top_files", hot)
	}
	return attrs
}

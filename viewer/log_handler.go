// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// logRecordMsg delivers a log record to the model's status line.
type logRecordMsg struct {
	summary string
}

// logRecordFadeMsg clears the status line if it still shows summary.
type logRecordFadeMsg struct {
	summary string
}

// logRecordFadeDelay is how long a record stays in the status line.
const logRecordFadeDelay = 5 * time.Second

// LogHandler is a slog.Handler that routes records into a running
// viewer instead of the terminal it is drawing on. Records arriving
// while no program is attached are dropped.
//
// Handlers derived with WithAttrs and WithGroup share the program
// pointer, so one SetProgram call reaches all of them.
type LogHandler struct {
	level   slog.Leveler
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
	group   string
}

// NewLogHandler returns a handler for records at or above level.
func NewLogHandler(level slog.Leveler) *LogHandler {
	return &LogHandler{level: level, program: &atomic.Pointer[tea.Program]{}}
}

// SetProgram attaches the program that receives records. Nil detaches.
func (handler *LogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}
	program.Send(logRecordMsg{summary: handler.summarize(record)})
	return nil
}

// summarize formats "LEVEL message (key=value, ...)".
func (handler *LogHandler) summarize(record slog.Record) string {
	var builder strings.Builder
	builder.WriteString(record.Level.String())
	builder.WriteByte(' ')
	builder.WriteString(record.Message)

	var parts []string
	for _, attr := range handler.attrs {
		parts = append(parts, attr.String())
	}
	record.Attrs(func(attr slog.Attr) bool {
		if handler.group != "" {
			attr.Key = handler.group + "." + attr.Key
		}
		parts = append(parts, attr.String())
		return true
	})
	if len(parts) > 0 {
		builder.WriteString(" (")
		builder.WriteString(strings.Join(parts, ", "))
		builder.WriteByte(')')
	}
	return builder.String()
}

func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *handler
	derived.attrs = make([]slog.Attr, 0, len(handler.attrs)+len(attrs))
	derived.attrs = append(derived.attrs, handler.attrs...)
	for _, attr := range attrs {
		if handler.group != "" {
			attr.Key = handler.group + "." + attr.Key
		}
		derived.attrs = append(derived.attrs, attr)
	}
	return &derived
}

func (handler *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	derived := *handler
	if handler.group != "" {
		name = handler.group + "." + name
	}
	derived.group = name
	return &derived
}

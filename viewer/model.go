// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ThoseWhoHackTrees/agent-vis/bridge"
)

// FrameSource produces one frame per call. *bridge.Composer implements
// it.
type FrameSource interface {
	Frame() bridge.Frame
}

// Config configures the interactive viewer.
type Config struct {
	Source FrameSource

	// Tick is the render cadence. Defaults to 100ms.
	Tick time.Duration

	// TopFiles defaults to 6.
	TopFiles int

	// Theme and Keys default to DefaultTheme and DefaultKeyMap.
	Theme *Theme
	Keys  *KeyMap
}

func (c Config) withDefaults() Config {
	if c.Source == nil {
		panic("viewer: Source is required")
	}
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.TopFiles <= 0 {
		c.TopFiles = 6
	}
	if c.Theme == nil {
		c.Theme = &DefaultTheme
	}
	if c.Keys == nil {
		c.Keys = &DefaultKeyMap
	}
	return c
}

// tickMsg drives the render loop.
type tickMsg time.Time

// Model is the bubbletea model for the viewer.
type Model struct {
	config Config

	frame     bridge.Frame
	haveFrame bool

	width  int
	height int

	offset    int
	paused    bool
	showEnded bool

	// status is the latest warning routed from the logger.
	status string
}

// New returns a model that has not drawn a frame yet.
func New(config Config) Model {
	return Model{config: config.withDefaults()}
}

// Init implements tea.Model. The first frame is composed immediately.
func (model Model) Init() tea.Cmd {
	return func() tea.Msg { return tickMsg(time.Now()) }
}

func (model Model) tick() tea.Cmd {
	return tea.Tick(model.config.Tick, func(at time.Time) tea.Msg {
		return tickMsg(at)
	})
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tickMsg:
		// A paused viewer keeps ticking so unpausing resumes at once,
		// but stops pulling frames.
		if !model.paused || !model.haveFrame {
			model.frame = model.config.Source.Frame()
			model.haveFrame = true
		}
		return model, model.tick()

	case tea.KeyMsg:
		keys := model.config.Keys
		switch {
		case key.Matches(message, keys.Quit):
			return model, tea.Quit
		case key.Matches(message, keys.Pause):
			model.paused = !model.paused
		case key.Matches(message, keys.Ended):
			model.showEnded = !model.showEnded
			model.offset = 0
		case key.Matches(message, keys.Up):
			model.offset = max(model.offset-1, 0)
		case key.Matches(message, keys.Down):
			model.offset++
			if model.haveFrame {
				model.offset = min(model.offset, max(len(visibleAgents(model.frame.Agents, model.showEnded))-1, 0))
			}
		}

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height

	case logRecordMsg:
		model.status = message.summary
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{summary: message.summary}
		})

	case logRecordFadeMsg:
		// A newer record keeps its own fade timer.
		if model.status == message.summary {
			model.status = ""
		}
	}
	return model, nil
}

// View implements tea.Model.
func (model Model) View() string {
	if !model.haveFrame {
		return "Loading..."
	}
	return Render(model.frame, *model.config.Theme, *model.config.Keys, model.layout())
}

func (model Model) layout() Layout {
	return Layout{
		Width:     model.width,
		Height:    model.height,
		TopFiles:  model.config.TopFiles,
		Offset:    model.offset,
		ShowEnded: model.showEnded,
		Paused:    model.paused,
		Status:    model.status,
	}
}

// Run runs the interactive viewer on the terminal until the user quits
// or ctx is done. Records passed to logs are shown in the status line
// instead of being written over the display; logs may be nil.
func Run(ctx context.Context, config Config, logs *LogHandler, options ...tea.ProgramOption) error {
	options = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, options...)
	program := tea.NewProgram(New(config), options...)
	if logs != nil {
		logs.SetProgram(program)
		defer logs.SetProgram(nil)
	}
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

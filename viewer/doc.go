// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package viewer renders composed frames for a person watching the
// agents work.
//
// The interactive viewer is a bubbletea program that pulls one frame
// from the composer on every tick and draws the session list, each
// agent coloured by its identity, followed by the most-touched files.
// It never writes to the producers. When no terminal is attached the
// same frames are summarized to the logger instead (RunHeadless).
package viewer

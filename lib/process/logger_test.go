// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		level, err := ParseLevel(name)
		if err != nil || level != want {
			t.Errorf("ParseLevel(%q) = %v, %v", name, level, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel accepted an unknown level")
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	// A buffer is not a terminal, so auto picks JSON.
	logger, err := NewLogger(&buffer, slog.LevelWarn, "auto")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "path", "/tmp/x")
	if output := buffer.String(); strings.Contains(output, "dropped") || !strings.Contains(output, `"msg":"kept"`) {
		t.Errorf("output = %q", output)
	}

	buffer.Reset()
	logger, err = NewLogger(&buffer, slog.LevelInfo, "text")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello")
	if !strings.Contains(buffer.String(), "msg=hello") {
		t.Errorf("text output = %q", buffer.String())
	}

	if _, err := NewLogger(&buffer, slog.LevelInfo, "xml"); err == nil {
		t.Error("NewLogger accepted an unknown format")
	}
}

// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		code int
		text string
	}{
		{"plain", errors.New("root missing"), 1, "error: root missing\n"},
		{"exit code", &ExitError{Code: 2, Err: errors.New("usage")}, 2, "error: usage\n"},
		{"wrapped", fmt.Errorf("starting: %w", &ExitError{Code: 3, Err: errors.New("bind")}), 3, "error: starting: bind\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			var buffer bytes.Buffer
			if code := report(&buffer, test.err); code != test.code {
				t.Errorf("code = %d, want %d", code, test.code)
			}
			if buffer.String() != test.text {
				t.Errorf("output = %q, want %q", buffer.String(), test.text)
			}
		})
	}
}

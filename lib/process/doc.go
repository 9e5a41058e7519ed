// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds what the binaries share at their entry point:
// the fatal error handler and logger construction.
package process

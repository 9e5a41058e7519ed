// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for the agentvis binaries.
//
// Configuration comes from a single file named by the --config flag or
// the AGENTVIS_CONFIG environment variable. There is no automatic
// discovery. Files ending in .json or .jsonc are JSON with comments;
// anything else is YAML. Every field has a default from [Default], and
// command-line flags override file values after loading.
//
// Durations are written as Go duration strings ("500ms", "5s") in
// either format.
package config

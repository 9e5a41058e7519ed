// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// agentvis-relay accepts agent hook events over HTTP, stamps each with
// a relay-wide sequence number, and pushes it to every connected
// viewer over a WebSocket. It keeps no history: a viewer sees only
// events that arrive while it is connected.
//
// Agent hooks POST JSON to /session-start, /read, /write, /edit and
// /session-end. Viewers connect to /ws (add ?encoding=cbor for binary
// frames). /healthz and /status report liveness and counters.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/config"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/process"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/version"
	"github.com/ThoseWhoHackTrees/agent-vis/relay"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath   string
		listen       string
		clientBuffer int
		logLevel     string
		logFormat    string
		showVersion  bool
	)
	flagSet := pflag.NewFlagSet("agentvis-relay", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (YAML, or JSON with comments); defaults to $"+config.EnvironmentVariable)
	flagSet.StringVar(&listen, "listen", relay.DefaultAddress, "address for hook ingest and viewer connections")
	flagSet.IntVar(&clientBuffer, "client-buffer", relay.DefaultQueueSize, "per-viewer outbound queue; a viewer that fills it is disconnected")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flagSet.StringVar(&logFormat, "log-format", "auto", "text, json, or auto (text on a terminal)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &process.ExitError{Code: 2, Err: err}
	}
	if showVersion {
		fmt.Printf("agentvis-relay %s\n", version.Full())
		return nil
	}
	if flagSet.NArg() > 0 {
		return &process.ExitError{Code: 2, Err: fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("listen") {
		cfg.Relay.Listen = listen
	}
	if flagSet.Changed("client-buffer") {
		cfg.Relay.ClientBuffer = clientBuffer
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := process.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger, err := process.NewLogger(os.Stderr, level, logFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := relay.New(relay.Config{
		Address:         cfg.Relay.Listen,
		ClientBuffer:    cfg.Relay.ClientBuffer,
		ShutdownTimeout: cfg.Relay.ShutdownTimeout.Std(),
		Logger:          logger,
	})

	go func() {
		select {
		case <-server.Ready():
			logger.Info("relay running",
				"address", server.Addr().String(),
				"client_buffer", cfg.Relay.ClientBuffer,
				"version", version.Info(),
			)
		case <-ctx.Done():
		}
	}()

	if err := server.Serve(ctx); err != nil {
		return err
	}
	hub := server.Hub()
	logger.Info("relay stopped",
		"accepted", hub.Accepted(),
		"last_sequence", hub.LastSequence(),
		"overflow_disconnects", hub.OverflowDisconnects(),
	)
	return nil
}

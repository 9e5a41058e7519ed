// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// agentvis shows coding agents moving through a project tree. It
// watches <root>, follows agent activity pushed by agentvis-relay, and
// draws both in the terminal, or logs periodic summaries when no
// terminal is attached (or with --headless).
//
// With --export-listen the current frame is also served as JSON or
// CBOR at GET /frame for external renderers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ThoseWhoHackTrees/agent-vis/agent"
	"github.com/ThoseWhoHackTrees/agent-vis/bridge"
	"github.com/ThoseWhoHackTrees/agent-vis/fsmodel"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/compress"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/config"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/process"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/service"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/version"
	"github.com/ThoseWhoHackTrees/agent-vis/viewer"
	"github.com/ThoseWhoHackTrees/agent-vis/watch"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// options are the parsed command line.
type options struct {
	root     string
	headless bool
	logLevel string
	logFmt   string
	config   *config.Config
}

func parse(args []string) (*options, error) {
	var (
		configPath        string
		relayURL          string
		encoding          string
		backend           string
		tick              config.Duration
		exportListen      string
		exportCompression string
		showVersion       bool
		parsed            options
	)
	defaults := config.Default()
	tick = defaults.Viewer.Tick

	flagSet := pflag.NewFlagSet("agentvis", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (YAML, or JSON with comments); defaults to $"+config.EnvironmentVariable)
	flagSet.StringVar(&relayURL, "relay-url", defaults.Client.RelayURL, "relay WebSocket endpoint")
	flagSet.StringVar(&encoding, "encoding", defaults.Client.Encoding, "relay frame encoding: json or cbor")
	flagSet.StringVar(&backend, "backend", defaults.Watch.Backend, "file watch backend: inotify or fsnotify")
	flagSet.Var(&tick, "tick", "viewer frame interval")
	flagSet.StringVar(&exportListen, "export-listen", "", "serve the current frame at GET /frame on this address")
	flagSet.StringVar(&exportCompression, "export-compression", defaults.Export.Compression, "frame export compression: none, lz4, or zstd")
	flagSet.BoolVar(&parsed.headless, "headless", false, "log frame summaries instead of drawing")
	flagSet.StringVar(&parsed.logLevel, "log-level", "info", "debug, info, warn, or error")
	flagSet.StringVar(&parsed.logFmt, "log-format", "auto", "text, json, or auto (text on a terminal)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: agentvis <root> [flags]\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil
		}
		return nil, &process.ExitError{Code: 2, Err: err}
	}
	if showVersion {
		fmt.Printf("agentvis %s\n", version.Full())
		return nil, nil
	}
	switch flagSet.NArg() {
	case 0:
		return nil, &process.ExitError{Code: 2, Err: errors.New("usage: agentvis <root> [flags]")}
	case 1:
		parsed.root = flagSet.Arg(0)
	default:
		return nil, &process.ExitError{Code: 2, Err: fmt.Errorf("unexpected argument: %s", flagSet.Arg(1))}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	overrides := map[string]func(){
		"relay-url":          func() { cfg.Client.RelayURL = relayURL },
		"encoding":           func() { cfg.Client.Encoding = encoding },
		"backend":            func() { cfg.Watch.Backend = backend },
		"tick":               func() { cfg.Viewer.Tick = tick },
		"export-listen":      func() { cfg.Export.Listen = exportListen },
		"export-compression": func() { cfg.Export.Compression = exportCompression },
	}
	for name, apply := range overrides {
		if flagSet.Changed(name) {
			apply()
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	parsed.config = cfg
	return &parsed, nil
}

func run(args []string) error {
	parsed, err := parse(args)
	if err != nil || parsed == nil {
		return err
	}
	cfg := parsed.config

	info, err := os.Stat(parsed.root)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", parsed.root)
	}

	level, err := process.ParseLevel(parsed.logLevel)
	if err != nil {
		return err
	}
	interactive := !parsed.headless && viewer.Interactive()
	var logger *slog.Logger
	var logHandler *viewer.LogHandler
	if interactive {
		// Warnings go to the viewer's status line; anything written to
		// the terminal would tear the display.
		logHandler = viewer.NewLogHandler(max(level, slog.LevelWarn))
		logger = slog.New(logHandler)
	} else if logger, err = process.NewLogger(os.Stderr, level, parsed.logFmt); err != nil {
		return err
	}

	encoding, err := agentevent.ParseEncoding(cfg.Client.Encoding)
	if err != nil {
		return err
	}
	compression, err := compress.Parse(cfg.Export.Compression)
	if err != nil {
		return err
	}

	model, err := fsmodel.Build(parsed.root, fsmodel.Options{Logger: logger})
	if err != nil {
		return err
	}
	backend, err := watch.Open(cfg.Watch.Backend, logger)
	if err != nil {
		return fmt.Errorf("opening %s watcher: %w", cfg.Watch.Backend, err)
	}
	defer backend.Close()

	client, err := bridge.NewClient(bridge.ClientConfig{
		URL:            cfg.Client.RelayURL,
		Encoding:       encoding,
		BackoffInitial: cfg.Client.BackoffInitial.Std(),
		BackoffMax:     cfg.Client.BackoffMax.Std(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	registry := agent.NewRegistry(agent.Config{
		Logger:         logger,
		SpawnDuration:  cfg.Registry.SpawnDuration.Std(),
		ActivityWindow: cfg.Registry.ActivityWindow.Std(),
		IdleTimeout:    cfg.Registry.IdleTimeout.Std(),
		ResolveGrace:   cfg.Registry.ResolveGrace.Std(),
		ActivityLog:    cfg.Registry.ActivityLog,
		NodeHistory:    cfg.Registry.NodeHistory,
	})
	composer := bridge.NewComposer(bridge.ComposerConfig{
		Tree:       model,
		Registry:   registry,
		Connection: client,
	})

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Quitting the viewer ends everything else.
	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	events := make(chan agentevent.Envelope, cfg.Client.InboundBuffer)
	group.Go(func() error {
		return bridge.RunWatch(ctx, bridge.WatchLoopConfig{Model: model, Backend: backend, Logger: logger})
	})
	group.Go(func() error {
		return client.Run(ctx, events)
	})
	group.Go(func() error {
		return bridge.RunRegistry(ctx, bridge.RegistryLoopConfig{
			Registry:      registry,
			Tree:          model,
			Events:        events,
			SweepInterval: cfg.Registry.SweepInterval.Std(),
			Logger:        logger,
		})
	})

	if cfg.Export.Listen != "" {
		export := service.NewHTTPServer(service.HTTPServerConfig{
			Name:    "export",
			Address: cfg.Export.Listen,
			Handler: bridge.FrameHandler(bridge.FrameHandlerConfig{
				Composer:    composer,
				Compression: compression,
				Hot:         cfg.Viewer.TopFiles,
				Logger:      logger,
			}),
			Logger: logger,
		})
		group.Go(func() error {
			return export.Serve(ctx)
		})
	}

	logger.Info("agentvis running",
		"root", model.RootPath(),
		"nodes", model.Snapshot().Len(),
		"relay", cfg.Client.RelayURL,
		"backend", cfg.Watch.Backend,
		"interactive", interactive,
		"version", version.Info(),
	)

	group.Go(func() error {
		defer cancel()
		if interactive {
			return viewer.Run(ctx, viewer.Config{
				Source:   composer,
				Tick:     cfg.Viewer.Tick.Std(),
				TopFiles: cfg.Viewer.TopFiles,
			}, logHandler)
		}
		return viewer.RunHeadless(ctx, viewer.HeadlessConfig{
			Source:   composer,
			TopFiles: cfg.Viewer.TopFiles,
			Logger:   logger,
		})
	})

	return group.Wait()
}

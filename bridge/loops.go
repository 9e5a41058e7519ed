// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/ThoseWhoHackTrees/agent-vis/agent"
	"github.com/ThoseWhoHackTrees/agent-vis/fsmodel"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
	"github.com/ThoseWhoHackTrees/agent-vis/watch"
)

// TreeSource is the read side of the file-system model.
// *fsmodel.Model implements it.
type TreeSource interface {
	Snapshot() *fsmodel.Snapshot
	Published() <-chan struct{}
}

// RegistryLoopConfig configures RunRegistry.
type RegistryLoopConfig struct {
	Registry *agent.Registry

	// Tree resolves tool-use paths. Nil runs the registry without a
	// tree; every reference then stays pending until dropped.
	Tree TreeSource

	// Events is the client's output.
	Events <-chan agentevent.Envelope

	// SweepInterval defaults to 100ms.
	SweepInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// RunRegistry is the registry's single writer. It applies envelopes as
// they arrive, sweeps on every tick, and sweeps again whenever the tree
// publishes so pending references resolve promptly. It returns nil when
// ctx is done or Events is closed.
func RunRegistry(ctx context.Context, config RegistryLoopConfig) error {
	if config.Registry == nil {
		return errors.New("bridge: registry loop needs a registry")
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 100 * time.Millisecond
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	registry := config.Registry
	tree := func() agent.Resolver {
		if config.Tree == nil {
			return nil
		}
		if snapshot := config.Tree.Snapshot(); snapshot != nil {
			return snapshot
		}
		return nil
	}
	var published <-chan struct{}
	if config.Tree != nil {
		published = config.Tree.Published()
	}

	ticker := config.Clock.NewTicker(config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope, ok := <-config.Events:
			if !ok {
				config.Logger.Debug("registry loop input closed")
				return nil
			}
			registry.Apply(envelope, tree())
		case <-published:
			registry.Sweep(tree())
		case <-ticker.C:
			registry.Sweep(tree())
		}
	}
}

// WatchLoopConfig configures RunWatch.
type WatchLoopConfig struct {
	Model   *fsmodel.Model
	Backend watch.Backend
	Logger  *slog.Logger
}

// RunWatch is the model's single writer. It registers the tree's
// directories with the backend, then applies each batch and keeps the
// backend's directory set in step. ErrOverflow triggers a rescan; a
// closed backend or an error not tied to one path marks the snapshot
// stale and the loop idles until ctx is done. It returns nil when ctx
// is done.
func RunWatch(ctx context.Context, config WatchLoopConfig) error {
	if config.Model == nil || config.Backend == nil {
		return errors.New("bridge: watch loop needs a model and a backend")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	model, backend, logger := config.Model, config.Backend, config.Logger

	for _, directory := range model.Snapshot().Directories() {
		if err := backend.Add(directory); err != nil {
			logger.Warn("cannot watch directory", "path", directory, "error", err)
		}
	}
	// Exclude rules live in an ignored directory; watch it so edits
	// reach the model. A repository created later is picked up by the
	// next rescan.
	watchExclude := func() {
		directory := model.ExcludeDirectory()
		if info, err := os.Stat(directory); err != nil || !info.IsDir() {
			return
		}
		if err := backend.Add(directory); err != nil {
			logger.Warn("cannot watch exclude rules", "path", directory, "error", err)
		}
	}
	watchExclude()

	track := func(result *fsmodel.ApplyResult) {
		for _, directory := range result.AddedDirectories {
			if err := backend.Add(directory); err != nil {
				logger.Warn("cannot watch directory", "path", directory, "error", err)
			}
		}
		for _, directory := range result.RemovedDirectories {
			if err := backend.Remove(directory); err != nil {
				logger.Debug("unwatching directory", "path", directory, "error", err)
			}
		}
		for _, err := range result.Errors {
			logger.Debug("skipped entry", "error", err)
		}
	}

	events, errs := backend.Events(), backend.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case batch, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					model.SetStale(errors.New("watch backend closed"))
					logger.Error("watch backend closed, tree is stale")
				}
				events, errs = nil, nil
				continue
			}
			result := model.Apply(batch)
			track(result)
			if result.Changed() {
				logger.Debug("tree updated",
					"events", len(batch),
					"created", len(result.Created),
					"updated", len(result.Updated),
					"removed", len(result.Removed),
					"moved", len(result.Moved),
				)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			var watchError *watch.WatchError
			switch {
			case errors.Is(err, watch.ErrOverflow):
				logger.Warn("watch events lost, rescanning")
				result := model.Rescan()
				track(result)
				// Adding a watched directory again is a no-op.
				for _, directory := range model.Snapshot().Directories() {
					backend.Add(directory)
				}
				watchExclude()
			case errors.As(err, &watchError):
				logger.Warn("watch error", "path", watchError.Path, "op", watchError.Op, "error", watchError.Err)
			default:
				model.SetStale(err)
				logger.Error("watch backend failed, tree is stale", "error", err)
			}
		}
	}
}

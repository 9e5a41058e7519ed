// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ThoseWhoHackTrees/agent-vis/agent"
	"github.com/ThoseWhoHackTrees/agent-vis/fsmodel"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/codec"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/compress"
)

// Frame is the merged read-only view for one render tick. Both
// snapshots are immutable and may lag each other by one publish.
type Frame struct {
	Tick       uint64
	ComposedAt time.Time

	// Model is nil when the composer has no tree.
	Model  *fsmodel.Snapshot
	Agents *agent.Snapshot

	Connection Connection
	Malformed  uint64
}

// ConnectionSource reports relay connection health. *Client
// implements it.
type ConnectionSource interface {
	Connection() Connection
	Malformed() uint64
}

// ComposerConfig configures a Composer. Registry is required.
type ComposerConfig struct {
	Tree     TreeSource
	Registry *agent.Registry

	// Connection is nil when running without a relay.
	Connection ConnectionSource

	Clock clock.Clock
}

// Composer builds Frames by loading the producers' published
// snapshots. It takes no producer lock and is safe from any goroutine.
type Composer struct {
	tree       TreeSource
	registry   *agent.Registry
	connection ConnectionSource
	clock      clock.Clock
	tick       atomic.Uint64
}

// NewComposer returns a composer over the given producers.
func NewComposer(config ComposerConfig) *Composer {
	if config.Registry == nil {
		panic("bridge.Composer: Registry is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Composer{
		tree:       config.Tree,
		registry:   config.Registry,
		connection: config.Connection,
		clock:      config.Clock,
	}
}

// Frame advances the tick counter and composes the frame for it.
func (c *Composer) Frame() Frame {
	return c.compose(c.tick.Add(1))
}

// Current composes a frame without advancing the tick counter, for
// readers outside the render loop.
func (c *Composer) Current() Frame {
	return c.compose(c.tick.Load())
}

func (c *Composer) compose(tick uint64) Frame {
	frame := Frame{
		Tick:       tick,
		ComposedAt: c.clock.Now(),
		Agents:     c.registry.Snapshot(),
	}
	if c.tree != nil {
		frame.Model = c.tree.Snapshot()
	}
	if c.connection != nil {
		frame.Connection = c.connection.Connection()
		frame.Malformed = c.connection.Malformed()
	} else {
		frame.Connection = Connection{State: StateDisconnected}
	}
	return frame
}

// FrameDocument is the serialized form of a Frame.
type FrameDocument struct {
	Tick       uint64    `json:"tick"`
	ComposedAt time.Time `json:"composed_at"`

	ModelVersion uint64          `json:"model_version"`
	Root         string          `json:"root,omitempty"`
	Stale        bool            `json:"stale,omitempty"`
	StaleReason  string          `json:"stale_reason,omitempty"`
	Nodes        []*fsmodel.Node `json:"nodes"`

	AgentsVersion uint64             `json:"agents_version"`
	Agents        []agent.Agent      `json:"agents"`
	Transitions   []agent.Transition `json:"transitions"`
	Hot           []agent.Hot        `json:"hot"`
	Counters      agent.Counters     `json:"counters"`

	Connection Connection `json:"connection"`
	LastError  string     `json:"last_error,omitempty"`
	Malformed  uint64     `json:"malformed"`
}

// Document flattens the frame for export. hot bounds the hottest-node
// list.
func (f Frame) Document(hot int) FrameDocument {
	document := FrameDocument{
		Tick:          f.Tick,
		ComposedAt:    f.ComposedAt,
		AgentsVersion: f.Agents.Version(),
		Agents:        f.Agents.Agents(),
		Transitions:   f.Agents.Transitions(),
		Hot:           f.Agents.TopHot(hot),
		Counters:      f.Agents.Counters(),
		Connection:    f.Connection,
		LastError:     f.Connection.LastError(),
		Malformed:     f.Malformed,
	}
	if f.Model != nil {
		document.ModelVersion = f.Model.Version()
		document.Root = f.Model.RootPath()
		document.Stale = f.Model.Stale()
		document.StaleReason = f.Model.StaleReason()
		document.Nodes = make([]*fsmodel.Node, 0, f.Model.Len())
		f.Model.Walk(func(node *fsmodel.Node) bool {
			document.Nodes = append(document.Nodes, node)
			return true
		})
	}
	return document
}

// FrameHandlerConfig configures FrameHandler.
type FrameHandlerConfig struct {
	Composer *Composer

	// Compression is applied when the request's Accept-Encoding lists
	// it.
	Compression compress.Algorithm

	// Hot bounds the hottest-node list. Defaults to 6.
	Hot int

	Logger *slog.Logger
}

// FrameHandler serves GET /frame: the current frame as JSON, or CBOR
// when the request accepts application/cbor or asks for ?format=cbor.
// ?hot=n overrides the hottest-node count.
func FrameHandler(config FrameHandlerConfig) http.Handler {
	if config.Composer == nil {
		panic("bridge.FrameHandler: Composer is required")
	}
	if config.Hot <= 0 {
		config.Hot = 6
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /frame", func(writer http.ResponseWriter, request *http.Request) {
		hot := config.Hot
		if value := request.URL.Query().Get("hot"); value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil || parsed < 0 {
				http.Error(writer, "hot must be a non-negative integer", http.StatusBadRequest)
				return
			}
			hot = parsed
		}
		document := config.Composer.Current().Document(hot)

		contentType := "application/json"
		var body []byte
		var err error
		if request.URL.Query().Get("format") == "cbor" || strings.Contains(request.Header.Get("Accept"), "application/cbor") {
			contentType = "application/cbor"
			body, err = codec.Marshal(document)
		} else {
			body, err = json.Marshal(document)
		}
		if err != nil {
			config.Logger.Error("encoding frame", "error", err)
			http.Error(writer, "encoding frame failed", http.StatusInternalServerError)
			return
		}

		algorithm := compress.Negotiate(config.Compression, request.Header.Get("Accept-Encoding"))
		body, err = compress.Encode(body, algorithm)
		if err != nil {
			config.Logger.Error("compressing frame", "algorithm", algorithm, "error", err)
			http.Error(writer, "compressing frame failed", http.StatusInternalServerError)
			return
		}

		header := writer.Header()
		header.Set("Content-Type", contentType)
		header.Set("Vary", "Accept, Accept-Encoding")
		if algorithm != compress.None {
			header.Set("Content-Encoding", algorithm.String())
		}
		header.Set("Content-Length", strconv.Itoa(len(body)))
		writer.Write(body)
	})
	return mux
}

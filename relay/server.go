// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/service"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/version"
)

// DefaultAddress is where the relay listens when no address is given.
const DefaultAddress = "127.0.0.1:8080"

// Config configures a Server.
type Config struct {
	// Address defaults to DefaultAddress.
	Address string

	// ClientBuffer is each viewer's outbound queue size. Defaults to
	// DefaultQueueSize.
	ClientBuffer int

	// ShutdownTimeout bounds graceful shutdown. Defaults to 5s.
	ShutdownTimeout time.Duration

	// WriteTimeout bounds one WebSocket frame write. Defaults to 5s.
	WriteTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Status is the body of GET /status.
type Status struct {
	Version             string `json:"version"`
	Clients             int    `json:"clients"`
	LastSequence        uint64 `json:"last_sequence"`
	Accepted            uint64 `json:"accepted"`
	Rejected            uint64 `json:"rejected"`
	OverflowDisconnects uint64 `json:"overflow_disconnects"`
}

// Server is the relay's HTTP surface: ingest endpoints, the viewer
// WebSocket, and health and status endpoints.
type Server struct {
	hub          *Hub
	logger       *slog.Logger
	writeTimeout time.Duration
	listener     *service.HTTPServer
	handler      http.Handler

	rejected  atomic.Uint64
	rejectLog rate.Sometimes
}

// New builds a relay. Call Serve to bind and run it, or mount Handler
// on an existing server.
func New(config Config) *Server {
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	server := &Server{
		hub: NewHub(HubConfig{
			QueueSize: config.ClientBuffer,
			Clock:     config.Clock,
			Logger:    config.Logger,
		}),
		logger:       config.Logger,
		writeTimeout: config.WriteTimeout,
		rejectLog:    rate.Sometimes{First: 10, Interval: 10 * time.Second},
	}

	mux := http.NewServeMux()
	for _, kind := range agentevent.Kinds() {
		mux.HandleFunc("POST "+kind.Path(), server.ingest(kind))
	}
	mux.HandleFunc("GET /ws", server.serveWebSocket)
	mux.HandleFunc("GET /healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /status", server.serveStatus)
	server.handler = mux

	server.listener = service.NewHTTPServer(service.HTTPServerConfig{
		Name:            "relay",
		Address:         config.Address,
		Handler:         mux,
		ShutdownTimeout: config.ShutdownTimeout,
		Logger:          config.Logger,
	})
	return server
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the fan-out hub.
func (s *Server) Hub() *Hub { return s.hub }

// Ready is closed once Serve has bound its listener.
func (s *Server) Ready() <-chan struct{} { return s.listener.Ready() }

// Addr is the bound address, valid after Ready closes.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve binds the configured address and serves until ctx is
// cancelled. Viewers are disconnected when ctx ends. A bind failure is
// returned immediately.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.hub.Close)
	defer stop()
	err := s.listener.Serve(ctx)
	s.hub.Close()
	return err
}

// Status reports the relay's counters.
func (s *Server) Status() Status {
	return Status{
		Version:             version.Info(),
		Clients:             s.hub.Clients(),
		LastSequence:        s.hub.LastSequence(),
		Accepted:            s.hub.Accepted(),
		Rejected:            s.rejected.Load(),
		OverflowDisconnects: s.hub.OverflowDisconnects(),
	}
}

func (s *Server) ingest(kind agentevent.Kind) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		body, err := io.ReadAll(io.LimitReader(request.Body, agentevent.MaxRequestBytes+1))
		var decoded agentevent.Request
		if err == nil {
			decoded, err = agentevent.DecodeRequest(kind, body)
		}
		if err != nil {
			rejection := &IngestionError{Kind: kind, Remote: request.RemoteAddr, Err: err}
			s.rejected.Add(1)
			s.rejectLog.Do(func() {
				s.logger.Warn("rejected agent event", "error", rejection, "rejected", s.rejected.Load())
			})
			http.Error(writer, rejection.Error(), http.StatusBadRequest)
			return
		}

		envelope, err := s.hub.Publish(decoded)
		if err != nil {
			s.logger.Error("publishing envelope", "kind", kind, "error", err)
			http.Error(writer, "internal error", http.StatusInternalServerError)
			return
		}
		s.logger.Debug("event accepted",
			"kind", kind,
			"session_id", envelope.SessionID,
			"sequence", envelope.Sequence,
		)
		writer.Write([]byte("OK"))
	}
}

func (s *Server) serveStatus(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(s.Status()); err != nil {
		s.logger.Debug("writing status", "error", err)
	}
}

// serveWebSocket is the viewer's push channel. The handler goroutine is
// the viewer's writer: it drains the subscriber queue until the viewer
// goes away or the hub drops it.
func (s *Server) serveWebSocket(writer http.ResponseWriter, request *http.Request) {
	encoding, err := agentevent.ParseEncoding(request.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(writer, request, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", "remote", request.RemoteAddr, "error", err)
		return
	}

	member, err := s.hub.subscribe(encoding)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "relay shutting down")
		return
	}
	defer s.hub.unsubscribe(member)

	logger := s.logger.With("client_id", member.id, "remote", request.RemoteAddr, "encoding", encoding)
	logger.Info("viewer connected", "clients", s.hub.Clients())

	messageType := websocket.MessageText
	if encoding == agentevent.EncodingCBOR {
		messageType = websocket.MessageBinary
	}

	// Viewers never send; CloseRead discards input and cancels ctx
	// when the connection ends.
	ctx := conn.CloseRead(request.Context())
	for {
		select {
		case <-ctx.Done():
			logger.Info("viewer disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-member.done:
			reason := member.err()
			var overflow *OverflowError
			if errors.As(reason, &overflow) {
				conn.Close(websocket.StatusPolicyViolation, "outbound queue overflow")
			} else {
				conn.Close(websocket.StatusGoingAway, "relay shutting down")
			}
			logger.Info("viewer dropped", "reason", reason)
			return
		case frame := <-member.queue:
			// Once dropped, the close frame goes out instead of the rest
			// of the queue.
			if member.err() != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := conn.Write(writeCtx, messageType, frame)
			cancel()
			if err != nil {
				logger.Info("viewer write failed", "error", err)
				return
			}
		}
	}
}

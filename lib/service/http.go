// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package service holds the HTTP listener lifecycle shared by the
// relay and the viewer's frame export endpoint.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPServer binds a TCP listener, serves one handler on it, and
// shuts down gracefully when its context ends.
type HTTPServer struct {
	name            string
	address         string
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration

	// ready is closed once the listener is bound; addr is valid from
	// then on.
	ready chan struct{}
	addr  net.Addr
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Name labels the server's log records. Defaults to "http".
	Name string

	// Address is the TCP listen address, e.g. "127.0.0.1:8080".
	// Required.
	Address string

	// Handler serves every request. Required.
	Handler http.Handler

	// ShutdownTimeout bounds the wait for in-flight requests. Defaults
	// to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// NewHTTPServer returns an unbound server. Missing required fields are
// programming errors and panic.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	switch {
	case config.Address == "":
		panic("service.HTTPServer: Address is required")
	case config.Handler == nil:
		panic("service.HTTPServer: Handler is required")
	case config.Logger == nil:
		panic("service.HTTPServer: Logger is required")
	}
	if config.Name == "" {
		config.Name = "http"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &HTTPServer{
		name:            config.Name,
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: config.ShutdownTimeout,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address, valid after Ready closes. With port 0 it
// carries the port the kernel picked.
func (s *HTTPServer) Addr() net.Addr { return s.addr }

// Serve binds and serves until ctx is done. Every request context
// derives from ctx, so long-lived handlers such as WebSocket writers
// see the cancellation and return before the shutdown deadline. A bind
// failure is returned immediately.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("%s: listening on %s: %w", s.name, s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)
	logger := s.logger.With("server", s.name, "address", s.addr.String())

	server := &http.Server{
		Handler: s.handler,
		// No read or write timeout: WebSocket connections are hijacked
		// and last as long as the viewer does.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}

	failed := make(chan error, 1)
	go func() { failed <- server.Serve(listener) }()
	logger.Info("listening")

	select {
	case err := <-failed:
		// Serve only returns on its own after an accept failure.
		return fmt.Errorf("%s: serving: %w", s.name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
		logger.Warn("requests still running at shutdown deadline", "timeout", s.shutdownTimeout)
		return fmt.Errorf("%s: shutdown: %w", s.name, err)
	}
	logger.Info("stopped")
	return nil
}

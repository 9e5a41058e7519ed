// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/testutil"
	"github.com/ThoseWhoHackTrees/agent-vis/relay"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runningRelay is a relay serving on a real listener.
type runningRelay struct {
	server   *relay.Server
	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

func startRelay(t *testing.T, address string) *runningRelay {
	t.Helper()
	server := relay.New(relay.Config{Address: address, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	running := &runningRelay{server: server, cancel: cancel, done: make(chan error, 1)}
	go func() { running.done <- server.Serve(ctx) }()
	select {
	case <-server.Ready():
	case err := <-running.done:
		cancel()
		t.Fatalf("relay on %s did not start: %v", address, err)
	case <-t.Context().Done():
		cancel()
		t.Fatal("relay did not become ready before test deadline")
	}
	t.Cleanup(running.stop)
	return running
}

func (r *runningRelay) stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		<-r.done
	})
}

func (r *runningRelay) url() string {
	return "ws://" + r.server.Addr().String() + "/ws"
}

func (r *runningRelay) post(t *testing.T, kind agentevent.Kind, body string) {
	t.Helper()
	response, err := http.Post("http://"+r.server.Addr().String()+kind.Path(), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", kind.Path(), err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("POST %s = %d", kind.Path(), response.StatusCode)
	}
}

func readBody(sessionID, path string) string {
	return `{"session_id":"` + sessionID + `","tool_name":"Read","tool_input":{"file_path":"` + path + `"}}`
}

func startClient(t *testing.T, config ClientConfig) (*Client, chan agentevent.Envelope) {
	t.Helper()
	if config.Logger == nil {
		config.Logger = quietLogger()
	}
	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	out := make(chan agentevent.Envelope, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, out) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
	})
	return client, out
}

func TestClientReconnectsWithoutReplay(t *testing.T) {
	t.Parallel()

	first := startRelay(t, "127.0.0.1:0")
	address := first.server.Addr().String()
	fakeClock := clock.Fake(epoch)
	client, out := startClient(t, ClientConfig{
		URL:            first.url(),
		BackoffInitial: 500 * time.Millisecond,
		Clock:          fakeClock,
	})

	testutil.WaitFor(t, 5*time.Second, func() bool { return first.server.Hub().Clients() == 1 }, "client never connected")
	if state := client.Connection().State; state != StateConnected {
		t.Fatalf("state = %s, want connected", state)
	}
	first.post(t, agentevent.KindRead, readBody("a1", "/before"))
	before := testutil.RequireReceive(t, out, 5*time.Second, "event before outage")
	if before.Sequence != 1 || before.SessionID != "a1" {
		t.Fatalf("first envelope = %+v", before)
	}

	// The relay goes away. The client notices and waits on its backoff.
	first.stop()
	fakeClock.WaitForTimers(1)
	connection := client.Connection()
	if connection.State != StateDisconnected || connection.Backoff != 500*time.Millisecond {
		t.Fatalf("connection during outage = %+v", connection)
	}
	var connectionError *ConnectionError
	if !errors.As(connection.Err, &connectionError) {
		t.Fatalf("connection error = %v, want *ConnectionError", connection.Err)
	}

	// A new relay on the same address receives an event nobody sees.
	second := startRelay(t, address)
	second.post(t, agentevent.KindRead, readBody("a1", "/during"))

	fakeClock.Advance(500 * time.Millisecond)
	testutil.WaitFor(t, 5*time.Second, func() bool { return second.server.Hub().Clients() == 1 }, "client never reconnected")
	second.post(t, agentevent.KindRead, readBody("a1", "/after"))

	after := testutil.RequireReceive(t, out, 5*time.Second, "event after reconnect")
	toolUse, err := after.ToolUse()
	if err != nil {
		t.Fatal(err)
	}
	if toolUse.ToolInput.FilePath != "/after" {
		t.Errorf("first envelope after reconnect is for %s, want /after (no replay)", toolUse.ToolInput.FilePath)
	}
	select {
	case extra := <-out:
		t.Errorf("unexpected extra envelope %+v", extra)
	default:
	}
	connection = client.Connection()
	if connection.State != StateConnected || connection.Err != nil || connection.Attempts != 2 {
		t.Errorf("connection after reconnect = %+v", connection)
	}
	if client.Received() != 2 {
		t.Errorf("received = %d, want 2", client.Received())
	}
}

func TestClientBackoffDoublesToCap(t *testing.T) {
	t.Parallel()

	// Reserve a port, then free it so every dial is refused.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	address := listener.Addr().String()
	listener.Close()

	fakeClock := clock.Fake(epoch)
	client, _ := startClient(t, ClientConfig{
		URL:            "ws://" + address + "/ws",
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     2 * time.Second,
		Clock:          fakeClock,
	})

	for attempt, want := range []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		2 * time.Second,
	} {
		fakeClock.WaitForTimers(1)
		connection := client.Connection()
		if connection.State != StateDisconnected {
			t.Fatalf("attempt %d: state = %s", attempt+1, connection.State)
		}
		if connection.Backoff != want {
			t.Errorf("attempt %d: backoff = %v, want %v", attempt+1, connection.Backoff, want)
		}
		if connection.Attempts != uint64(attempt+1) {
			t.Errorf("attempt %d: attempts = %d", attempt+1, connection.Attempts)
		}
		if connection.LastError() == "" {
			t.Errorf("attempt %d: no error surfaced", attempt+1)
		}
		fakeClock.Advance(want)
	}
}

func TestClientDropsMalformedFrames(t *testing.T) {
	t.Parallel()

	valid, err := agentevent.Envelope{
		Sequence:   7,
		ReceivedAt: epoch,
		Kind:       agentevent.KindSessionEnd,
		SessionID:  "a1",
		Payload:    []byte(`{"session_id":"a1"}`),
	}.Encode(agentevent.EncodingJSON)
	if err != nil {
		t.Fatal(err)
	}
	zeroSequence := strings.Replace(string(valid), `"sequence":7`, `"sequence":0`, 1)

	testServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := websocket.Accept(writer, request, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := request.Context()
		conn.Write(ctx, websocket.MessageText, []byte("not json"))
		conn.Write(ctx, websocket.MessageText, []byte(zeroSequence))
		conn.Write(ctx, websocket.MessageBinary, valid)
		conn.Write(ctx, websocket.MessageText, valid)
		<-conn.CloseRead(ctx).Done()
	}))
	t.Cleanup(testServer.Close)

	client, out := startClient(t, ClientConfig{
		URL:   "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws",
		Clock: clock.Fake(epoch),
	})

	envelope := testutil.RequireReceive(t, out, 5*time.Second, "valid envelope")
	if envelope.Sequence != 7 || envelope.Kind != agentevent.KindSessionEnd {
		t.Errorf("envelope = %+v", envelope)
	}
	testutil.WaitFor(t, 5*time.Second, func() bool { return client.Malformed() == 3 }, "malformed frames not counted")
	if client.Received() != 1 {
		t.Errorf("received = %d, want 1", client.Received())
	}
}

func TestNewClientValidatesURL(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "http://127.0.0.1:8080/ws", "://nope"} {
		if _, err := NewClient(ClientConfig{URL: bad}); err == nil {
			t.Errorf("NewClient(%q) succeeded", bad)
		}
	}
	client, err := NewClient(ClientConfig{URL: "ws://127.0.0.1:8080/ws", Encoding: agentevent.EncodingCBOR})
	if err != nil {
		t.Fatal(err)
	}
	if connection := client.Connection(); connection.URL != "ws://127.0.0.1:8080/ws?encoding=cbor" || connection.State != StateDisconnected {
		t.Errorf("connection = %+v", connection)
	}
}

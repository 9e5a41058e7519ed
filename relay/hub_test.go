// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readRequest(t *testing.T, sessionID, path string) agentevent.Request {
	t.Helper()
	body := `{"session_id":"` + sessionID + `","tool_name":"Read","tool_input":{"file_path":"` + path + `"}}`
	request, err := agentevent.DecodeRequest(agentevent.KindRead, []byte(body))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	return request
}

func mustSubscribe(t *testing.T, hub *Hub, encoding agentevent.Encoding) *subscriber {
	t.Helper()
	member, err := hub.subscribe(encoding)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return member
}

func TestHubStampsAndFansOut(t *testing.T) {
	t.Parallel()

	fakeClock := clock.Fake(epoch)
	hub := NewHub(HubConfig{Clock: fakeClock, Logger: quietLogger()})
	text := mustSubscribe(t, hub, agentevent.EncodingJSON)
	binary := mustSubscribe(t, hub, agentevent.EncodingCBOR)

	for index := range 3 {
		envelope, err := hub.Publish(readRequest(t, "a1", "/f"))
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if envelope.Sequence != uint64(index+1) {
			t.Errorf("sequence = %d, want %d", envelope.Sequence, index+1)
		}
		fakeClock.Advance(time.Second)
	}

	for _, member := range []*subscriber{text, binary} {
		if len(member.queue) != 3 {
			t.Fatalf("%s subscriber queued %d frames, want 3", member.encoding, len(member.queue))
		}
		for index := range 3 {
			envelope, err := agentevent.Decode(<-member.queue, member.encoding)
			if err != nil {
				t.Fatalf("%s frame %d: %v", member.encoding, index, err)
			}
			if envelope.Sequence != uint64(index+1) {
				t.Errorf("%s frame %d has sequence %d", member.encoding, index, envelope.Sequence)
			}
			if want := epoch.Add(time.Duration(index) * time.Second); !envelope.ReceivedAt.Equal(want) {
				t.Errorf("%s frame %d received at %v, want %v", member.encoding, index, envelope.ReceivedAt, want)
			}
			if envelope.Kind != agentevent.KindRead || envelope.SessionID != "a1" {
				t.Errorf("%s frame %d = %s/%s", member.encoding, index, envelope.Kind, envelope.SessionID)
			}
		}
	}
	if hub.LastSequence() != 3 || hub.Accepted() != 3 {
		t.Errorf("last sequence %d accepted %d, want 3 and 3", hub.LastSequence(), hub.Accepted())
	}
}

func TestHubPublishWithoutClients(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{Logger: quietLogger()})
	if _, err := hub.Publish(readRequest(t, "a1", "/f")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if hub.LastSequence() != 1 || hub.Clients() != 0 {
		t.Errorf("last sequence %d clients %d", hub.LastSequence(), hub.Clients())
	}
}

func TestHubDropsStalledSubscriberOnly(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{QueueSize: 4, Logger: quietLogger()})
	stalled := mustSubscribe(t, hub, agentevent.EncodingJSON)
	healthy := mustSubscribe(t, hub, agentevent.EncodingJSON)

	var received []uint64
	for range 10 {
		if _, err := hub.Publish(readRequest(t, "a1", "/f")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		envelope, err := agentevent.Decode(<-healthy.queue, agentevent.EncodingJSON)
		if err != nil {
			t.Fatal(err)
		}
		received = append(received, envelope.Sequence)
	}

	select {
	case <-stalled.done:
	default:
		t.Fatal("stalled subscriber was not dropped")
	}
	var overflow *OverflowError
	if !errors.As(stalled.err(), &overflow) || overflow.Capacity != 4 || overflow.ClientID != stalled.id {
		t.Errorf("drop reason = %v, want OverflowError for %s", stalled.err(), stalled.id)
	}
	if healthy.err() != nil {
		t.Errorf("healthy subscriber failed: %v", healthy.err())
	}
	if hub.Clients() != 1 || hub.OverflowDisconnects() != 1 {
		t.Errorf("clients %d overflow disconnects %d, want 1 and 1", hub.Clients(), hub.OverflowDisconnects())
	}
	for index, sequence := range received {
		if sequence != uint64(index+1) {
			t.Fatalf("healthy subscriber received %v, want 1..10 in order", received)
		}
	}
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{Logger: quietLogger()})
	member := mustSubscribe(t, hub, agentevent.EncodingJSON)
	hub.Close()
	hub.Close()

	if !errors.Is(member.err(), ErrClosed) {
		t.Errorf("subscriber reason = %v, want ErrClosed", member.err())
	}
	if hub.Clients() != 0 {
		t.Errorf("clients = %d after close", hub.Clients())
	}
	if _, err := hub.subscribe(agentevent.EncodingJSON); !errors.Is(err, ErrClosed) {
		t.Errorf("subscribe after close = %v, want ErrClosed", err)
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{Logger: quietLogger()})
	first := mustSubscribe(t, hub, agentevent.EncodingJSON)
	second := mustSubscribe(t, hub, agentevent.EncodingCBOR)
	hub.unsubscribe(first)
	hub.unsubscribe(first)
	if hub.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", hub.Clients())
	}
	if _, err := hub.Publish(readRequest(t, "a1", "/f")); err != nil {
		t.Fatal(err)
	}
	if len(first.queue) != 0 || len(second.queue) != 1 {
		t.Errorf("queues = %d and %d, want 0 and 1", len(first.queue), len(second.queue))
	}
}

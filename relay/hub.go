// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
)

// DefaultQueueSize is the per-viewer outbound queue capacity.
const DefaultQueueSize = 256

// HubConfig configures a Hub.
type HubConfig struct {
	// QueueSize is each subscriber's outbound capacity in frames.
	// Defaults to DefaultQueueSize.
	QueueSize int

	// Clock stamps ReceivedAt. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Hub stamps envelopes and fans them out to subscribers. Safe for
// concurrent use.
type Hub struct {
	clock     clock.Clock
	logger    *slog.Logger
	queueSize int

	// membership guards changes to members and closed. Broadcast
	// loads members without it.
	membership sync.Mutex
	members    atomic.Pointer[[]*subscriber]
	closed     bool

	// sequencer serializes stamping and enqueueing. It is never held
	// across I/O.
	sequencer sync.Mutex
	sequence  atomic.Uint64

	accepted  atomic.Uint64
	overflows atomic.Uint64

	overflowLog rate.Sometimes
}

// NewHub returns a hub with no subscribers.
func NewHub(config HubConfig) *Hub {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hub := &Hub{
		clock:       config.Clock,
		logger:      config.Logger,
		queueSize:   config.QueueSize,
		overflowLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	empty := []*subscriber{}
	hub.members.Store(&empty)
	return hub
}

// subscriber is one viewer's outbound queue. The queue is drained by
// the viewer's writer goroutine; done closes when the hub drops it.
type subscriber struct {
	id       string
	encoding agentevent.Encoding
	queue    chan []byte

	done      chan struct{}
	closeOnce sync.Once
	reason    error
}

func (s *subscriber) offer(frame []byte) bool {
	select {
	case s.queue <- frame:
		return true
	default:
		return false
	}
}

// fail records why the subscriber was dropped and wakes its writer.
func (s *subscriber) fail(reason error) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

// err is only meaningful after done has closed.
func (s *subscriber) err() error {
	select {
	case <-s.done:
		return s.reason
	default:
		return nil
	}
}

// Publish stamps request with the next sequence number and offers it to
// every current subscriber. It never blocks on a subscriber.
func (h *Hub) Publish(request agentevent.Request) (agentevent.Envelope, error) {
	h.sequencer.Lock()
	defer h.sequencer.Unlock()

	envelope := agentevent.Envelope{
		Sequence:   h.sequence.Load() + 1,
		ReceivedAt: h.clock.Now().UTC(),
		Kind:       request.Kind,
		SessionID:  request.SessionID,
		Payload:    request.Payload,
	}

	members := *h.members.Load()
	frames := make(map[agentevent.Encoding][]byte, 2)
	for _, member := range members {
		if _, ok := frames[member.encoding]; ok {
			continue
		}
		frame, err := envelope.Encode(member.encoding)
		if err != nil {
			return agentevent.Envelope{}, fmt.Errorf("encoding envelope as %s: %w", member.encoding, err)
		}
		frames[member.encoding] = frame
	}

	h.sequence.Store(envelope.Sequence)
	h.accepted.Add(1)
	for _, member := range members {
		if !member.offer(frames[member.encoding]) {
			h.overflow(member)
		}
	}
	return envelope, nil
}

func (h *Hub) overflow(member *subscriber) {
	member.fail(&OverflowError{ClientID: member.id, Capacity: h.queueSize})
	h.unsubscribe(member)
	h.overflows.Add(1)
	h.overflowLog.Do(func() {
		h.logger.Warn("disconnecting slow viewer",
			"client_id", member.id,
			"queue_size", h.queueSize,
			"overflow_disconnects", h.overflows.Load(),
		)
	})
}

func (h *Hub) subscribe(encoding agentevent.Encoding) (*subscriber, error) {
	member := &subscriber{
		id:       uuid.NewString(),
		encoding: encoding,
		queue:    make(chan []byte, h.queueSize),
		done:     make(chan struct{}),
	}

	h.membership.Lock()
	defer h.membership.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	current := *h.members.Load()
	next := make([]*subscriber, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, member)
	h.members.Store(&next)
	return member, nil
}

func (h *Hub) unsubscribe(member *subscriber) {
	h.membership.Lock()
	defer h.membership.Unlock()
	current := *h.members.Load()
	index := slices.Index(current, member)
	if index < 0 {
		return
	}
	next := slices.Delete(slices.Clone(current), index, index+1)
	h.members.Store(&next)
}

// Close drops every subscriber with ErrClosed and refuses new ones.
// Publish keeps stamping sequences after Close.
func (h *Hub) Close() {
	h.membership.Lock()
	defer h.membership.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, member := range *h.members.Load() {
		member.fail(ErrClosed)
	}
	empty := []*subscriber{}
	h.members.Store(&empty)
}

// Clients is the number of connected subscribers.
func (h *Hub) Clients() int { return len(*h.members.Load()) }

// LastSequence is the sequence of the most recently published envelope,
// or zero.
func (h *Hub) LastSequence() uint64 { return h.sequence.Load() }

// Accepted counts published envelopes.
func (h *Hub) Accepted() uint64 { return h.accepted.Load() }

// OverflowDisconnects counts subscribers dropped for a full queue.
func (h *Hub) OverflowDisconnects() uint64 { return h.overflows.Load() }

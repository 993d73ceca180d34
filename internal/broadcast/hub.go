// Package broadcast provides multi-listener message channels. Every endpoint
// joined to a channel receives every message published by the other
// endpoints of that channel; an endpoint never receives its own messages.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
)

// endpointBuffer is the per-endpoint queue length. Messages for an endpoint
// whose queue is full are dropped.
const endpointBuffer = 256

// ErrClosed is returned when publishing through a closed endpoint.
var ErrClosed = errors.New("broadcast: endpoint closed")

// Transport is one endpoint's view of a broadcast channel.
type Transport interface {
	// ID identifies the endpoint within its channel.
	ID() string
	// Publish delivers data to every other endpoint of the channel.
	Publish(ctx context.Context, data []byte) error
	// Messages yields data published by other endpoints. It is closed by Close.
	Messages() <-chan []byte
	Close() error
}

// Hub holds in-memory broadcast channels keyed by channel id.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Endpoint
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[string]*Endpoint),
	}
}

// Join adds a new endpoint with a random id to the channel.
func (h *Hub) Join(channelID string) *Endpoint {
	return h.JoinWithID(channelID, uuid.NewString())
}

// JoinWithID adds an endpoint with the given id. An existing endpoint with
// the same id is closed and replaced.
func (h *Hub) JoinWithID(channelID, endpointID string) *Endpoint {
	e := &Endpoint{
		hub:     h,
		channel: channelID,
		id:      endpointID,
		ch:      make(chan []byte, endpointBuffer),
	}

	h.mu.Lock()
	endpoints, ok := h.channels[channelID]
	if !ok {
		endpoints = make(map[string]*Endpoint)
		h.channels[channelID] = endpoints
	}
	old := endpoints[endpointID]
	if old != nil {
		old.detachLocked()
	}
	endpoints[endpointID] = e
	h.mu.Unlock()

	if old == nil {
		metrics.AddBroadcastEndpoints(1)
	}
	return e
}

// Count returns the number of endpoints joined to a channel.
func (h *Hub) Count(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelID])
}

// publish delivers data to every endpoint of the channel except senderID.
// Non-blocking: drops messages for slow endpoints.
func (h *Hub) publish(channelID, senderID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, e := range h.channels[channelID] {
		if id == senderID {
			continue
		}
		select {
		case e.ch <- data:
		default:
			metrics.RecordBroadcast("dropped")
			logging.Warn("broadcast message dropped for slow endpoint",
				zap.String("channel", channelID),
				zap.String("endpoint", id))
		}
	}
	metrics.RecordBroadcast("published")
}

// PublishAs publishes data on behalf of senderID, which need not be joined.
func (h *Hub) PublishAs(channelID, senderID string, data []byte) {
	h.publish(channelID, senderID, data)
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	endpoints := h.channels[e.channel]
	if endpoints[e.id] != e {
		return
	}
	e.detachLocked()
	delete(endpoints, e.id)
	if len(endpoints) == 0 {
		delete(h.channels, e.channel)
	}
	metrics.AddBroadcastEndpoints(-1)
}

// Endpoint is an in-memory Transport joined to a Hub channel.
type Endpoint struct {
	hub     *Hub
	channel string
	id      string
	ch      chan []byte

	closed bool // guarded by hub.mu
}

var _ Transport = (*Endpoint)(nil)

// ID returns the endpoint id.
func (e *Endpoint) ID() string { return e.id }

// Channel returns the channel id the endpoint is joined to.
func (e *Endpoint) Channel() string { return e.channel }

// Publish delivers data to every other endpoint of the channel.
func (e *Endpoint) Publish(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.hub.mu.RLock()
	closed := e.closed
	e.hub.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	e.hub.publish(e.channel, e.id, data)
	return nil
}

// Messages yields data published by other endpoints.
func (e *Endpoint) Messages() <-chan []byte { return e.ch }

// Close leaves the channel and closes Messages.
func (e *Endpoint) Close() error {
	e.hub.leave(e)
	return nil
}

// detachLocked closes the queue once. Caller holds hub.mu for writing.
func (e *Endpoint) detachLocked() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}

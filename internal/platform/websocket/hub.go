// Package websocket carries the realtime transport: a channel router (Hub)
// that tracks which connections belong to which broadcast groups, the
// gateway that turns inbound frames into domain calls, and the gorilla
// read/write pumps.
package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/realtime"
)

var (
	ErrConnNotFound = errors.New("connection is not attached to this instance")
	ErrBufferFull   = errors.New("connection send buffer is full")
)

// Hub routes frames to channels and single connections. All operations are
// safe for concurrent use; sends never block, a full buffer drops the frame.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	clients  map[string]*Client
	metrics  *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		clients:  make(map[string]*Client),
		metrics:  m,
	}
}

// Register attaches a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister detaches a client from every channel and closes its Send
// channel. Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.ID]; !ok || cur != c {
		return
	}
	for ch := range c.channels {
		h.removeLocked(c, ch)
	}
	delete(h.clients, c.ID)
	close(c.Send)
}

// Join subscribes c to channel. Repeated joins are no-ops.
func (h *Hub) Join(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}
	c.channels[channel] = struct{}{}
}

// Leave unsubscribes c from channel; a no-op when not subscribed.
func (h *Hub) Leave(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, channel)
}

func (h *Hub) removeLocked(c *Client, channel string) {
	if members, ok := h.channels[channel]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(c.channels, channel)
}

// IsMember reports whether c is subscribed to channel.
func (h *Hub) IsMember(c *Client, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][c]
	return ok
}

// ChannelsOf returns the channels c is subscribed to, sorted.
func (h *Hub) ChannelsOf(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// HasConn reports whether connID is attached to this hub.
func (h *Hub) HasConn(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connID]
	return ok
}

// Deliver writes an encoded frame to the target and returns how many
// connections accepted it. A direct target that is not attached here yields
// ErrConnNotFound; one whose buffer is full yields ErrBufferFull.
func (h *Hub) Deliver(to realtime.Target, frame []byte) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if to.ConnID != "" {
		c, ok := h.clients[to.ConnID]
		if !ok {
			return 0, ErrConnNotFound
		}
		if !h.push(c, frame) {
			return 0, ErrBufferFull
		}
		return 1, nil
	}

	delivered := 0
	for c := range h.channels[to.Channel] {
		if c.ID == to.Except {
			continue
		}
		if h.push(c, frame) {
			delivered++
		}
	}
	return delivered, nil
}

func (h *Hub) push(c *Client, frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		h.metrics.FrameDropped()
		return false
	}
}

// Emit implements realtime.Notifier for single-instance deployments.
func (h *Hub) Emit(_ context.Context, to realtime.Target, event string, payload interface{}) error {
	frame, err := realtime.Encode(event, payload)
	if err != nil {
		return err
	}
	_, err = h.Deliver(to, frame)
	if err == nil {
		h.metrics.Emission(event, targetKind(to))
	}
	return err
}

func targetKind(to realtime.Target) string {
	if to.ConnID != "" {
		return "conn"
	}
	return "channel"
}

// ClientCount returns the number of attached connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ChannelCount returns the number of connections subscribed to channel.
func (h *Hub) ChannelCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// snapshot returns the attached clients.
func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

package sse

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event names pushed over the stream.
const (
	EventConnected      = "connected"
	EventArrivalUpdated = "arrival_updated"
	EventMessageCreated = "message_created"
)

// KeepAliveFrame is the no-op comment written periodically to keep idle
// connections from being reaped by proxies.
var KeepAliveFrame = []byte(":heartbeat\n\n")

// clientBuffer is the per-connection frame backlog. A subscriber that
// falls this far behind is treated as dead and dropped.
const clientBuffer = 16

type client struct {
	id       string
	deviceID string // optional filter set at subscribe time
	frames   chan []byte
}

// Hub fans broadcast events out to all connected push subscribers. It
// is an explicitly owned registry: created at server start, injected
// into the subscribe handler and every broadcasting service, torn down
// at shutdown. There are no package-level singletons.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	log     zerolog.Logger
}

// NewHub creates an empty registry.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		log:     log.With().Str("component", "sse").Logger(),
	}
}

// Subscribe registers a new connection and returns its id together with
// the channel of pre-framed events to write to the transport. The
// caller owns the transport loop and must call Unsubscribe when it
// ends; the channel is closed by the hub on removal.
func (h *Hub) Subscribe(deviceID string) (string, <-chan []byte) {
	c := &client{
		id:       uuid.NewString(),
		deviceID: deviceID,
		frames:   make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.frames)
		return c.id, c.frames
	}
	h.clients[c.id] = c
	h.log.Debug().Str("client", c.id).Int("total", len(h.clients)).Msg("subscriber attached")
	return c.id, c.frames
}

// Unsubscribe removes a connection and closes its frame channel. Safe
// to call more than once; only the first call for an id has effect.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast serializes payload and delivers one framed event to every
// connected subscriber. Delivery is best effort and fire-and-forget: a
// subscriber whose backlog is full is deregistered on the spot, without
// affecting delivery to the rest, and nothing is replayed to
// later-connecting subscribers.
func (h *Hub) Broadcast(event string, payload any) {
	h.send(event, payload, func(*client) bool { return true })
}

// BroadcastDevice delivers only to subscribers that attached with a
// matching deviceId filter, plus unfiltered subscribers.
func (h *Hub) BroadcastDevice(deviceID, event string, payload any) {
	h.send(event, payload, func(c *client) bool {
		return c.deviceID == "" || c.deviceID == deviceID
	})
}

// Close drops every connection. Used at server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.clients {
		h.removeLocked(id)
	}
}

func (h *Hub) send(event string, payload any, match func(*client) bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("broadcast payload not serializable")
		return
	}
	frame := FormatEvent(event, data)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.frames <- frame:
		default:
			// Backlog full: the transport stopped draining, treat
			// as a disconnect.
			h.log.Warn().Str("client", id).Str("event", event).Msg("dropping stalled subscriber")
			h.removeLocked(id)
		}
	}
}

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(id string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.frames)
	h.log.Debug().Str("client", id).Int("total", len(h.clients)).Msg("subscriber detached")
}

// FormatEvent renders one SSE frame: "event: <name>\ndata: <json>\n\n".
func FormatEvent(name string, data []byte) []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", name, data))
}

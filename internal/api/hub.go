package api

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/simpit-core/internal/infrastructure/logging"
)

// Hub fans events out to WebSocket clients by channel.
//
// Broadcast never blocks. A client whose send buffer is full misses the
// event and the miss is counted in Dropped.
type Hub struct {
	logger *logging.Logger

	// mu guards clients and snapshots. A client's send channel is only
	// written or closed while mu is held.
	mu        sync.RWMutex
	clients   map[*WSClient]struct{}
	snapshots map[string]func() any

	dropped atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:    logger,
		clients:   make(map[*WSClient]struct{}),
		snapshots: make(map[string]func() any),
	}
}

// Run waits for ctx to end and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// SetSnapshot installs fn as the source of the state a client receives
// when it subscribes to channel.
func (h *Hub) SetSnapshot(channel string, fn func() any) {
	h.mu.Lock()
	h.snapshots[channel] = fn
	h.mu.Unlock()
}

// Register adds client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes client and closes its send channel. Later calls for
// the same client do nothing.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload as an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeMessage(WSTypeEvent, "", channel, payload)
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.isSubscribed(channel) {
			h.offer(c, data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were skipped for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// closeAll drops every client. Closing send lets each writePump exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// offer queues data without blocking. Callers hold h.mu.
func (h *Hub) offer(c *WSClient, data []byte) {
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
	}
}

// reply queues data for c if it is still registered.
func (h *Hub) reply(c *WSClient, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.offer(c, data)
	}
}

func (h *Hub) snapshot(channel string) func() any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshots[channel]
}

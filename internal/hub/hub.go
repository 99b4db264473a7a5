// Package hub fans out Formatted Lines to the local debug tap's
// connected clients, generalized from the teacher repo's CAN-frame
// broadcast hub to the string payload the debug tap (spec.md §6's
// PRINT_MSG toggle, expanded in SPEC_FULL.md §4.8) calls for.
package hub

import (
	"sync"

	"github.com/stellamotors/telemetry-agent/internal/logging"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
)

// BackpressurePolicy selects what happens when a client's buffer is full.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is one debug-tap subscriber: a buffered outbound channel of
// Formatted Lines plus a close-once signal the server's writer selects
// on to know the client has been evicted.
type Client struct {
	Out       chan string
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub tracks the set of currently connected debug-tap clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetDebugTapClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("debug_tap_clients_first_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetDebugTapClients(cur)
	if existed && cur == 0 {
		logging.L().Info("debug_tap_clients_last_disconnected")
	}
}

// Broadcast sends a Formatted Line to all connected clients, honoring
// the backpressure policy. This path is explicitly best-effort: a slow
// reader is dropped or kicked, never allowed to stall the caller.
func (h *Hub) Broadcast(line string) {
	clients := h.Snapshot()
	for _, c := range clients {
		select {
		case c.Out <- line:
		default:
			if h.Policy == PolicyKick {
				c.Close()
			} else {
				metrics.IncDebugTapDropped()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }

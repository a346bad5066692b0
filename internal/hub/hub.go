// Package hub fans CRSF frames received from the serial link out to every
// subscriber: TCP clients and the telemetry sinks.
package hub

import (
	"sync"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/logging"
	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// ParsePolicy maps "drop" / "kick" onto a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch s {
	case "drop":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

type Client struct {
	Out    chan crsf.Frame
	Closed chan struct{}
	// Name tags log lines ("tcp", "mqtt", "recorder", "ws").
	Name string
	// Accept optionally restricts which frames are queued for this client.
	Accept func(crsf.Frame) bool
	// NoKick keeps the client registered under PolicyKick; overflow only
	// drops frames. Internal sinks have nobody to reconnect them.
	NoKick    bool
	closeOnce sync.Once
}

// NewClient returns a client with an outbound queue of buf frames.
func NewClient(name string, buf int) *Client {
	if buf <= 0 {
		buf = 1
	}
	return &Client{Out: make(chan crsf.Frame, buf), Closed: make(chan struct{}), Name: name}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Subscribe registers an in-process consumer sized by OutBufSize. Such
// clients are never kicked.
func (h *Hub) Subscribe(name string, accept func(crsf.Frame) bool) *Client {
	c := NewClient(name, h.OutBufSize)
	c.Accept = accept
	c.NoKick = true
	h.Add(c)
	return c
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected", "client", c.Name)
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast sends a frame to all connected clients honoring the backpressure policy.
func (h *Hub) Broadcast(fr crsf.Frame) {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	if len(clients) > 0 {
		max := 0
		sum := 0
		for _, c := range clients {
			l := len(c.Out)
			if l > max {
				max = l
			}
			sum += l
		}
		metrics.SetQueueDepth(max, sum/len(clients))
	}
	for _, c := range clients {
		if c.Accept != nil && !c.Accept(fr) {
			continue
		}
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick && !c.NoKick {
				metrics.IncHubKick()
				logging.L().Warn("client_kicked", "client", c.Name, "queued", len(c.Out))
				c.Close() // the owner removes the client once its writer exits
			} else {
				metrics.IncHubDrop()
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

// TelemetryOnly accepts every frame except RC channels, which arrive at the
// channel rate and carry no telemetry.
func TelemetryOnly(fr crsf.Frame) bool { return fr.Type != crsf.TypeRCChannels }

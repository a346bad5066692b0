// Package webstream serves telemetry events to browsers over WebSocket.
package webstream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kstaniek/go-crsf-bridge/internal/hub"
	"github.com/kstaniek/go-crsf-bridge/internal/logging"
	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
	"github.com/kstaniek/go-crsf-bridge/internal/telemetry"
)

const (
	subscriberBuffer = 64
	writeWait        = 2 * time.Second
	pingInterval     = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Stream fans events out to every connected WebSocket. Slow sockets skip
// events rather than stalling the publisher.
type Stream struct {
	mu     sync.RWMutex
	subs   map[chan telemetry.Event]struct{}
	logger *slog.Logger
}

func New() *Stream {
	return &Stream{subs: make(map[chan telemetry.Event]struct{}), logger: logging.Component("ws")}
}

func (s *Stream) subscribe() (chan telemetry.Event, func()) {
	ch := make(chan telemetry.Event, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

// Clients returns the number of connected sockets.
func (s *Stream) Clients() int { s.mu.RLock(); defer s.mu.RUnlock(); return len(s.subs) }

// Publish offers ev to every socket.
func (s *Stream) Publish(ev telemetry.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run feeds the events of a hub client into the stream.
func (s *Stream) Run(ctx context.Context, cl *hub.Client) {
	telemetry.Pump(ctx, cl, nil, s.Publish)
}

// ServeHTTP upgrades the request and streams events as JSON text messages.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	ch, unsub := s.subscribe()
	defer unsub()
	s.logger.Info("ws_connected", "remote", r.RemoteAddr)
	defer s.logger.Info("ws_disconnected", "remote", r.RemoteAddr)

	// Reads only service control frames; any error means the peer is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				metrics.IncError(metrics.ErrWebSocketWrite)
				s.logger.Debug("ws_write_error", "error", err)
				return
			}
			metrics.IncSinkEvent("ws")
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/serial"
	"github.com/kstaniek/go-crsf-bridge/internal/transport"
)

// channelRepeater keeps the TX module fed with the latest channels frame.
// Clients rarely send at the module's frame rate, so the last frame is
// repeated every interval until it is older than hold; after that the
// module's own failsafe takes over.
type channelRepeater struct {
	sink     transport.FrameSink
	interval time.Duration
	hold     time.Duration
	now      func() time.Time
	l        *slog.Logger

	mu      sync.Mutex
	last    crsf.Frame
	updated time.Time
	active  bool
	repeats uint64
}

func newChannelRepeater(sink transport.FrameSink, interval, hold time.Duration, l *slog.Logger) *channelRepeater {
	return &channelRepeater{sink: sink, interval: interval, hold: hold, now: time.Now, l: l}
}

// Update stores fr as the current channels frame and writes it right away.
func (r *channelRepeater) Update(fr crsf.Frame) error {
	r.mu.Lock()
	r.last = fr
	r.updated = r.now()
	if !r.active {
		r.active = true
		r.l.Info("control_acquired")
	}
	r.mu.Unlock()
	return r.sink.SendFrame(fr)
}

// tick repeats the last frame if it is still fresh. It reports whether a
// frame was sent.
func (r *channelRepeater) tick() bool {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return false
	}
	if age := r.now().Sub(r.updated); age > r.hold {
		r.active = false
		r.l.Info("control_released", "idle", age, "repeats", r.repeats)
		r.repeats = 0
		r.mu.Unlock()
		return false
	}
	fr := r.last
	r.repeats++
	r.mu.Unlock()
	if err := r.sink.SendFrame(fr); err != nil && !errors.Is(err, serial.ErrTxOverflow) {
		r.l.Debug("channels_repeat_error", "error", err)
	}
	return true
}

// Active reports whether a client currently holds control.
func (r *channelRepeater) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *channelRepeater) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.tick()
		}
	}
}

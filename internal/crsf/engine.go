package crsf

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/logging"
)

// Transport is the byte-oriented duplex channel the engine is driven over.
type Transport interface {
	// Available reports how many bytes can be read without blocking.
	Available() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// ErrTransportWrite wraps transport write failures.
var ErrTransportWrite = errors.New("crsf: transport write")

// Snapshot is a copy of everything the engine has decoded so far. Updated
// holds the time each record type was last overwritten; a zero time means
// never received.
type Snapshot struct {
	LinkUp         bool
	LastReceive    time.Time
	LastChannels   time.Time
	Battery        Battery
	GPS            GPS
	Vario          Vario
	BaroAltitude   BaroAltitude
	Attitude       Attitude
	LinkStatistics LinkStatistics
	Channels       Channels
	Updated        map[byte]time.Time
}

// Engine ties the reassembler, dispatcher and link tracker together. It owns
// no goroutines and is not safe for concurrent use: one caller feeds bytes
// and polls.
type Engine struct {
	now     func() time.Time
	rx      *Reassembler
	link    *LinkTracker
	origins [256]bool
	logger  *slog.Logger

	rxTimeout time.Duration
	failsafe  time.Duration

	onFrame       func(Frame)
	onLink        func(up bool, at time.Time)
	onResync      func(ResyncCause)
	onDecodeError func(Frame, error)

	snap Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now; tests use it to drive timeouts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithReceiveTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.rxTimeout = d
		}
	}
}

func WithFailsafe(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.failsafe = d
		}
	}
}

// WithAcceptedOrigins replaces the set of source addresses the dispatcher
// accepts. The default is AddrRadioTransmitter only.
func WithAcceptedOrigins(addrs ...byte) Option {
	return func(e *Engine) {
		if len(addrs) == 0 {
			return
		}
		e.origins = [256]bool{}
		for _, a := range addrs {
			e.origins[a] = true
		}
	}
}

// WithFrameHandler observes every accepted frame after its record was
// updated, including unknown types.
func WithFrameHandler(fn func(Frame)) Option { return func(e *Engine) { e.onFrame = fn } }

// WithLinkHandler observes link transitions.
func WithLinkHandler(fn func(up bool, at time.Time)) Option {
	return func(e *Engine) { e.onLink = fn }
}

// WithResyncHandler observes every discard decision of the reassembler.
func WithResyncHandler(fn func(ResyncCause)) Option {
	return func(e *Engine) { e.onResync = fn }
}

// WithDecodeErrorHandler observes frames of a known type whose payload is too
// short for its record. Such frames are otherwise ignored.
func WithDecodeErrorHandler(fn func(Frame, error)) Option {
	return func(e *Engine) { e.onDecodeError = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine builds an engine in the link-down state.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:       time.Now,
		logger:    logging.L(),
		rxTimeout: DefaultReceiveTimeout,
		failsafe:  DefaultFailsafe,
	}
	e.origins[AddrRadioTransmitter] = true
	for _, o := range opts {
		o(e)
	}
	e.rx = NewReassembler(e.rxTimeout)
	e.rx.OnFrame = e.dispatch
	e.rx.OnResync = e.resync
	e.link = NewLinkTracker(e.failsafe)
	e.snap.Updated = make(map[byte]time.Time)
	return e
}

// Feed offers a batch of received bytes. All bytes share one timestamp.
func (e *Engine) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	now := e.now()
	for _, b := range p {
		e.feedByte(b, now)
	}
}

func (e *Engine) feedByte(b byte, now time.Time) {
	e.link.Touch(now)
	e.rx.Feed(b, now)
}

// Service drains every byte the transport has available, then polls.
func (e *Engine) Service(t Transport) error {
	for t.Available() > 0 {
		b, err := t.ReadByte()
		if err != nil {
			e.Poll()
			return err
		}
		e.feedByte(b, e.now())
	}
	e.Poll()
	return nil
}

// Poll runs the time-based transitions: stale buffer flush and fail-safe.
func (e *Engine) Poll() {
	now := e.now()
	e.rx.FlushIfStale(now)
	if e.link.Check(now) {
		e.logger.Info("link_down", "last_channels", e.link.LastChannels(), "failsafe", e.failsafe)
		if e.onLink != nil {
			e.onLink(false, now)
		}
	}
}

// Write sends an encoded frame over t.
func (e *Engine) Write(t Transport, frame []byte) error {
	n, err := t.Write(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportWrite, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: short write %d/%d", ErrTransportWrite, n, len(frame))
	}
	return nil
}

// SendChannels encodes and writes a channels frame.
func (e *Engine) SendChannels(t Transport, ch Channels) error {
	return e.Write(t, EncodeChannels(ch))
}

// SendCommand encodes and writes a settings-write frame.
func (e *Engine) SendCommand(t Transport, cmd Command, value byte) error {
	return e.Write(t, EncodeCommand(cmd, value))
}

func (e *Engine) dispatch(fr Frame) {
	if !e.origins[fr.Addr] {
		return
	}
	now := e.now()
	rec, ok, err := Decode(fr)
	if err != nil {
		e.logger.Debug("crsf_short_payload", "type", TypeName(fr.Type), "len", len(fr.Payload))
		if e.onDecodeError != nil {
			e.onDecodeError(fr, err)
		}
		return
	}
	if ok {
		switch v := rec.(type) {
		case Battery:
			e.snap.Battery = v
		case GPS:
			e.snap.GPS = v
		case Vario:
			e.snap.Vario = v
		case BaroAltitude:
			e.snap.BaroAltitude = v
		case Attitude:
			e.snap.Attitude = v
		case LinkStatistics:
			e.snap.LinkStatistics = v
		case Channels:
			e.snap.Channels = v
			if e.link.ChannelsReceived(now) {
				e.logger.Info("link_up")
				if e.onLink != nil {
					e.onLink(true, now)
				}
			}
		}
		e.snap.Updated[fr.Type] = now
	}
	if e.onFrame != nil {
		e.onFrame(fr)
	}
}

func (e *Engine) resync(c ResyncCause) {
	e.logger.Debug("crsf_resync", "cause", c.String(), "buffered", e.rx.Len())
	if e.onResync != nil {
		e.onResync(c)
	}
}

func (e *Engine) Battery() Battery               { return e.snap.Battery }
func (e *Engine) GPS() GPS                       { return e.snap.GPS }
func (e *Engine) Vario() Vario                   { return e.snap.Vario }
func (e *Engine) BaroAltitude() BaroAltitude     { return e.snap.BaroAltitude }
func (e *Engine) Attitude() Attitude             { return e.snap.Attitude }
func (e *Engine) LinkStatistics() LinkStatistics { return e.snap.LinkStatistics }
func (e *Engine) Channels() Channels             { return e.snap.Channels }
func (e *Engine) LinkUp() bool                   { return e.link.Up() }
func (e *Engine) Buffered() int                  { return e.rx.Len() }
func (e *Engine) Stats() ReassemblerStats        { return e.rx.Stats() }

// Snapshot returns a copy of the decoded state.
func (e *Engine) Snapshot() Snapshot {
	s := e.snap
	s.LinkUp = e.link.Up()
	s.LastReceive = e.link.LastReceive()
	s.LastChannels = e.link.LastChannels()
	s.Updated = make(map[byte]time.Time, len(e.snap.Updated))
	for k, v := range e.snap.Updated {
		s.Updated[k] = v
	}
	return s
}

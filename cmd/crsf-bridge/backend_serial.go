package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/hub"
	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
	"github.com/kstaniek/go-crsf-bridge/internal/serial"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = func(dev string, d serial.Driver, baud int, readTimeout time.Duration) (serial.Port, error) {
	return serial.OpenWith(d, dev, baud, readTimeout)
}

// serialBackend owns the UART: one goroutine reads and drives the protocol
// engine, the TX writer serializes everything going out.
type serialBackend struct {
	port   serial.Port
	tx     *serial.TXWriter
	engine *crsf.Engine
	rep    *channelRepeater
	l      *slog.Logger

	// onLink listeners run on the RX goroutine.
	onLink []func(up bool, at time.Time)

	status    atomic.Pointer[crsf.Snapshot]
	dirty     bool
	published time.Time
}

// initSerialBackend opens the port and builds the engine. The RX loop is
// started by run so listeners can be attached first.
func initSerialBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger) (*serialBackend, error) {
	drv, err := serial.ParseDriver(cfg.serialDriver)
	if err != nil {
		return nil, err
	}
	origins, err := parseOrigins(cfg.origins)
	if err != nil {
		return nil, err
	}
	dev := serial.ResolveDevice(cfg.serialDev)
	sp, err := openSerialPort(dev, drv, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", dev, "baud", cfg.baud, "driver", string(drv.Resolve(cfg.baud)))

	b := &serialBackend{port: sp, l: l}
	b.tx = serial.NewTXWriter(ctx, sp, txQueueSize)
	b.rep = newChannelRepeater(b.tx, cfg.frameInterval, cfg.controlHold, l)
	b.engine = crsf.NewEngine(
		crsf.WithReceiveTimeout(cfg.rxTimeout),
		crsf.WithFailsafe(cfg.failsafe),
		crsf.WithAcceptedOrigins(origins...),
		crsf.WithLogger(l),
		crsf.WithFrameHandler(func(fr crsf.Frame) {
			metrics.IncSerialRx(crsf.TypeName(fr.Type))
			b.dirty = true
			h.Broadcast(fr)
		}),
		crsf.WithLinkHandler(b.linkChanged),
		crsf.WithResyncHandler(func(c crsf.ResyncCause) { metrics.IncResync(c.String()) }),
		crsf.WithDecodeErrorHandler(func(fr crsf.Frame, err error) {
			metrics.IncDecodeShort()
			l.Debug("crsf_decode_error", "type", crsf.TypeName(fr.Type), "error", err)
		}),
	)
	b.publishStatus(time.Now())
	return b, nil
}

// addLinkListener must be called before run.
func (b *serialBackend) addLinkListener(fn func(up bool, at time.Time)) {
	b.onLink = append(b.onLink, fn)
}

// linkChanged fans a transition out; the engine has already logged it.
func (b *serialBackend) linkChanged(up bool, at time.Time) {
	metrics.SetLinkUp(up)
	b.dirty = true
	for _, fn := range b.onLink {
		fn(up, at)
	}
}

// send routes client frames: channel frames feed the repeater, everything
// else is written once.
func (b *serialBackend) send(fr crsf.Frame) error {
	if fr.Type == crsf.TypeRCChannels {
		return b.rep.Update(fr)
	}
	return b.tx.SendFrame(fr)
}

// sendStartupCommands writes the configured ELRS settings once.
func (b *serialBackend) sendStartupCommands(cfg *appConfig) {
	cmds := []struct {
		cmd crsf.Command
		v   int
	}{
		{crsf.CmdPacketRate, cfg.packetRate},
		{crsf.CmdPower, cfg.txPower},
		{crsf.CmdTelemRatio, cfg.telemRatio},
	}
	for _, c := range cmds {
		if c.v < 0 {
			continue
		}
		if err := b.tx.SendWire(crsf.EncodeCommand(c.cmd, byte(c.v))); err != nil {
			metrics.IncError(metrics.ErrStartupCommand)
			b.l.Warn("startup_command_error", "command", c.cmd.String(), "value", c.v, "error", err)
			continue
		}
		b.l.Info("startup_command", "command", c.cmd.String(), "value", c.v)
	}
}

// observe mirrors decoded records onto gauges and republishes the status
// snapshot, rate limited.
func (b *serialBackend) observe(now time.Time) {
	if !b.dirty || now.Sub(b.published) < snapshotEvery {
		return
	}
	ls := b.engine.LinkStatistics()
	metrics.SetLinkStats(int(ls.UplinkLinkQuality), ls.UplinkRSSIdBm(), int(ls.UplinkSNR))
	bat := b.engine.Battery()
	metrics.SetBattery(bat.Volts(), int(bat.Remaining))
	b.publishStatus(now)
}

func (b *serialBackend) publishStatus(now time.Time) {
	s := b.engine.Snapshot()
	b.status.Store(&s)
	b.dirty = false
	b.published = now
}

// Status returns the most recently published engine snapshot.
func (b *serialBackend) Status() crsf.Snapshot { return *b.status.Load() }

// run starts the RX loop and the channel repeater.
func (b *serialBackend) run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.rep.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer b.l.Info("serial_rx_end")
		buf := make([]byte, serialReadBufSize)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := b.port.Read(buf)
			if n > 0 {
				metrics.AddSerialRxBytes(n)
				b.engine.Feed(buf[:n])
				backoff = rxBackoffMin
			}
			// runs on read timeouts too so stale bytes and failsafe are noticed
			b.engine.Poll()
			b.observe(time.Now())
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					b.l.Error("serial_device_lost", "error", err)
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // ignore transient EOF
				}
				metrics.IncError(metrics.ErrSerialRead)
				b.l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
}

func (b *serialBackend) Close() {
	_ = b.port.Close()
	b.tx.Close()
}

package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/logging"
	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
	"github.com/kstaniek/go-crsf-bridge/internal/transport"
)

var (
	ErrTxOverflow   = errors.New("serial tx overflow")
	ErrShortWrite   = errors.New("serial short write")
	ErrNotFrameable = errors.New("serial: outbound frame exceeds maximum size")
)

// TXWriter funnels all serial writes through one goroutine.
type TXWriter struct {
	base *transport.AsyncTx[crsf.Frame]
}

// NewTXWriter creates a serial TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, sp Port, buf int) *TXWriter {
	send := func(fr crsf.Frame) error {
		b := fr.Bytes()
		n, err := sp.Write(b)
		if err != nil {
			return err
		}
		if n != len(b) {
			return ErrShortWrite
		}
		return nil
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncSerialTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous write (drops with ErrTxOverflow if buffer full).
func (w *TXWriter) SendFrame(fr crsf.Frame) error {
	if fr.Len() > crsf.MaxFrameLen {
		return ErrNotFrameable
	}
	return w.base.Send(fr)
}

// SendWire validates an encoded frame and queues it.
func (w *TXWriter) SendWire(wire []byte) error {
	fr, err := crsf.ParseFrame(wire)
	if err != nil {
		return err
	}
	return w.base.Send(fr)
}

// Pending reports frames queued but not yet written.
func (w *TXWriter) Pending() int { return w.base.Pending() }

// Close stops the writer and waits for pending goroutine exit.
func (w *TXWriter) Close() { w.base.Close() }

var _ transport.FrameSink = (*TXWriter)(nil)

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/hub"
	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
	"github.com/kstaniek/go-crsf-bridge/internal/serial"
)

const readChunk = 512

// startReader reassembles control frames sent by one client and forwards the
// ones the frame filter admits to the serial side.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			cl.Close() // let the writer exit
		}()
		rx := crsf.NewReassembler(s.rxTimeout)
		rx.OnFrame = func(fr crsf.Frame) { s.forward(fr, logger) }
		rx.OnResync = func(c crsf.ResyncCause) {
			logger.Debug("client_resync", "cause", c.String())
		}
		buf := make([]byte, readChunk)
		for {
			// short deadline keeps the stale flush running on quiet clients
			_ = conn.SetReadDeadline(time.Now().Add(s.pollInterval))
			n, err := conn.Read(buf)
			now := time.Now()
			if n > 0 {
				rx.Write(buf[:n], now)
			}
			rx.FlushIfStale(now)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					select {
					case <-ctxDone:
						return
					default:
					}
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}

func (s *Server) forward(fr crsf.Frame, logger *slog.Logger) {
	if s.frameFilter != nil && !s.frameFilter(fr) {
		metrics.IncRejected()
		logger.Debug("client_frame_rejected", "frame", fr.String())
		return
	}
	metrics.IncTCPRx()
	if s.Send == nil {
		return
	}
	if err := s.Send(fr); err != nil {
		if errors.Is(err, serial.ErrTxOverflow) {
			s.totalBackendOverflow.Add(1)
			logger.Debug("backend_overflow_drop", "type", crsf.TypeName(fr.Type), "len", fr.Len())
			return
		}
		wrap := fmt.Errorf("%w: %v", ErrSerialTx, err)
		s.setError(wrap)
		metrics.IncError(mapErrToMetric(wrap))
		s.totalBackendErrors.Add(1)
		logger.Error("serial_tx_error", "error", wrap, "type", crsf.TypeName(fr.Type))
	}
}

// ControlFrames admits the frames a client may inject: RC channels and
// settings writes.
func ControlFrames(fr crsf.Frame) bool {
	return fr.Type == crsf.TypeRCChannels || fr.Type == crsf.TypeSettingsWrite
}

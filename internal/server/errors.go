package server

import (
	"errors"

	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
)

// Sentinel errors. Everything the server reports wraps one of these.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("tcp_read")
	ErrConnWrite = errors.New("tcp_write")
	// ErrSerialTx wraps failures of the send function other than a full
	// serial queue, which only drops the frame.
	ErrSerialTx = errors.New("serial_tx")
	ErrContext  = errors.New("context_cancelled")
)

// mapErrToMetric picks the errors_total label for a wrapped error.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead), errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrHandshake):
		return metrics.ErrHandshake
	case errors.Is(err, ErrSerialTx):
		return metrics.ErrSerialWrite
	case errors.Is(err, ErrContext):
		return "context"
	}
	return "other"
}

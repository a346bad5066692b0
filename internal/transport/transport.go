package transport

import "github.com/kstaniek/go-crsf-bridge/internal/crsf"

// FrameSink is a CRSF frame transmission target (the serial writer or a test double).
type FrameSink interface {
	SendFrame(crsf.Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(crsf.Frame) error

func (f FrameSinkFunc) SendFrame(fr crsf.Frame) error { return f(fr) }

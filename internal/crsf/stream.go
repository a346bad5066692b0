package crsf

import (
	"bufio"
	"io"
	"time"
)

// Stream adapts a blocking io.ReadWriter to the Transport contract.
// Available reports bytes already buffered; Fill blocks for more.
type Stream struct {
	br *bufio.Reader
	w  io.Writer
}

func NewStream(rw io.ReadWriter) *Stream {
	return &Stream{br: bufio.NewReaderSize(rw, 4*MaxFrameLen), w: rw}
}

func (s *Stream) Available() int              { return s.br.Buffered() }
func (s *Stream) ReadByte() (byte, error)     { return s.br.ReadByte() }
func (s *Stream) Write(p []byte) (int, error) { return s.w.Write(p) }

// Fill blocks until at least one byte is buffered or the reader fails.
func (s *Stream) Fill() error {
	_, err := s.br.Peek(1)
	return err
}

// DecodeAll extracts every valid frame in p regardless of origin. Trailing
// partial data is discarded.
func DecodeAll(p []byte) []Frame {
	var out []Frame
	var start time.Time
	r := NewReassembler(0)
	r.OnFrame = func(fr Frame) { out = append(out, fr) }
	r.Write(p, start)
	// work off anything the per-byte cap deferred
	r.FlushIfStale(start.Add(time.Hour))
	return out
}

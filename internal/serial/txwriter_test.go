package serial

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
)

type memPort struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	short bool
	block chan struct{}
}

func (m *memPort) Read(p []byte) (int, error) { return 0, nil }
func (m *memPort) Write(p []byte) (int, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.short {
		return len(p) - 1, nil
	}
	return m.buf.Write(p)
}
func (m *memPort) Close() error { return nil }
func (m *memPort) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf.Bytes()...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestTXWriterWritesWireBytes(t *testing.T) {
	p := &memPort{}
	w := NewTXWriter(context.Background(), p, 8)
	defer w.Close()
	cmd := crsf.EncodeCommand(crsf.CmdPacketRate, 3)
	if err := w.SendWire(cmd); err != nil {
		t.Fatal(err)
	}
	ch, err := crsf.ParseFrame(crsf.EncodeChannels(crsf.CenteredChannels()))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.SendFrame(ch); err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte(nil), cmd...), ch.Bytes()...)
	waitFor(t, func() bool { return len(p.Bytes()) == len(want) })
	if !bytes.Equal(p.Bytes(), want) {
		t.Fatalf("wrote % X\nwant  % X", p.Bytes(), want)
	}
}

func TestTXWriterRejectsInvalidWire(t *testing.T) {
	w := NewTXWriter(context.Background(), &memPort{}, 1)
	defer w.Close()
	bad := crsf.EncodeCommand(crsf.CmdPower, 1)
	bad[len(bad)-1] ^= 0xFF
	if err := w.SendWire(bad); !errors.Is(err, crsf.ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestTXWriterOverflow(t *testing.T) {
	p := &memPort{block: make(chan struct{})}
	w := NewTXWriter(context.Background(), p, 1)
	defer w.Close()
	defer close(p.block)
	wire := crsf.EncodeCommand(crsf.CmdPacketRate, 3)
	if err := w.SendWire(wire); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return w.Pending() == 0 })
	if err := w.SendWire(wire); err != nil {
		t.Fatal(err)
	}
	if err := w.SendWire(wire); !errors.Is(err, ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow, got %v", err)
	}
}

package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
)

var (
	errOverflow = errors.New("overflow")
	errSendFail = errors.New("send fail")
)

func commandFrame(t *testing.T) crsf.Frame {
	t.Helper()
	fr, err := crsf.ParseFrame(crsf.EncodeCommand(crsf.CmdPacketRate, 3))
	if err != nil {
		t.Fatal(err)
	}
	return fr
}

func TestAsyncTxSuccess(t *testing.T) {
	var sent atomic.Int64
	var after atomic.Int64
	ax := NewAsyncTx(context.Background(), 4, func(fr crsf.Frame) error {
		if fr.Type != crsf.TypeSettingsWrite {
			t.Errorf("unexpected type %#x", fr.Type)
		}
		sent.Add(1)
		return nil
	}, Hooks{OnAfter: func() { after.Add(1) }})
	defer ax.Close()
	fr := commandFrame(t)
	for i := 0; i < 3; i++ {
		if err := ax.Send(fr); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && after.Load() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if sent.Load() != 3 || after.Load() != 3 {
		t.Fatalf("expected 3 sent & after, got sent=%d after=%d", sent.Load(), after.Load())
	}
}

func TestAsyncTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var drops atomic.Int64
	release := make(chan struct{})
	ax := NewAsyncTx(ctx, 1, func([]byte) error { <-release; return nil }, Hooks{OnDrop: func() error { drops.Add(1); return errOverflow }})
	defer ax.Close()
	defer close(release)
	// The worker takes the first item and blocks; the second fills the buffer.
	if err := ax.Send([]byte{1}); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && ax.Pending() != 0 {
		time.Sleep(time.Millisecond)
	}
	if err := ax.Send([]byte{2}); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if err := ax.Send([]byte{3}); !errors.Is(err, errOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if drops.Load() != 1 {
		t.Fatalf("expected 1 drop, got %d", drops.Load())
	}
}

func TestAsyncTxSendError(t *testing.T) {
	var errs atomic.Int64
	ax := NewAsyncTx(context.Background(), 2, func(crsf.Frame) error { return errSendFail }, Hooks{OnError: func(error) { errs.Add(1) }})
	defer ax.Close()
	_ = ax.Send(commandFrame(t))
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && errs.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if errs.Load() == 0 {
		t.Fatalf("expected error hook invocation")
	}
}

func TestAsyncTxClose(t *testing.T) {
	var sent atomic.Int64
	ax := NewAsyncTx(context.Background(), 2, func(crsf.Frame) error { sent.Add(1); return nil }, Hooks{})
	_ = ax.Send(commandFrame(t))
	ax.Close()
	countAfterClose := sent.Load()
	_ = ax.Send(commandFrame(t))
	time.Sleep(50 * time.Millisecond)
	if sent.Load() != countAfterClose {
		t.Fatalf("frame processed after close: before=%d after=%d", countAfterClose, sent.Load())
	}
}

func TestAsyncTxSendAfterClose(t *testing.T) {
	tx := NewAsyncTx(context.Background(), 2, func(crsf.Frame) error { return nil }, Hooks{})
	tx.Close()
	if err := tx.Send(crsf.Frame{}); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("expected ErrAsyncTxClosed, got %v", err)
	}
}

func TestAsyncTxCloseConcurrentSend(t *testing.T) {
	for i := 0; i < 100; i++ {
		ax := NewAsyncTx(context.Background(), 1, func(crsf.Frame) error { return nil }, Hooks{})
		done := make(chan error, 1)
		go func() {
			done <- ax.Send(crsf.Frame{})
		}()
		time.Sleep(1 * time.Millisecond)
		ax.Close()
		if err := <-done; err != nil && !errors.Is(err, ErrAsyncTxClosed) {
			t.Fatalf("iteration %d: unexpected send error %v", i, err)
		}
	}
}

func TestFrameSinkFunc(t *testing.T) {
	var got crsf.Frame
	var sink FrameSink = FrameSinkFunc(func(fr crsf.Frame) error { got = fr; return nil })
	want := commandFrame(t)
	if err := sink.SendFrame(want); err != nil {
		t.Fatal(err)
	}
	if got.Type != want.Type || got.CRC != want.CRC {
		t.Fatalf("got %v want %v", got, want)
	}
}

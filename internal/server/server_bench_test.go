package server

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/hub"
)

func BenchmarkServerWriterFlush(b *testing.B) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hub.New()
	h.OutBufSize = 1024
	srv := NewServer(WithHub(h))
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		b.Fatalf("server not ready")
	}
	conn := dialAndHandshake(b, ctx, srv.Addr())
	defer conn.Close()
	go func() { _, _ = io.Copy(io.Discard, conn) }()
	waitClients(h, 1)
	fr := batteryFrame(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Broadcast(fr)
	}
}

func BenchmarkClientReassembly(b *testing.B) {
	wire := crsf.EncodeChannels(crsf.CenteredChannels())
	rx := crsf.NewReassembler(0)
	rx.OnFrame = func(crsf.Frame) {}
	now := time.Now()
	b.SetBytes(int64(len(wire)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rx.Write(wire, now)
	}
}

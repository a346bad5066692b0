package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRx,
					"serial_rx_bytes", snap.SerialRxBytes,
					"serial_tx", snap.SerialTx,
					"resyncs", snap.Resyncs,
					"decode_short", snap.DecodeShort,
					"link_up", snap.LinkUp,
					"link_downs", snap.LinkDowns,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"rejected", snap.Rejected,
					"sink_events", snap.SinkEvents,
					"hub_clients", snap.HubClients,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/hub"
	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
	"github.com/kstaniek/go-crsf-bridge/internal/mqttpub"
	"github.com/kstaniek/go-crsf-bridge/internal/recorder"
	"github.com/kstaniek/go-crsf-bridge/internal/telemetry"
	"github.com/kstaniek/go-crsf-bridge/internal/webstream"
)

const mqttConnectTimeout = 10 * time.Second

// sinks are the optional telemetry consumers. Each one is a hub subscriber
// that never sees RC channel frames.
type sinks struct {
	mqtt   *mqttpub.Publisher
	rec    *recorder.Recorder
	ws     *webstream.Stream
	routes []metrics.Route
	l      *slog.Logger
	// link events in flight to mqtt and the recorder
	inflight sync.WaitGroup
}

// startSinks opens the configured sinks and starts their pumps. Link
// transitions reach them through linkChanged.
func startSinks(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (*sinks, error) {
	s := &sinks{l: l}
	run := func(name string, fn func(context.Context, *hub.Client)) {
		cl := h.Subscribe(name, hub.TelemetryOnly)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer h.Remove(cl)
			fn(ctx, cl)
		}()
	}
	if cfg.recordDB != "" {
		rec, err := recorder.Open(cfg.recordDB)
		if err != nil {
			return nil, err
		}
		s.rec = rec
		run("recorder", rec.Run)
		s.routes = append(s.routes, metrics.Route{Pattern: "/telemetry", Handler: recentHandler(rec)})
		l.Info("recorder_started", "path", cfg.recordDB)
	}
	if cfg.mqttURL != "" {
		p, err := mqttpub.New(cfg.mqttURL)
		if err != nil {
			s.close()
			return nil, err
		}
		cctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		err = p.Connect(cctx)
		cancel()
		if err != nil {
			// paho keeps retrying; events published meanwhile are counted as errors
			l.Warn("mqtt_connect_failed", "error", err)
		}
		s.mqtt = p
		run("mqtt", p.Run)
	}
	if cfg.wsEnable {
		s.ws = webstream.New()
		run("ws", s.ws.Run)
		s.routes = append(s.routes, metrics.Route{Pattern: "/ws", Handler: s.ws})
	}
	return s, nil
}

// linkChanged runs on the serial RX goroutine, so slow sinks are handed
// the event asynchronously.
func (s *sinks) linkChanged(up bool, at time.Time) {
	ev := telemetry.LinkEvent(up, at)
	if s.ws != nil {
		s.ws.Publish(ev)
	}
	if s.mqtt != nil {
		s.inflight.Add(1)
		go func() { defer s.inflight.Done(); s.mqtt.Handle(ev) }()
	}
	if s.rec != nil {
		s.inflight.Add(1)
		go func() { defer s.inflight.Done(); s.rec.Record(ev) }()
	}
}

func (s *sinks) close() {
	s.inflight.Wait()
	if s.mqtt != nil {
		s.mqtt.Close()
	}
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.l.Warn("recorder_close_error", "error", err)
		}
	}
}

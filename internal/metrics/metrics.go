package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-crsf-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series
var (
	SerialRxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crsf_rx_frames_total",
		Help: "Validated CRSF frames received from the serial link, by frame type.",
	}, []string{"type"})
	SerialRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_bytes_total",
		Help: "Raw bytes read from the serial link.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "CRSF frames written to the serial link.",
	})
	Resyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crsf_resync_total",
		Help: "Reassembler discard decisions by cause.",
	}, []string{"cause"})
	DecodeShort = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crsf_decode_short_total",
		Help: "Frames of a known type ignored because the payload was too short.",
	})
	LinkUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crsf_link_up",
		Help: "1 while channels frames arrive within the fail-safe window.",
	})
	LinkTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crsf_link_transitions_total",
		Help: "Link state changes by new state.",
	}, []string{"state"})
	LinkQuality = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crsf_link_quality",
		Help: "Uplink link quality in percent from the last link statistics frame.",
	})
	UplinkRSSI = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crsf_uplink_rssi_dbm",
		Help: "Uplink RSSI of the active antenna in dBm.",
	})
	UplinkSNR = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crsf_uplink_snr_db",
		Help: "Uplink SNR in dB.",
	})
	BatteryVolts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crsf_battery_volts",
		Help: "Battery voltage from the last battery frame.",
	})
	BatteryRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crsf_battery_remaining_percent",
		Help: "Battery remaining from the last battery frame.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Control frames accepted from TCP clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "CRSF frames sent to TCP clients.",
	})
	RejectedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rejected_frames_total",
		Help: "Valid frames from TCP clients refused by the control filter.",
	})
	SinkEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_sink_events_total",
		Help: "Telemetry events delivered per sink.",
	}, []string{"sink"})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of hub subscribers (TCP clients and sinks).",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued frames among clients in the last broadcast.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued frames per client in last sample.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrStartupCommand = "startup_command"
	ErrMQTTPublish    = "mqtt_publish"
	ErrRecorderWrite  = "recorder_write"
	ErrWebSocketWrite = "ws_write"
)

// Route is an extra handler mounted on the metrics HTTP server.
type Route struct {
	Pattern string
	Handler http.Handler
}

// NewMux builds the metrics mux: /metrics, /ready and any extra routes.
func NewMux(routes ...Route) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	for _, rt := range routes {
		if rt.Pattern != "" && rt.Handler != nil {
			mux.Handle(rt.Pattern, rt.Handler)
		}
	}
	return mux
}

// StartHTTP serves the metrics mux on addr in the background.
func StartHTTP(addr string, routes ...Route) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewMux(routes...),
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for log-based dumps without scraping.
var (
	localSerialRx    uint64
	localSerialBytes uint64
	localSerialTx    uint64
	localResync      uint64
	localDecodeShort uint64
	localLinkUp      uint64
	localLinkDowns   uint64
	localTCPRx       uint64
	localTCPTx       uint64
	localRejected    uint64
	localSinkEvents  uint64
	localHubDrop     uint64
	localHubKick     uint64
	localHubReject   uint64
	localErrors      uint64
	localHubClients  uint64
	localFanout      uint64
	localQDMax       uint64
	localQDAvg       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx      uint64
	SerialRxBytes uint64
	SerialTx      uint64
	Resyncs       uint64
	DecodeShort   uint64
	LinkUp        bool
	LinkDowns     uint64
	TCPRx         uint64
	TCPTx         uint64
	Rejected      uint64
	SinkEvents    uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	Errors        uint64 // sum across error labels
	HubClients    uint64
	Fanout        uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:      atomic.LoadUint64(&localSerialRx),
		SerialRxBytes: atomic.LoadUint64(&localSerialBytes),
		SerialTx:      atomic.LoadUint64(&localSerialTx),
		Resyncs:       atomic.LoadUint64(&localResync),
		DecodeShort:   atomic.LoadUint64(&localDecodeShort),
		LinkUp:        atomic.LoadUint64(&localLinkUp) == 1,
		LinkDowns:     atomic.LoadUint64(&localLinkDowns),
		TCPRx:         atomic.LoadUint64(&localTCPRx),
		TCPTx:         atomic.LoadUint64(&localTCPTx),
		Rejected:      atomic.LoadUint64(&localRejected),
		SinkEvents:    atomic.LoadUint64(&localSinkEvents),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubRejects:    atomic.LoadUint64(&localHubReject),
		Errors:        atomic.LoadUint64(&localErrors),
		HubClients:    atomic.LoadUint64(&localHubClients),
		Fanout:        atomic.LoadUint64(&localFanout),
		QueueDepthMax: atomic.LoadUint64(&localQDMax),
		QueueDepthAvg: atomic.LoadUint64(&localQDAvg),
	}
}

// IncSerialRx counts one validated frame of the given type name.
func IncSerialRx(typ string) {
	SerialRxFrames.WithLabelValues(typ).Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

func AddSerialRxBytes(n int) {
	SerialRxBytes.Add(float64(n))
	atomic.AddUint64(&localSerialBytes, uint64(n))
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

func IncResync(cause string) {
	Resyncs.WithLabelValues(cause).Inc()
	atomic.AddUint64(&localResync, 1)
}

func IncDecodeShort() {
	DecodeShort.Inc()
	atomic.AddUint64(&localDecodeShort, 1)
}

// SetLinkUp records a link transition.
func SetLinkUp(up bool) {
	if up {
		LinkUp.Set(1)
		LinkTransitions.WithLabelValues("up").Inc()
		atomic.StoreUint64(&localLinkUp, 1)
		return
	}
	LinkUp.Set(0)
	LinkTransitions.WithLabelValues("down").Inc()
	atomic.StoreUint64(&localLinkUp, 0)
	atomic.AddUint64(&localLinkDowns, 1)
}

// SetLinkStats publishes the radio figures of a link statistics frame.
func SetLinkStats(lq, rssiDBm, snr int) {
	LinkQuality.Set(float64(lq))
	UplinkRSSI.Set(float64(rssiDBm))
	UplinkSNR.Set(float64(snr))
}

func SetBattery(volts float64, remaining int) {
	BatteryVolts.Set(volts)
	BatteryRemaining.Set(float64(remaining))
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncRejected() {
	RejectedFrames.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func IncSinkEvent(sink string) {
	SinkEvents.WithLabelValues(sink).Inc()
	atomic.AddUint64(&localSinkEvents, 1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error and resync series so dashboards see zeros.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrStartupCommand, ErrMQTTPublish, ErrRecorderWrite, ErrWebSocketWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, c := range []string{"bad_length", "bad_crc", "overflow", "stale"} {
		Resyncs.WithLabelValues(c).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet: report ready so the endpoint doesn't flap
		return true
	}
	return fn()
}

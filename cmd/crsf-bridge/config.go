package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/hub"
	"github.com/kstaniek/go-crsf-bridge/internal/logging"
	"github.com/kstaniek/go-crsf-bridge/internal/serial"
)

const envPrefix = "CRSF_BRIDGE_"

type appConfig struct {
	serialDev       string
	serialDriver    string
	baud            int
	listenAddr      string
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientRxTO      time.Duration
	mdnsEnable      bool
	mdnsName        string

	rxTimeout     time.Duration
	failsafe      time.Duration
	origins       string
	frameInterval time.Duration
	controlHold   time.Duration
	packetRate    int
	txPower       int
	telemRatio    int

	mqttURL   string
	recordDB  string
	wsEnable  bool
	listPorts bool
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	fs := flag.CommandLine
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial device path, USB product name or vid:pid")
	fs.StringVar(&cfg.serialDriver, "serial-driver", "auto", "Serial driver: auto|tarm|bugst")
	fs.IntVar(&cfg.baud, "baud", 420000, "Serial baud rate")
	fs.StringVar(&cfg.listenAddr, "listen", ":20000", "TCP listen address")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 20*time.Millisecond, "Serial read timeout (bounds how late time-based checks run)")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&cfg.clientRxTO, "client-rx-timeout", crsf.DefaultReceiveTimeout, "Partial frame timeout for bytes received from TCP clients")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default crsf-bridge-<hostname>)")
	fs.DurationVar(&cfg.rxTimeout, "rx-timeout", crsf.DefaultReceiveTimeout, "Discard a partial serial frame after this much silence")
	fs.DurationVar(&cfg.failsafe, "failsafe", crsf.DefaultFailsafe, "Declare the link down after this long without channels")
	fs.StringVar(&cfg.origins, "accept-origins", "ea", "Comma-separated hex source addresses whose frames are decoded")
	fs.DurationVar(&cfg.frameInterval, "frame-interval", 4*time.Millisecond, "Channel frame repeat interval towards the module")
	fs.DurationVar(&cfg.controlHold, "control-hold", 300*time.Millisecond, "Stop repeating channels this long after the last client update")
	fs.IntVar(&cfg.packetRate, "packet-rate", -1, "Packet rate index sent at startup (-1 = leave unchanged)")
	fs.IntVar(&cfg.txPower, "tx-power", -1, "TX power index sent at startup (-1 = leave unchanged)")
	fs.IntVar(&cfg.telemRatio, "telemetry-ratio", -1, "Telemetry ratio index sent at startup (-1 = leave unchanged)")
	fs.StringVar(&cfg.mqttURL, "mqtt-url", "", "Publish telemetry to mqtt://[user:pass@]host[:port]/prefix; empty disables")
	fs.StringVar(&cfg.recordDB, "record-db", "", "Record telemetry to this SQLite file; empty disables")
	fs.BoolVar(&cfg.wsEnable, "ws-enable", false, "Serve /ws telemetry stream on the metrics address")
	fs.BoolVar(&cfg.listPorts, "list-ports", false, "List serial ports and exit")
	showVersion := fs.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Explicit flags take precedence over the environment.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if *showVersion || cfg.listPorts {
		return cfg, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if _, ok := hub.ParsePolicy(c.hubPolicy); !ok {
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if _, err := serial.ParseDriver(c.serialDriver); err != nil {
		return err
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientRxTO <= 0 {
		return fmt.Errorf("client-rx-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.rxTimeout <= 0 || c.failsafe <= 0 {
		return fmt.Errorf("rx-timeout and failsafe must be > 0")
	}
	if c.serialReadTO > c.rxTimeout {
		return fmt.Errorf("serial-read-timeout (%v) must not exceed rx-timeout (%v)", c.serialReadTO, c.rxTimeout)
	}
	if _, err := parseOrigins(c.origins); err != nil {
		return err
	}
	if c.frameInterval <= 0 {
		return fmt.Errorf("frame-interval must be > 0")
	}
	if c.controlHold < c.frameInterval {
		return fmt.Errorf("control-hold must be >= frame-interval")
	}
	for name, v := range map[string]int{"packet-rate": c.packetRate, "tx-power": c.txPower, "telemetry-ratio": c.telemRatio} {
		if v < -1 || v > 255 {
			return fmt.Errorf("%s must be -1..255 (got %d)", name, v)
		}
	}
	if c.wsEnable && c.metricsAddr == "" {
		return fmt.Errorf("ws-enable requires metrics-addr")
	}
	return nil
}

// parseOrigins turns "ea,c8" (optionally 0x-prefixed) into addresses.
func parseOrigins(s string) ([]byte, error) {
	var out []byte
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f)), "0x")
		if f == "" {
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid accept-origins entry %q", f)
		}
		out = append(out, byte(v))
	}
	if len(out) == 0 {
		return nil, errors.New("accept-origins must name at least one address")
	}
	return out, nil
}

// envLookup maps flag names onto CRSF_BRIDGE_* variables, skipping flags set
// on the command line and empty values. The first parse error is kept.
type envLookup struct {
	set      map[string]struct{}
	firstErr error
}

func (e *envLookup) get(flagName string) (string, string, bool) {
	if _, ok := e.set[flagName]; ok {
		return "", "", false
	}
	key := envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return key, v, ok && v != ""
}

func (e *envLookup) fail(key string, err error) {
	if e.firstErr == nil {
		e.firstErr = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envLookup) str(flagName string, dst *string) {
	if _, v, ok := e.get(flagName); ok {
		*dst = v
	}
}

func (e *envLookup) integer(flagName string, min int, dst *int) {
	key, v, ok := e.get(flagName)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	if n >= min {
		*dst = n
	}
}

func (e *envLookup) duration(flagName string, dst *time.Duration) {
	key, v, ok := e.get(flagName)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	if d >= 0 {
		*dst = d
	}
}

func (e *envLookup) boolean(flagName string, dst *bool) {
	if _, v, ok := e.get(flagName); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}

// applyEnvOverrides maps CRSF_BRIDGE_<FLAG_NAME> environment variables onto
// config fields unless the corresponding flag was explicitly set.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	e := &envLookup{set: set}
	e.str("serial", &c.serialDev)
	e.str("serial-driver", &c.serialDriver)
	e.integer("baud", 1, &c.baud)
	e.str("listen", &c.listenAddr)
	e.duration("serial-read-timeout", &c.serialReadTO)
	e.str("log-format", &c.logFormat)
	e.str("log-level", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		// empty is meaningful here: it disables the endpoint
		if v, ok := os.LookupEnv(envPrefix + "METRICS_ADDR"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	e.integer("hub-buffer", 1, &c.hubBuffer)
	e.str("hub-policy", &c.hubPolicy)
	e.duration("log-metrics-interval", &c.logMetricsEvery)
	e.integer("max-clients", 0, &c.maxClients)
	e.duration("handshake-timeout", &c.handshakeTO)
	e.duration("client-rx-timeout", &c.clientRxTO)
	e.boolean("mdns-enable", &c.mdnsEnable)
	e.str("mdns-name", &c.mdnsName)
	e.duration("rx-timeout", &c.rxTimeout)
	e.duration("failsafe", &c.failsafe)
	e.str("accept-origins", &c.origins)
	e.duration("frame-interval", &c.frameInterval)
	e.duration("control-hold", &c.controlHold)
	e.integer("packet-rate", -1, &c.packetRate)
	e.integer("tx-power", -1, &c.txPower)
	e.integer("telemetry-ratio", -1, &c.telemRatio)
	e.str("mqtt-url", &c.mqttURL)
	e.str("record-db", &c.recordDB)
	e.boolean("ws-enable", &c.wsEnable)
	return e.firstErr
}

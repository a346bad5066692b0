package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := validConfig()
	t.Setenv("CRSF_BRIDGE_BAUD", "400000")
	t.Setenv("CRSF_BRIDGE_MDNS_ENABLE", "true")
	t.Setenv("CRSF_BRIDGE_SERIAL_READ_TIMEOUT", "50ms")
	t.Setenv("CRSF_BRIDGE_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("CRSF_BRIDGE_ACCEPT_ORIGINS", "ea,c8")
	t.Setenv("CRSF_BRIDGE_PACKET_RATE", "3")
	t.Setenv("CRSF_BRIDGE_MQTT_URL", "mqtt://broker:1883/fpv")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 400000 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 50*time.Millisecond {
		t.Fatalf("expected serialReadTO 50ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.origins != "ea,c8" || base.packetRate != 3 || base.mqttURL != "mqtt://broker:1883/fpv" {
		t.Fatalf("overrides not applied: %+v", base)
	}
	if err := base.validate(); err != nil {
		t.Fatalf("overridden config invalid: %v", err)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 420000}
	t.Setenv("CRSF_BRIDGE_BAUD", "115200")
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 420000 {
		t.Fatalf("expected baud unchanged 420000 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_MetricsAddrEmpty(t *testing.T) {
	base := &appConfig{metricsAddr: ":9100"}
	t.Setenv("CRSF_BRIDGE_METRICS_ADDR", "")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.metricsAddr != "" {
		t.Fatalf("expected empty metrics addr to disable, got %q", base.metricsAddr)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	for key, val := range map[string]string{
		"CRSF_BRIDGE_HUB_BUFFER": "notint",
		"CRSF_BRIDGE_FAILSAFE":   "soon",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if err := applyEnvOverrides(validConfig(), map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}

package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		serialDev:     "/dev/null",
		serialDriver:  "auto",
		baud:          420000,
		listenAddr:    ":20000",
		serialReadTO:  10 * time.Millisecond,
		logFormat:     "text",
		logLevel:      "info",
		hubBuffer:     8,
		hubPolicy:     "drop",
		maxClients:    0,
		handshakeTO:   time.Second,
		clientRxTO:    100 * time.Millisecond,
		rxTimeout:     100 * time.Millisecond,
		failsafe:      300 * time.Millisecond,
		origins:       "ea",
		frameInterval: 4 * time.Millisecond,
		controlHold:   300 * time.Millisecond,
		packetRate:    -1,
		txPower:       -1,
		telemRatio:    -1,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badDriver", func(c *appConfig) { c.serialDriver = "x" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"serialTOAboveRx", func(c *appConfig) { c.serialReadTO = 200 * time.Millisecond }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientRxTO", func(c *appConfig) { c.clientRxTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badFailsafe", func(c *appConfig) { c.failsafe = 0 }},
		{"badOrigins", func(c *appConfig) { c.origins = "zz" }},
		{"emptyOrigins", func(c *appConfig) { c.origins = " , " }},
		{"badInterval", func(c *appConfig) { c.frameInterval = 0 }},
		{"holdBelowInterval", func(c *appConfig) { c.controlHold = time.Millisecond }},
		{"badPacketRate", func(c *appConfig) { c.packetRate = 256 }},
		{"badTxPower", func(c *appConfig) { c.txPower = -2 }},
		{"wsWithoutMetrics", func(c *appConfig) { c.wsEnable = true }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mod(c)
			if err := c.validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseOrigins(t *testing.T) {
	got, err := parseOrigins("ea, 0xC8,ee")
	if err != nil {
		t.Fatalf("parseOrigins: %v", err)
	}
	want := []byte{0xEA, 0xC8, 0xEE}
	if string(got) != string(want) {
		t.Fatalf("got % X want % X", got, want)
	}
	if _, err := parseOrigins("100"); err == nil {
		t.Fatalf("expected error for out of range address")
	}
}

package crsf

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseFrame(t *testing.T) {
	wire := EncodeCommand(CmdPacketRate, 3)
	fr, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if fr.Addr != AddrController || fr.Type != TypeSettingsWrite || !bytes.Equal(fr.Bytes(), wire) {
		t.Fatalf("parsed %v bytes % X", fr, fr.Bytes())
	}

	bad := append([]byte(nil), wire...)
	bad[5] ^= 0x01
	for name, in := range map[string][]byte{
		"empty":     nil,
		"crc":       bad,
		"truncated": wire[:6],
		"trailing":  append(append([]byte(nil), wire...), 0x00),
		"size":      {0xEE, 0x02, 0x2D, 0x00},
	} {
		if _, err := ParseFrame(in); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("%s: expected ErrInvalidFrame, got %v", name, err)
		}
	}
}

func TestNewFrame(t *testing.T) {
	fr, err := NewFrame(AddrRadioTransmitter, TypeVario, Vario{VerticalSpeed: -150}.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if fr.Size != 4 || fr.Len() != 6 {
		t.Fatalf("size=%d len=%d", fr.Size, fr.Len())
	}
	back, err := ParseFrame(fr.Bytes())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if back.CRC != fr.CRC {
		t.Fatalf("crc mismatch %02X vs %02X", back.CRC, fr.CRC)
	}
	if _, err := NewFrame(AddrController, TypeVario, make([]byte, MaxPayloadSize+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestLargestFrameRebuilds(t *testing.T) {
	payload := make([]byte, MaxFrameSize-2)
	for i := range payload {
		payload[i] = byte(i)
	}
	wire := append([]byte{AddrRadioTransmitter, MaxFrameSize, 0x7F}, payload...)
	wire = append(wire, Checksum(wire[2:]))
	fr, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if fr.Len() != MaxFrameLen {
		t.Fatalf("len=%d want %d", fr.Len(), MaxFrameLen)
	}
	back, err := NewFrame(fr.Addr, fr.Type, fr.Payload)
	if err != nil {
		t.Fatalf("NewFrame of a parsed frame: %v", err)
	}
	if !bytes.Equal(back.Bytes(), wire) {
		t.Fatalf("rebuilt % X", back.Bytes())
	}
}

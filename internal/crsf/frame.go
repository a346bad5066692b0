// Package crsf implements the CRSF (Crossfire / ExpressLRS) serial link
// protocol: CRC8, frame encoding, byte-stream reassembly with resync,
// telemetry decoding and link liveness tracking.
//
// Wire layout of every frame:
//
//	[addr][size][type][payload...][crc]
//
// size counts type + payload + crc, so a frame occupies size+2 bytes on the
// wire. crc covers type and payload.
package crsf

import (
	"errors"
	"fmt"
)

// Device addresses.
const (
	AddrBroadcast        byte = 0x00
	AddrFlightController byte = 0xC8
	AddrRadioTransmitter byte = 0xEA
	AddrCRSFReceiver     byte = 0xEC
	AddrCRSFTransmitter  byte = 0xEE

	// AddrController is the destination of outbound control frames (the TX module).
	AddrController = AddrCRSFTransmitter
	SyncByte       = AddrFlightController
)

// Frame types.
const (
	TypeGPS            byte = 0x02
	TypeVario          byte = 0x07
	TypeBattery        byte = 0x08
	TypeBaroAltitude   byte = 0x09
	TypeLinkStatistics byte = 0x14
	TypeRCChannels     byte = 0x16
	TypeAttitude       byte = 0x1E
	TypeSettingsWrite  byte = 0x2D
)

// Sizes.
const (
	MinFrameSize    = 3                // type, one payload byte, crc
	MaxFrameSize    = 64               // upper bound of the size byte
	MaxPayloadSize  = MaxFrameSize - 2 // size counts type and crc
	MaxFrameLen     = MaxFrameSize + 2
	rxBufferSize    = MaxFrameSize + 3
	ChannelsPayload = 22
	ChannelsFrame   = ChannelsPayload + 4 // 26
	CommandFrame    = 8
)

// Frame is one validated CRSF frame. Payload aliases nothing; it is owned by
// the Frame value.
type Frame struct {
	Addr    byte
	Size    byte
	Type    byte
	Payload []byte
	CRC     byte
}

// Len returns the on-wire length of the frame.
func (f Frame) Len() int { return int(f.Size) + 2 }

// Bytes re-serializes the frame exactly as it was received.
func (f Frame) Bytes() []byte {
	b := make([]byte, 0, f.Len())
	b = append(b, f.Addr, f.Size, f.Type)
	b = append(b, f.Payload...)
	return append(b, f.CRC)
}

func (f Frame) String() string {
	return fmt.Sprintf("crsf{addr=0x%02X type=%s len=%d}", f.Addr, TypeName(f.Type), len(f.Payload))
}

// parseFrame builds a Frame from a validated wire slice (addr..crc).
func parseFrame(wire []byte) Frame {
	size := wire[1]
	payload := make([]byte, int(size)-2)
	copy(payload, wire[3:3+len(payload)])
	return Frame{
		Addr:    wire[0],
		Size:    size,
		Type:    wire[2],
		Payload: payload,
		CRC:     wire[int(size)+1],
	}
}

// ErrInvalidFrame is returned by ParseFrame for slices that are not exactly
// one valid frame.
var ErrInvalidFrame = errors.New("crsf: invalid frame")

// ParseFrame validates a single complete frame (addr..crc).
func ParseFrame(wire []byte) (Frame, error) {
	if len(wire) < 2 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(wire))
	}
	size := int(wire[1])
	if size < MinFrameSize || size > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: size %d", ErrInvalidFrame, size)
	}
	if len(wire) != size+2 {
		return Frame{}, fmt.Errorf("%w: have %d bytes, size says %d", ErrInvalidFrame, len(wire), size+2)
	}
	if Checksum(wire[2:size+1]) != wire[size+1] {
		return Frame{}, fmt.Errorf("%w: crc", ErrInvalidFrame)
	}
	return parseFrame(wire), nil
}

// NewFrame builds a Frame around payload with its checksum filled in.
func NewFrame(addr, typ byte, payload []byte) (Frame, error) {
	wire, err := EncodeFrame(addr, typ, payload)
	if err != nil {
		return Frame{}, err
	}
	return parseFrame(wire), nil
}

// TypeName returns a stable lowercase name for known frame types, used for
// metric labels and event names.
func TypeName(t byte) string {
	switch t {
	case TypeGPS:
		return "gps"
	case TypeVario:
		return "vario"
	case TypeBattery:
		return "battery"
	case TypeBaroAltitude:
		return "baro_altitude"
	case TypeLinkStatistics:
		return "link_statistics"
	case TypeRCChannels:
		return "rc_channels"
	case TypeAttitude:
		return "attitude"
	case TypeSettingsWrite:
		return "settings_write"
	default:
		return "other"
	}
}

package crsf

import (
	"errors"
	"fmt"
)

// NumChannels is the number of RC channels in a packed channels frame.
const NumChannels = 16

// Channel value limits as used by ELRS / EdgeTX (11-bit wire range 0..2047).
const (
	ChannelMask int16 = 0x07FF
	ChannelMin  int16 = 172
	ChannelMid  int16 = 992
	ChannelMax  int16 = 1811
)

// Channels holds the 16 logical channel values of a packed channels frame.
// Only the low 11 bits of each value reach the wire.
type Channels [NumChannels]int16

// CenteredChannels returns every channel at ChannelMid.
func CenteredChannels() Channels {
	var c Channels
	for i := range c {
		c[i] = ChannelMid
	}
	return c
}

// MicrosToChannel maps a 1000..2000us servo pulse onto the CRSF tick range
// (1500us -> 992, 1 tick = 0.625us).
func MicrosToChannel(us int) int16 {
	return int16((us-1500)*8/5 + int(ChannelMid))
}

// ChannelToMicros is the inverse of MicrosToChannel.
func ChannelToMicros(v int16) int {
	return (int(v)-int(ChannelMid))*5/8 + 1500
}

// Command identifies an ELRS setting written with a settings-write frame.
type Command byte

// ELRS TX module commands.
const (
	CmdPacketRate  Command = 0x01
	CmdTelemRatio  Command = 0x02
	CmdSwitchMode  Command = 0x03
	CmdModelMatch  Command = 0x04
	CmdPower       Command = 0x06
	CmdBLEJoystick Command = 0x11
	CmdWiFi        Command = 0xFE
	CmdBind        Command = 0xFF
)

func (c Command) String() string {
	switch c {
	case CmdPacketRate:
		return "packet_rate"
	case CmdTelemRatio:
		return "telemetry_ratio"
	case CmdSwitchMode:
		return "switch_mode"
	case CmdModelMatch:
		return "model_match"
	case CmdPower:
		return "power"
	case CmdBLEJoystick:
		return "ble_joystick"
	case CmdWiFi:
		return "wifi"
	case CmdBind:
		return "bind"
	default:
		return fmt.Sprintf("cmd_0x%02X", byte(c))
	}
}

var (
	// ErrPayloadTooLarge is returned by EncodeFrame for payloads over MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("crsf: payload too large")
	// ErrShortPayload is returned when a payload is smaller than the layout it must hold.
	ErrShortPayload = errors.New("crsf: short payload")
)

// PackChannels bit-packs 16 channels at 11 bits each, LSB first, in
// ascending channel order.
func PackChannels(ch Channels) [ChannelsPayload]byte {
	var out [ChannelsPayload]byte
	var acc uint32
	var bits uint
	n := 0
	for _, v := range ch {
		acc |= uint32(uint16(v)&uint16(ChannelMask)) << bits
		bits += 11
		for bits >= 8 {
			out[n] = byte(acc)
			n++
			acc >>= 8
			bits -= 8
		}
	}
	return out
}

// UnpackChannels reverses PackChannels. p must hold at least 22 bytes.
func UnpackChannels(p []byte) (Channels, error) {
	var ch Channels
	if len(p) < ChannelsPayload {
		return ch, fmt.Errorf("%w: channels need %d bytes, got %d", ErrShortPayload, ChannelsPayload, len(p))
	}
	var acc uint32
	var bits uint
	n := 0
	for i := range ch {
		for bits < 11 {
			acc |= uint32(p[n]) << bits
			n++
			bits += 8
		}
		ch[i] = int16(acc & uint32(ChannelMask))
		acc >>= 11
		bits -= 11
	}
	return ch, nil
}

// EncodeChannels builds the 26-byte RC channels frame addressed to the TX
// module.
func EncodeChannels(ch Channels) []byte {
	frame := make([]byte, ChannelsFrame)
	frame[0] = AddrController
	frame[1] = ChannelsFrame - 2
	frame[2] = TypeRCChannels
	payload := PackChannels(ch)
	copy(frame[3:], payload[:])
	frame[ChannelsFrame-1] = Checksum(frame[2 : ChannelsFrame-1])
	return frame
}

// EncodeCommand builds the 8-byte settings-write frame:
// [0xEE, 6, 0x2D, dest 0xEE, origin 0xEA, cmd, value, crc].
func EncodeCommand(cmd Command, value byte) []byte {
	frame := make([]byte, CommandFrame)
	frame[0] = AddrController
	frame[1] = CommandFrame - 2
	frame[2] = TypeSettingsWrite
	frame[3] = AddrCRSFTransmitter
	frame[4] = AddrRadioTransmitter
	frame[5] = byte(cmd)
	frame[6] = value
	frame[7] = Checksum(frame[2:7])
	return frame
}

// EncodeFrame builds a generic frame around payload.
func EncodeFrame(addr, typ byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	frame := make([]byte, len(payload)+4)
	frame[0] = addr
	frame[1] = byte(len(payload) + 2)
	frame[2] = typ
	copy(frame[3:], payload)
	frame[len(frame)-1] = Checksum(frame[2 : len(frame)-1])
	return frame, nil
}

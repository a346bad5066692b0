package crsf

import (
	"encoding/binary"
	"fmt"
)

// Payload sizes of the fixed-layout telemetry records.
const (
	BatteryPayload        = 8
	GPSPayload            = 15
	VarioPayload          = 2
	BaroAltitudePayload   = 4
	baroAltitudeMinimum   = 2 // senders may omit vertical speed
	AttitudePayload       = 6
	LinkStatisticsPayload = 10
)

// Battery is the battery sensor record (type 0x08).
type Battery struct {
	Voltage   uint16 // V * 10
	Current   uint16 // A * 10
	Capacity  uint32 // mAh, 24 bits on the wire
	Remaining uint8  // percent
}

func (b Battery) Volts() float64 { return float64(b.Voltage) / 10 }
func (b Battery) Amps() float64  { return float64(b.Current) / 10 }

// DecodeBattery reads a battery payload. Capacity is a 24-bit big-endian field.
func DecodeBattery(p []byte) (Battery, error) {
	if len(p) < BatteryPayload {
		return Battery{}, shortPayload("battery", BatteryPayload, len(p))
	}
	return Battery{
		Voltage:   binary.BigEndian.Uint16(p[0:2]),
		Current:   binary.BigEndian.Uint16(p[2:4]),
		Capacity:  uint32(p[4])<<16 | uint32(p[5])<<8 | uint32(p[6]),
		Remaining: p[7],
	}, nil
}

// Payload encodes the record in wire order.
func (b Battery) Payload() []byte {
	p := make([]byte, BatteryPayload)
	binary.BigEndian.PutUint16(p[0:2], b.Voltage)
	binary.BigEndian.PutUint16(p[2:4], b.Current)
	p[4] = byte(b.Capacity >> 16)
	p[5] = byte(b.Capacity >> 8)
	p[6] = byte(b.Capacity)
	p[7] = b.Remaining
	return p
}

// GPS is the GPS record (type 0x02).
type GPS struct {
	Latitude    int32  // degrees * 1e7
	Longitude   int32  // degrees * 1e7
	GroundSpeed uint16 // km/h * 10
	Heading     uint16 // degrees * 100
	Altitude    uint16 // metres + 1000
	Satellites  uint8
}

func (g GPS) LatitudeDeg() float64  { return float64(g.Latitude) / 1e7 }
func (g GPS) LongitudeDeg() float64 { return float64(g.Longitude) / 1e7 }
func (g GPS) SpeedKmh() float64     { return float64(g.GroundSpeed) / 10 }
func (g GPS) HeadingDeg() float64   { return float64(g.Heading) / 100 }
func (g GPS) AltitudeM() int        { return int(g.Altitude) - 1000 }

func DecodeGPS(p []byte) (GPS, error) {
	if len(p) < GPSPayload {
		return GPS{}, shortPayload("gps", GPSPayload, len(p))
	}
	return GPS{
		Latitude:    int32(binary.BigEndian.Uint32(p[0:4])),
		Longitude:   int32(binary.BigEndian.Uint32(p[4:8])),
		GroundSpeed: binary.BigEndian.Uint16(p[8:10]),
		Heading:     binary.BigEndian.Uint16(p[10:12]),
		Altitude:    binary.BigEndian.Uint16(p[12:14]),
		Satellites:  p[14],
	}, nil
}

func (g GPS) Payload() []byte {
	p := make([]byte, GPSPayload)
	binary.BigEndian.PutUint32(p[0:4], uint32(g.Latitude))
	binary.BigEndian.PutUint32(p[4:8], uint32(g.Longitude))
	binary.BigEndian.PutUint16(p[8:10], g.GroundSpeed)
	binary.BigEndian.PutUint16(p[10:12], g.Heading)
	binary.BigEndian.PutUint16(p[12:14], g.Altitude)
	p[14] = g.Satellites
	return p
}

// Vario is the variometer record (type 0x07).
type Vario struct {
	VerticalSpeed int16 // cm/s
}

func DecodeVario(p []byte) (Vario, error) {
	if len(p) < VarioPayload {
		return Vario{}, shortPayload("vario", VarioPayload, len(p))
	}
	return Vario{VerticalSpeed: int16(binary.BigEndian.Uint16(p[0:2]))}, nil
}

func (v Vario) Payload() []byte {
	p := make([]byte, VarioPayload)
	binary.BigEndian.PutUint16(p, uint16(v.VerticalSpeed))
	return p
}

// BaroAltitude is the barometric altitude record (type 0x09).
type BaroAltitude struct {
	// Altitude is decimetres + 10000, or whole metres when the high bit is set.
	Altitude      uint16
	VerticalSpeed int16 // cm/s
}

// Meters converts the packed altitude to metres.
func (b BaroAltitude) Meters() float64 {
	if b.Altitude&0x8000 != 0 {
		return float64(b.Altitude & 0x7FFF)
	}
	return (float64(b.Altitude) - 10000) / 10
}

// DecodeBaroAltitude accepts the short two-byte form (altitude only).
func DecodeBaroAltitude(p []byte) (BaroAltitude, error) {
	if len(p) < baroAltitudeMinimum {
		return BaroAltitude{}, shortPayload("baro_altitude", baroAltitudeMinimum, len(p))
	}
	b := BaroAltitude{Altitude: binary.BigEndian.Uint16(p[0:2])}
	if len(p) >= BaroAltitudePayload {
		b.VerticalSpeed = int16(binary.BigEndian.Uint16(p[2:4]))
	}
	return b, nil
}

func (b BaroAltitude) Payload() []byte {
	p := make([]byte, BaroAltitudePayload)
	binary.BigEndian.PutUint16(p[0:2], b.Altitude)
	binary.BigEndian.PutUint16(p[2:4], uint16(b.VerticalSpeed))
	return p
}

// Attitude is the attitude record (type 0x1E). Angles are radians * 10000.
type Attitude struct {
	Pitch int16
	Roll  int16
	Yaw   int16
}

func (a Attitude) PitchRad() float64 { return float64(a.Pitch) / 10000 }
func (a Attitude) RollRad() float64  { return float64(a.Roll) / 10000 }
func (a Attitude) YawRad() float64   { return float64(a.Yaw) / 10000 }

func DecodeAttitude(p []byte) (Attitude, error) {
	if len(p) < AttitudePayload {
		return Attitude{}, shortPayload("attitude", AttitudePayload, len(p))
	}
	return Attitude{
		Pitch: int16(binary.BigEndian.Uint16(p[0:2])),
		Roll:  int16(binary.BigEndian.Uint16(p[2:4])),
		Yaw:   int16(binary.BigEndian.Uint16(p[4:6])),
	}, nil
}

func (a Attitude) Payload() []byte {
	p := make([]byte, AttitudePayload)
	binary.BigEndian.PutUint16(p[0:2], uint16(a.Pitch))
	binary.BigEndian.PutUint16(p[2:4], uint16(a.Roll))
	binary.BigEndian.PutUint16(p[4:6], uint16(a.Yaw))
	return p
}

// LinkStatistics is the link statistics record (type 0x14). RSSI values are
// reported as positive numbers meaning negative dBm.
type LinkStatistics struct {
	UplinkRSSI1       uint8
	UplinkRSSI2       uint8
	UplinkLinkQuality uint8 // percent
	UplinkSNR         int8  // dB
	ActiveAntenna     uint8
	RFMode            uint8
	UplinkTXPower     uint8 // power level index
	DownlinkRSSI      uint8
	DownlinkQuality   uint8
	DownlinkSNR       int8
}

// UplinkRSSIdBm returns the RSSI of the active antenna in dBm.
func (l LinkStatistics) UplinkRSSIdBm() int {
	if l.ActiveAntenna == 1 {
		return -int(l.UplinkRSSI2)
	}
	return -int(l.UplinkRSSI1)
}

func DecodeLinkStatistics(p []byte) (LinkStatistics, error) {
	if len(p) < LinkStatisticsPayload {
		return LinkStatistics{}, shortPayload("link_statistics", LinkStatisticsPayload, len(p))
	}
	return LinkStatistics{
		UplinkRSSI1:       p[0],
		UplinkRSSI2:       p[1],
		UplinkLinkQuality: p[2],
		UplinkSNR:         int8(p[3]),
		ActiveAntenna:     p[4],
		RFMode:            p[5],
		UplinkTXPower:     p[6],
		DownlinkRSSI:      p[7],
		DownlinkQuality:   p[8],
		DownlinkSNR:       int8(p[9]),
	}, nil
}

func (l LinkStatistics) Payload() []byte {
	return []byte{
		l.UplinkRSSI1, l.UplinkRSSI2, l.UplinkLinkQuality, byte(l.UplinkSNR),
		l.ActiveAntenna, l.RFMode, l.UplinkTXPower,
		l.DownlinkRSSI, l.DownlinkQuality, byte(l.DownlinkSNR),
	}
}

func shortPayload(what string, want, got int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, what, want, got)
}

// Decode interprets a frame's payload by type. The returned value is one of
// Battery, GPS, Vario, BaroAltitude, Attitude, LinkStatistics or Channels.
// ok is false for unknown types; err is set when a known type is truncated.
func Decode(fr Frame) (rec any, ok bool, err error) {
	switch fr.Type {
	case TypeBattery:
		rec, err = DecodeBattery(fr.Payload)
	case TypeGPS:
		rec, err = DecodeGPS(fr.Payload)
	case TypeVario:
		rec, err = DecodeVario(fr.Payload)
	case TypeBaroAltitude:
		rec, err = DecodeBaroAltitude(fr.Payload)
	case TypeAttitude:
		rec, err = DecodeAttitude(fr.Payload)
	case TypeLinkStatistics:
		rec, err = DecodeLinkStatistics(fr.Payload)
	case TypeRCChannels:
		rec, err = UnpackChannels(fr.Payload)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	return rec, true, nil
}

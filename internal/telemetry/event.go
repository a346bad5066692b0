// Package telemetry turns CRSF frames into JSON-friendly events consumed by
// the MQTT, recorder and WebSocket sinks.
package telemetry

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/hub"
)

// Event is the envelope every sink serializes.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

type Battery struct {
	Voltage     float64 `json:"voltage_v"`
	Current     float64 `json:"current_a"`
	CapacityMAh uint32  `json:"capacity_mah"`
	Remaining   uint8   `json:"remaining_pct"`
}

type GPS struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	GroundSpeed float64 `json:"ground_speed_kmh"`
	Heading     float64 `json:"heading_deg"`
	Altitude    int     `json:"altitude_m"`
	Satellites  uint8   `json:"satellites"`
}

type Vario struct {
	VerticalSpeed float64 `json:"vertical_speed_ms"`
}

type BaroAltitude struct {
	Altitude      float64 `json:"altitude_m"`
	VerticalSpeed float64 `json:"vertical_speed_ms"`
}

type Attitude struct {
	Pitch float64 `json:"pitch_rad"`
	Roll  float64 `json:"roll_rad"`
	Yaw   float64 `json:"yaw_rad"`
}

type LinkStatistics struct {
	UplinkRSSI      int   `json:"uplink_rssi_dbm"`
	UplinkRSSI1     int   `json:"uplink_rssi1_dbm"`
	UplinkRSSI2     int   `json:"uplink_rssi2_dbm"`
	UplinkQuality   uint8 `json:"uplink_lq"`
	UplinkSNR       int8  `json:"uplink_snr_db"`
	ActiveAntenna   uint8 `json:"active_antenna"`
	RFMode          uint8 `json:"rf_mode"`
	UplinkTXPower   uint8 `json:"uplink_tx_power"`
	DownlinkRSSI    int   `json:"downlink_rssi_dbm"`
	DownlinkQuality uint8 `json:"downlink_lq"`
	DownlinkSNR     int8  `json:"downlink_snr_db"`
}

type Channels struct {
	Raw    []int16 `json:"raw"`
	Micros []int   `json:"us"`
}

// Raw carries frames of types without a decoder.
type Raw struct {
	Addr    byte   `json:"addr"`
	Type    byte   `json:"frame_type"`
	Payload string `json:"payload_hex"`
}

// LinkState is emitted on link transitions.
type LinkState struct {
	Up bool `json:"up"`
}

const TypeLink = "link"

// FromFrame converts a frame into an event. ok is false for truncated
// payloads of known types.
func FromFrame(fr crsf.Frame, now time.Time) (Event, bool) {
	rec, known, err := crsf.Decode(fr)
	if err != nil {
		return Event{}, false
	}
	ev := Event{Type: crsf.TypeName(fr.Type), Time: now}
	if !known {
		ev.Data = Raw{Addr: fr.Addr, Type: fr.Type, Payload: hex.EncodeToString(fr.Payload)}
		return ev, true
	}
	switch v := rec.(type) {
	case crsf.Battery:
		ev.Data = Battery{Voltage: v.Volts(), Current: v.Amps(), CapacityMAh: v.Capacity, Remaining: v.Remaining}
	case crsf.GPS:
		ev.Data = GPS{
			Latitude:    v.LatitudeDeg(),
			Longitude:   v.LongitudeDeg(),
			GroundSpeed: v.SpeedKmh(),
			Heading:     v.HeadingDeg(),
			Altitude:    v.AltitudeM(),
			Satellites:  v.Satellites,
		}
	case crsf.Vario:
		ev.Data = Vario{VerticalSpeed: float64(v.VerticalSpeed) / 100}
	case crsf.BaroAltitude:
		ev.Data = BaroAltitude{Altitude: v.Meters(), VerticalSpeed: float64(v.VerticalSpeed) / 100}
	case crsf.Attitude:
		ev.Data = Attitude{Pitch: v.PitchRad(), Roll: v.RollRad(), Yaw: v.YawRad()}
	case crsf.LinkStatistics:
		ev.Data = LinkStatistics{
			UplinkRSSI:      v.UplinkRSSIdBm(),
			UplinkRSSI1:     -int(v.UplinkRSSI1),
			UplinkRSSI2:     -int(v.UplinkRSSI2),
			UplinkQuality:   v.UplinkLinkQuality,
			UplinkSNR:       v.UplinkSNR,
			ActiveAntenna:   v.ActiveAntenna,
			RFMode:          v.RFMode,
			UplinkTXPower:   v.UplinkTXPower,
			DownlinkRSSI:    -int(v.DownlinkRSSI),
			DownlinkQuality: v.DownlinkQuality,
			DownlinkSNR:     v.DownlinkSNR,
		}
	case crsf.Channels:
		c := Channels{Raw: make([]int16, len(v)), Micros: make([]int, len(v))}
		for i, x := range v {
			c.Raw[i] = x
			c.Micros[i] = crsf.ChannelToMicros(x)
		}
		ev.Data = c
	}
	return ev, true
}

// LinkEvent builds the event for a link transition.
func LinkEvent(up bool, at time.Time) Event {
	return Event{Type: TypeLink, Time: at, Data: LinkState{Up: up}}
}

// Pump drains a hub client, converting frames to events for fn until ctx is
// done or the client is closed. Frames that do not convert are skipped.
func Pump(ctx context.Context, cl *hub.Client, now func() time.Time, fn func(Event)) {
	if now == nil {
		now = time.Now
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.Closed:
			return
		case fr := <-cl.Out:
			if ev, ok := FromFrame(fr, now()); ok {
				fn(ev)
			}
		}
	}
}

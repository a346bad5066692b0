package telemetry

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/hub"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func frame(t *testing.T, typ byte, payload []byte) crsf.Frame {
	t.Helper()
	fr, err := crsf.NewFrame(crsf.AddrRadioTransmitter, typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	return fr
}

func TestFromFrame(t *testing.T) {
	cases := []struct {
		name string
		fr   crsf.Frame
		typ  string
		want any
	}{
		{
			"battery",
			frame(t, crsf.TypeBattery, crsf.Battery{Voltage: 168, Current: 25, Capacity: 650, Remaining: 77}.Payload()),
			"battery",
			Battery{Voltage: 16.8, Current: 2.5, CapacityMAh: 650, Remaining: 77},
		},
		{
			"vario",
			frame(t, crsf.TypeVario, crsf.Vario{VerticalSpeed: -150}.Payload()),
			"vario",
			Vario{VerticalSpeed: -1.5},
		},
		{
			"baro short form",
			frame(t, crsf.TypeBaroAltitude, []byte{0x27, 0x42}), // 10050 -> 5.0 m
			"baro_altitude",
			BaroAltitude{Altitude: 5},
		},
		{
			"attitude",
			frame(t, crsf.TypeAttitude, crsf.Attitude{Pitch: 5000, Roll: -2500, Yaw: 31415}.Payload()),
			"attitude",
			Attitude{Pitch: 0.5, Roll: -0.25, Yaw: 3.1415},
		},
		{
			"unknown",
			frame(t, 0x29, []byte{0xAB, 0xCD}),
			"other",
			Raw{Addr: crsf.AddrRadioTransmitter, Type: 0x29, Payload: "abcd"},
		},
	}
	for _, c := range cases {
		ev, ok := FromFrame(c.fr, t0)
		if !ok {
			t.Fatalf("%s: not converted", c.name)
		}
		if ev.Type != c.typ || !ev.Time.Equal(t0) {
			t.Fatalf("%s: envelope %+v", c.name, ev)
		}
		if !approxEqual(ev.Data, c.want) {
			t.Fatalf("%s: data %+v want %+v", c.name, ev.Data, c.want)
		}
	}
}

func approxEqual(got, want any) bool {
	switch w := want.(type) {
	case Attitude:
		g, ok := got.(Attitude)
		return ok && near(g.Pitch, w.Pitch) && near(g.Roll, w.Roll) && near(g.Yaw, w.Yaw)
	case Battery:
		g, ok := got.(Battery)
		return ok && near(g.Voltage, w.Voltage) && near(g.Current, w.Current) && g.CapacityMAh == w.CapacityMAh && g.Remaining == w.Remaining
	default:
		return got == want
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFromFrameLinkStatistics(t *testing.T) {
	ls := crsf.LinkStatistics{UplinkRSSI1: 60, UplinkRSSI2: 72, UplinkLinkQuality: 100, UplinkSNR: -3, ActiveAntenna: 1, DownlinkRSSI: 55}
	ev, ok := FromFrame(frame(t, crsf.TypeLinkStatistics, ls.Payload()), t0)
	if !ok {
		t.Fatal("not converted")
	}
	d := ev.Data.(LinkStatistics)
	if d.UplinkRSSI != -72 || d.UplinkQuality != 100 || d.UplinkSNR != -3 || d.DownlinkRSSI != -55 {
		t.Fatalf("link stats %+v", d)
	}
}

func TestFromFrameChannels(t *testing.T) {
	wire := crsf.EncodeChannels(crsf.CenteredChannels())
	fr, err := crsf.ParseFrame(wire)
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := FromFrame(fr, t0)
	if !ok || ev.Type != "rc_channels" {
		t.Fatalf("event %+v", ev)
	}
	c := ev.Data.(Channels)
	if len(c.Raw) != crsf.NumChannels || c.Micros[0] != 1500 {
		t.Fatalf("channels %+v", c)
	}
}

func TestFromFrameShortPayload(t *testing.T) {
	if _, ok := FromFrame(frame(t, crsf.TypeBattery, []byte{1, 2, 3}), t0); ok {
		t.Fatalf("short battery converted")
	}
}

func TestEventJSON(t *testing.T) {
	ev := LinkEvent(true, t0)
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	const want = `{"type":"link","time":"2024-05-01T12:00:00Z","data":{"up":true}}`
	if string(b) != want {
		t.Fatalf("json %s\nwant %s", b, want)
	}
}

func TestPump(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cl := hub.NewClient("test", 4)
	cl.Out <- frame(t, crsf.TypeBattery, []byte{1}) // skipped
	cl.Out <- frame(t, crsf.TypeVario, crsf.Vario{VerticalSpeed: 20}.Payload())
	got := make(chan Event, 4)
	done := make(chan struct{})
	go func() {
		Pump(ctx, cl, func() time.Time { return t0 }, func(ev Event) { got <- ev })
		close(done)
	}()
	select {
	case ev := <-got:
		if ev.Type != "vario" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	cl.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit on close")
	}
}

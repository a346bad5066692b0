package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/recorder"
	"github.com/kstaniek/go-crsf-bridge/internal/telemetry"
)

type statusView struct {
	LinkUp        bool                       `json:"link_up"`
	LastReceive   *time.Time                 `json:"last_receive,omitempty"`
	LastChannels  *time.Time                 `json:"last_channels,omitempty"`
	ControlActive bool                       `json:"control_active"`
	Clients       int                        `json:"clients"`
	Telemetry     map[string]telemetry.Event `json:"telemetry"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// buildStatus renders the records that have been received at least once.
func buildStatus(s crsf.Snapshot) statusView {
	v := statusView{
		LinkUp:       s.LinkUp,
		LastReceive:  timePtr(s.LastReceive),
		LastChannels: timePtr(s.LastChannels),
		Telemetry:    map[string]telemetry.Event{},
	}
	records := map[byte]crsf.Frame{}
	add := func(typ byte, payload []byte) {
		if _, ok := s.Updated[typ]; ok {
			fr, err := crsf.NewFrame(crsf.AddrRadioTransmitter, typ, payload)
			if err == nil {
				records[typ] = fr
			}
		}
	}
	add(crsf.TypeBattery, s.Battery.Payload())
	add(crsf.TypeGPS, s.GPS.Payload())
	add(crsf.TypeVario, s.Vario.Payload())
	add(crsf.TypeBaroAltitude, s.BaroAltitude.Payload())
	add(crsf.TypeAttitude, s.Attitude.Payload())
	add(crsf.TypeLinkStatistics, s.LinkStatistics.Payload())
	for typ, fr := range records {
		if ev, ok := telemetry.FromFrame(fr, s.Updated[typ]); ok {
			v.Telemetry[ev.Type] = ev
		}
	}
	return v
}

func statusHandler(b *serialBackend, clients func() int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		v := buildStatus(b.Status())
		v.ControlActive = b.rep.Active()
		if clients != nil {
			v.Clients = clients()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	})
}

// recentHandler serves /telemetry?type=battery&limit=50 from the recorder.
// Without type every event type is returned.
func recentHandler(rec *recorder.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		typ := r.URL.Query().Get("type")
		limit := 100
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 10000 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		rows, err := rec.Recent(r.Context(), typ, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	})
}

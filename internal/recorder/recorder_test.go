package recorder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/crsf"
	"github.com/kstaniek/go-crsf-bridge/internal/hub"
	"github.com/kstaniek/go-crsf-bridge/internal/telemetry"
)

func openTemp(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestOpenPathWithURIChars(t *testing.T) {
	dir := t.TempDir()
	name := "flight?mode=ro#1%.db"
	r, err := Open(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = r.Insert(context.Background(), []telemetry.Event{{Type: "vario", Time: time.Now(), Data: telemetry.Vario{VerticalSpeed: 1}}})
	_ = r.Close()
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Fatalf("database not created under its literal name: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "flight")); err == nil {
		t.Fatalf("path was cut at '?'")
	}
}

func TestFileDSN(t *testing.T) {
	got := fileDSN("/data/a b?c#d.db")
	want := "file:/data/a%20b%3Fc%23d.db?"
	if !strings.HasPrefix(got, want) {
		t.Fatalf("dsn %q, want prefix %q", got, want)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	r := openTemp(t)
	if err := r.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestInsertAndRecent(t *testing.T) {
	r := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	evs := []telemetry.Event{
		{Type: "battery", Time: base, Data: telemetry.Battery{Voltage: 16.8, Remaining: 80}},
		{Type: "vario", Time: base.Add(time.Second), Data: telemetry.Vario{VerticalSpeed: 1.5}},
		{Type: "battery", Time: base.Add(2 * time.Second), Data: telemetry.Battery{Voltage: 16.6, Remaining: 79}},
	}
	if err := r.Insert(ctx, evs); err != nil {
		t.Fatal(err)
	}
	rows, err := r.Recent(ctx, "battery", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || !rows[0].Time.Equal(base.Add(2*time.Second)) {
		t.Fatalf("rows %+v", rows)
	}
	var b telemetry.Battery
	if err := json.Unmarshal(rows[0].Payload, &b); err != nil || b.Remaining != 79 {
		t.Fatalf("payload %s err %v", rows[0].Payload, err)
	}
	all, err := r.Recent(ctx, "", 1)
	if err != nil || len(all) != 1 || all[0].Type != "battery" {
		t.Fatalf("all %+v err %v", all, err)
	}
}

func TestRunFlushesOnClose(t *testing.T) {
	r := openTemp(t)
	r.flushInterval = time.Hour
	cl := hub.NewClient("recorder", 8)
	fr, err := crsf.NewFrame(crsf.AddrRadioTransmitter, crsf.TypeVario, crsf.Vario{VerticalSpeed: 42}.Payload())
	if err != nil {
		t.Fatal(err)
	}
	cl.Out <- fr
	cl.Out <- fr
	done := make(chan struct{})
	go func() { r.Run(context.Background(), cl); close(done) }()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(cl.Out) > 0 {
		time.Sleep(2 * time.Millisecond)
	}
	cl.Close()
	<-done
	rows, err := r.Recent(context.Background(), "vario", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("recorded %d rows, want 2", len(rows))
	}
}

func TestRecordLinkEvent(t *testing.T) {
	r := openTemp(t)
	r.Record(telemetry.LinkEvent(false, time.Now()))
	rows, err := r.Recent(context.Background(), telemetry.TypeLink, 1)
	if err != nil || len(rows) != 1 || string(rows[0].Payload) != `{"up":false}` {
		t.Fatalf("rows %+v err %v", rows, err)
	}
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSnapMirrorsCounters(t *testing.T) {
	pre := Snap()
	IncSerialRx("battery")
	AddSerialRxBytes(12)
	IncResync("bad_crc")
	IncDecodeShort()
	IncError(ErrSerialRead)
	post := Snap()
	if post.SerialRx-pre.SerialRx != 1 || post.SerialRxBytes-pre.SerialRxBytes != 12 {
		t.Fatalf("rx mirrors pre=%+v post=%+v", pre, post)
	}
	if post.Resyncs-pre.Resyncs != 1 || post.DecodeShort-pre.DecodeShort != 1 || post.Errors-pre.Errors != 1 {
		t.Fatalf("counters pre=%+v post=%+v", pre, post)
	}
}

func TestSetLinkUp(t *testing.T) {
	pre := Snap()
	SetLinkUp(true)
	if !Snap().LinkUp {
		t.Fatalf("link gauge not up")
	}
	SetLinkUp(false)
	post := Snap()
	if post.LinkUp || post.LinkDowns-pre.LinkDowns != 1 {
		t.Fatalf("link down not recorded: %+v", post)
	}
}

func TestMuxReadyAndRoutes(t *testing.T) {
	defer SetReadinessFunc(nil)
	mux := NewMux(Route{Pattern: "/ping", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	SetReadinessFunc(func() bool { return false })
	resp, err := http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ready status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(b) != "pong" {
		t.Fatalf("extra route body %q", b)
	}

	IncSerialRx("gps")
	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), `crsf_rx_frames_total{type="gps"}`) {
		t.Fatalf("metrics output missing rx series")
	}
}

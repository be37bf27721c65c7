package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mi-sensor-bridge/internal/journal"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeBroker struct{ connected bool }

func (f fakeBroker) IsConnected() bool { return f.connected }

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		broker ConnectionChecker
		want   int
	}{
		{name: "connected", broker: fakeBroker{connected: true}, want: http.StatusOK},
		{name: "disconnected", broker: fakeBroker{connected: false}, want: http.StatusServiceUnavailable},
		{name: "no broker", broker: nil, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewServer("", NewMux(tt.broker, prometheus.NewRegistry(), nil)).Handler)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/healthz")
			if err != nil {
				t.Fatalf("GET /healthz: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Fatalf("status=%d want=%d", resp.StatusCode, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode json: %v", err)
			}
			if body["status"] != "ok" {
				t.Fatalf("body.status=%q want=%q", body["status"], "ok")
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "mi_sensor_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(NewMux(fakeBroker{connected: true}, reg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(b), "mi_sensor_test_total 1") {
		t.Errorf("metrics output missing counter:\n%s", b)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := httptest.NewServer(NewMux(fakeBroker{connected: true}, prometheus.NewRegistry(), nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status=%d want=%d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestWriteError_Body(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusServiceUnavailable, "mqtt not connected")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Code = %d; want %d", w.Code, http.StatusServiceUnavailable)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	var got errorBody
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	want := errorBody{Error: "Service Unavailable", Message: "mqtt not connected"}
	if got != want {
		t.Errorf("body = %+v, want %+v", got, want)
	}
}

type fakeHistory struct {
	entries []journal.Entry
	err     error

	gotMAC   string
	gotLimit int
}

func (f *fakeHistory) Recent(_ context.Context, mac string, limit int) ([]journal.Entry, error) {
	f.gotMAC, f.gotLimit = mac, limit
	return f.entries, f.err
}

func TestSensorReadings(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stored := []journal.Entry{{
		MAC:          "aa:bb:cc:dd:ee:ff",
		Topic:        "mi_sensor/aa:bb:cc:dd:ee:ff",
		Temperature:  2350,
		Humidity:     4500,
		BatteryMV:    3000,
		BatteryLevel: 80,
		Counter:      7,
		RSSI:         -70,
		RawHex:       "ffeeddccbbaa",
		ForwardedAt:  at,
	}}

	tests := []struct {
		name      string
		path      string
		history   *fakeHistory
		want      int
		wantMAC   string
		wantLimit int
	}{
		{name: "default limit", path: "/sensors/AA:BB:CC:DD:EE:FF/readings", history: &fakeHistory{entries: stored}, want: http.StatusOK, wantMAC: "aa:bb:cc:dd:ee:ff", wantLimit: 20},
		{name: "explicit limit", path: "/sensors/aa:bb:cc:dd:ee:ff/readings?limit=5", history: &fakeHistory{entries: stored}, want: http.StatusOK, wantMAC: "aa:bb:cc:dd:ee:ff", wantLimit: 5},
		{name: "empty history", path: "/sensors/01:02:03:04:05:06/readings", history: &fakeHistory{}, want: http.StatusOK, wantMAC: "01:02:03:04:05:06", wantLimit: 20},
		{name: "bad mac", path: "/sensors/nope/readings", history: &fakeHistory{}, want: http.StatusBadRequest},
		{name: "bad limit", path: "/sensors/aa:bb:cc:dd:ee:ff/readings?limit=0", history: &fakeHistory{}, want: http.StatusBadRequest},
		{name: "limit too large", path: "/sensors/aa:bb:cc:dd:ee:ff/readings?limit=501", history: &fakeHistory{}, want: http.StatusBadRequest},
		{name: "journal error", path: "/sensors/aa:bb:cc:dd:ee:ff/readings", history: &fakeHistory{err: errors.New("disk gone")}, want: http.StatusInternalServerError, wantMAC: "aa:bb:cc:dd:ee:ff", wantLimit: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewMux(fakeBroker{connected: true}, prometheus.NewRegistry(), tt.history))
			defer srv.Close()

			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Fatalf("status=%d want=%d", resp.StatusCode, tt.want)
			}
			if tt.history.gotMAC != tt.wantMAC || tt.history.gotLimit != tt.wantLimit {
				t.Errorf("Recent(%q, %d), want (%q, %d)", tt.history.gotMAC, tt.history.gotLimit, tt.wantMAC, tt.wantLimit)
			}
			if tt.want != http.StatusOK {
				return
			}

			var got []readingView
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("decode json: %v", err)
			}
			if got == nil {
				t.Fatal("body decoded to null, want a JSON array")
			}
			if len(got) != len(tt.history.entries) {
				t.Fatalf("got %d readings, want %d", len(got), len(tt.history.entries))
			}
			if len(got) > 0 {
				r := got[0]
				if r.Temperature != 2350 || r.Counter != 7 || r.Raw != "ffeeddccbbaa" || !r.ForwardedAt.Equal(at) {
					t.Errorf("reading = %+v", r)
				}
			}
		})
	}
}

func TestSensorReadings_NotServedWithoutJournal(t *testing.T) {
	srv := httptest.NewServer(NewMux(fakeBroker{connected: true}, prometheus.NewRegistry(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sensors/aa:bb:cc:dd:ee:ff/readings")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}
}

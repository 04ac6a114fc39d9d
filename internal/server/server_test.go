package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unklstewy/heliostat/internal/app"
	"github.com/unklstewy/heliostat/internal/observability"
	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/config"
	"github.com/unklstewy/heliostat/pkg/gps"
	"github.com/unklstewy/heliostat/pkg/tracker"
)

type fakeController struct {
	submitted []app.Action
	err       error
	snap      tracker.Snapshot
	stats     gps.Stats
}

func (f *fakeController) Submit(_ context.Context, a app.Action) error {
	f.submitted = append(f.submitted, a)
	return f.err
}

func (f *fakeController) Latest() tracker.Snapshot { return f.snap }
func (f *fakeController) GPSStats() gps.Stats      { return f.stats }

func newTestServer(t *testing.T, ctrl *fakeController) *Server {
	t.Helper()
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	return New(config.ServerConfig{Listen: ":0"}, ctrl, metrics, log.New(io.Discard, "", 0))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestStatus(t *testing.T) {
	ctrl := &fakeController{
		snap: tracker.Snapshot{
			State:       tracker.StateTracking,
			DeviceState: "Idle",
			Fix:         &gps.Fix{Latitude: 40, Longitude: -105, Time: time.Date(2024, 6, 21, 19, 0, 0, 0, time.UTC)},
		},
		stats: gps.Stats{Fixes: 3},
	}
	s := newTestServer(t, ctrl)

	rr := do(t, s, http.MethodGet, "/api/v1/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got struct {
		State       string `json:"state"`
		DeviceState string `json:"device_state"`
		Fix         *struct {
			Latitude float64 `json:"latitude"`
		} `json:"fix"`
		GPS gps.Stats `json:"gps"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.State != "TRACKING" || got.DeviceState != "Idle" {
		t.Errorf("state = %q/%q", got.State, got.DeviceState)
	}
	if got.Fix == nil || got.Fix.Latitude != 40 {
		t.Errorf("fix = %+v", got.Fix)
	}
	if got.GPS.Fixes != 3 {
		t.Errorf("gps fixes = %d", got.GPS.Fixes)
	}
}

func TestActions(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		want   app.Action
		status int
	}{
		{"home", "/api/v1/home", "", app.Home(), http.StatusOK},
		{"track", "/api/v1/track", "", app.Track(), http.StatusOK},
		{"jog", "/api/v1/jog/left", "", app.Jog(tracker.DirLeft), http.StatusOK},
		{"command", "/api/v1/command", `{"command":"$X"}`, app.Command("$X"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{}
			s := newTestServer(t, ctrl)

			rr := do(t, s, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
			}
			if len(ctrl.submitted) != 1 || ctrl.submitted[0] != tt.want {
				t.Errorf("submitted = %v, want %v", ctrl.submitted, tt.want)
			}
		})
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown direction", "/api/v1/jog/sideways", ""},
		{"command not json", "/api/v1/command", "$H"},
		{"empty command", "/api/v1/command", `{"command":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{}
			s := newTestServer(t, ctrl)

			rr := do(t, s, http.MethodPost, tt.path, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
			if len(ctrl.submitted) != 0 {
				t.Errorf("submitted %v", ctrl.submitted)
			}
		})
	}
}

func TestActionErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{tracker.ErrNotHomed, http.StatusConflict},
		{tracker.ErrHalted, http.StatusConflict},
		{tracker.ErrHomingInProgress, http.StatusConflict},
		{fmt.Errorf("send: %w", transport.ErrNotConnected), http.StatusBadGateway},
		{app.ErrStopped, http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := newTestServer(t, &fakeController{err: tt.err})

			rr := do(t, s, http.MethodPost, "/api/v1/track", "")
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			var body map[string]string
			json.NewDecoder(rr.Body).Decode(&body)
			if body["error"] != tt.err.Error() {
				t.Errorf("error body = %q", body["error"])
			}
		})
	}
}

func TestSun(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(t, ctrl)

	rr := do(t, s, http.MethodGet, "/api/v1/sun?lat=40&lon=-105&time=2024-06-21T19:00:00Z", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
	}
	var sun struct {
		Altitude float64 `json:"altitude"`
		Azimuth  float64 `json:"azimuth"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&sun); err != nil {
		t.Fatal(err)
	}
	if sun.Altitude < 73 || sun.Altitude > 74 || sun.Azimuth < 178 || sun.Azimuth > 179 {
		t.Errorf("sun = %+v, want about 73.4/178.4", sun)
	}

	if rr := do(t, s, http.MethodGet, "/api/v1/sun", ""); rr.Code != http.StatusConflict {
		t.Errorf("without fix: status = %d, want 409", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/api/v1/sun?lat=95&lon=0", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("lat 95: status = %d, want 400", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/api/v1/sun?lat=1&lon=1&time=noon", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad time: status = %d, want 400", rr.Code)
	}

	ctrl.snap.Fix = &gps.Fix{Latitude: 40, Longitude: -105}
	if rr := do(t, s, http.MethodGet, "/api/v1/sun", ""); rr.Code != http.StatusOK {
		t.Errorf("with fix: status = %d, want 200", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeController{})
	do(t, s, http.MethodPost, "/api/v1/home", "")

	rr := do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `route="/api/v1/home"`) {
		t.Error("/metrics does not count the home request")
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeController{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/home", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	s := newTestServer(t, &fakeController{})
	s.cfg.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

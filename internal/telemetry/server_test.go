package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/huetrack/internal/config"
	"github.com/GriffinCanCode/huetrack/internal/history"
	"github.com/GriffinCanCode/huetrack/internal/pipeline"
)

type mockController struct {
	mu      sync.Mutex
	stops   int
	reloads int
}

func (m *mockController) Status() pipeline.Status {
	return pipeline.Status{Session: "s1", State: pipeline.Running, Source: "images"}
}

func (m *mockController) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func (m *mockController) Reload() {
	m.mu.Lock()
	m.reloads++
	m.mu.Unlock()
}

func (m *mockController) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops, m.reloads
}

type mockSwitch struct {
	mu      sync.Mutex
	enabled bool
}

func (m *mockSwitch) SetEnabled(v bool) {
	m.mu.Lock()
	m.enabled = v
	m.mu.Unlock()
}

func (m *mockSwitch) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func newTestServer(rate float64) (*Server, *mockController, *mockSwitch, *history.Store) {
	ctrl := &mockController{}
	sw := &mockSwitch{enabled: true}
	hist := history.NewStore(16)
	return New(ctrl, hist, sw, config.TelemetryConfig{StreamRate: rate}), ctrl, sw, hist
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/status", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Errorf("GET status = %d, want passthrough", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer(0)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("x-trace-id") == "" {
		t.Error("response should carry a trace id")
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["session"] != "s1" || body["state"] != "running" || body["output_enabled"] != true {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestControlEndpoints(t *testing.T) {
	s, ctrl, sw, _ := newTestServer(0)
	h := s.Handler()

	tests := []struct {
		path string
		code int
	}{
		{"/api/stop", http.StatusAccepted},
		{"/api/reload", http.StatusAccepted},
		{"/api/output/disable", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, http.NoBody))
		if rec.Code != tt.code {
			t.Errorf("POST %s = %d, want %d", tt.path, rec.Code, tt.code)
		}
	}
	if stops, reloads := ctrl.counts(); stops != 1 || reloads != 1 {
		t.Errorf("stops=%d reloads=%d, want 1,1", stops, reloads)
	}
	if sw.IsEnabled() {
		t.Error("output should be disabled")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stop", http.NoBody))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/stop = %d, want 405", rec.Code)
	}
}

func TestOutputWithoutSwitch(t *testing.T) {
	s := New(&mockController{}, history.NewStore(1), nil, config.TelemetryConfig{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/output/enable", http.NoBody))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s, _, _, hist := newTestServer(0)
	hist.FrameProcessed(pipeline.Report{Session: "s1", Seq: 3})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?seconds=60", http.NoBody))
	var body struct {
		Reports []history.Entry `json:"reports"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Reports) != 1 || body.Reports[0].Report.Seq != 3 {
		t.Errorf("reports = %+v", body.Reports)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?seconds=abc", http.NoBody))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad seconds status = %d, want 400", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{}
	now := time.Now()
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow(now) {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if rl.allow(now) {
		t.Error("message over the limit should be rejected")
	}
	if !rl.allow(now.Add(RateLimitWindow + time.Millisecond)) {
		t.Error("window should slide")
	}
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func TestWebSocketStreamsEvents(t *testing.T) {
	s, _, _, hist := newTestServer(0)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn, ctx := dial(t, srv)

	var status StatusMessage
	if err := wsjson.Read(ctx, conn, &status); err != nil {
		t.Fatal(err)
	}
	if status.Type != "status" || status.Status.Session != "s1" {
		t.Errorf("first message = %+v", status)
	}

	// The subscription exists once the status message has been sent.
	hist.FrameProcessed(pipeline.Report{Session: "s1", Seq: 9})

	var ev history.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != history.KindReport || ev.Report == nil || ev.Report.Seq != 9 {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocketControl(t *testing.T) {
	s, ctrl, sw, _ := newTestServer(0)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn, ctx := dial(t, srv)

	var status StatusMessage
	if err := wsjson.Read(ctx, conn, &status); err != nil {
		t.Fatal(err)
	}

	off := false
	msgs := []ControlMessage{
		{Type: "stop", TraceID: "abc"},
		{Type: "reload"},
		{Type: "output", Enabled: &off},
	}
	for _, m := range msgs {
		if err := wsjson.Write(ctx, conn, m); err != nil {
			t.Fatal(err)
		}
		var ack AckMessage
		if err := wsjson.Read(ctx, conn, &ack); err != nil {
			t.Fatal(err)
		}
		if ack.Type != "ack" || ack.Action != m.Type {
			t.Errorf("ack = %+v, want ack for %s", ack, m.Type)
		}
	}
	if stops, reloads := ctrl.counts(); stops != 1 || reloads != 1 {
		t.Errorf("stops=%d reloads=%d", stops, reloads)
	}
	if sw.IsEnabled() {
		t.Error("output should be disabled over websocket")
	}

	if err := wsjson.Write(ctx, conn, ControlMessage{Type: "dance"}); err != nil {
		t.Fatal(err)
	}
	var e ErrorMessage
	if err := wsjson.Read(ctx, conn, &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != "error" {
		t.Errorf("unknown type reply = %+v", e)
	}
}

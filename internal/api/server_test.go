package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alertr/alertrd/internal/alerter"
	"github.com/alertr/alertrd/internal/logging"
	"github.com/alertr/alertrd/internal/types"
)

type fakeEngine struct {
	running atomic.Bool
}

func (f *fakeEngine) Snapshot() alerter.Snapshot {
	return alerter.Snapshot{Running: f.running.Load(), InFlight: 2, Triggered: 5}
}

func newTestServer(running bool) (*Server, *fakeEngine) {
	eng := &fakeEngine{}
	eng.running.Store(running)
	levels := []types.AlertLevel{{Level: 1, Name: "home", TriggerAlertTriggered: true}}
	return NewServer(eng, levels, zerolog.Nop(), ":0"), eng
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: invalid json: %v", path, err)
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s, eng := newTestServer(true)
	rec, body := get(t, s.Router(), "/health")
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("code=%d body=%v", rec.Code, body)
	}

	eng.running.Store(false)
	rec, _ = get(t, s.Router(), "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stopped engine reported %d", rec.Code)
	}
}

func TestStatusAndAlertLevels(t *testing.T) {
	s, _ := newTestServer(true)
	h := s.Router()

	_, body := get(t, h, "/status")
	engine, ok := body["engine"].(map[string]any)
	if !ok || engine["in_flight"] != float64(2) || engine["triggered_total"] != float64(5) {
		t.Fatalf("unexpected status: %v", body)
	}
	if _, ok := body["version"].(map[string]any); !ok {
		t.Fatalf("version missing: %v", body)
	}

	_, body = get(t, h, "/alert-levels")
	if body["count"] != float64(1) {
		t.Fatalf("unexpected alert levels: %v", body)
	}
}

func TestLogsAPI(t *testing.T) {
	s, _ := newTestServer(true)
	buf := logging.NewLogBuffer(10)
	for _, msg := range []string{"one", "two", "three"} {
		_, _ = buf.Write([]byte(`{"level":"info","component":"engine","message":"` + msg + `"}`))
	}
	s.SetLogBuffer(buf)
	h := s.Router()

	_, body := get(t, h, "/api/logs?limit=2")
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %v", body)
	}
	if last := entries[1].(map[string]any); last["message"] != "three" {
		t.Fatalf("unexpected last entry: %v", last)
	}

	rec, _ := get(t, h, "/api/logs?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit accepted: %d", rec.Code)
	}
}

func TestMetricsAndCORS(t *testing.T) {
	s, _ := newTestServer(true)
	h := s.Router()

	rec, _ := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics code %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("missing CORS header")
	}
}

func TestHealthServer_ReportsEngine(t *testing.T) {
	eng := &fakeEngine{}
	eng.running.Store(true)
	hs := NewHealthServer(eng, zerolog.Nop(), "127.0.0.1:0")
	if err := hs.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hs.Serve(ctx) }()

	conn, err := grpc.Dial(hs.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	deadline := time.Now().Add(3 * time.Second)
	for {
		cctx, ccancel := context.WithTimeout(ctx, time.Second)
		resp, err := client.Check(cctx, &healthpb.HealthCheckRequest{Service: EngineService})
		ccancel()
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("engine never reported SERVING: resp=%v err=%v", resp, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

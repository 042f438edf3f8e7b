package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Refresh("ok")
	m.Refresh("ok")
	m.Refresh("fetch_error")
	m.Skipped()
	m.ObserveFetch("history", time.Now())
	m.ObserveStore("replace", time.Now())
	m.StoreReadError()
	m.ObserveOverlay(time.Millisecond)
	m.SetCachedPoints(1500)
	m.SetBreakerState(1, true)

	got := gathered(t, reg)
	want := map[string]float64{
		"pricewatch_refresh_total{result=ok}":                    2,
		"pricewatch_refresh_total{result=fetch_error}":           1,
		"pricewatch_load_skipped_total":                          1,
		"pricewatch_provider_fetch_duration_seconds{op=history}": 1,
		"pricewatch_store_op_duration_seconds{op=replace}":       1,
		"pricewatch_store_read_errors_total":                     1,
		"pricewatch_overlay_compute_duration_seconds":            1,
		"pricewatch_cached_points":                               1500,
		"pricewatch_breaker_state":                               1,
		"pricewatch_breaker_trips_total":                         1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Refresh("ok")
	m.Skipped()
	m.ObserveFetch("range", time.Now())
	m.ObserveStore("fetch", time.Now())
	m.StoreReadError()
	m.ObserveOverlay(time.Second)
	m.SetCachedPoints(3)
	m.SetBreakerState(0, false)
}

// ────────────────────────────────────────────────────────────
// Health
// ────────────────────────────────────────────────────────────

func healthz(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHealth_Status(t *testing.T) {
	h := NewHealthStatus("bunt")

	code, body := healthz(t, h)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("fresh status: %d %v", code, body["status"])
	}
	if body["store_backend"] != "bunt" || body["last_refresh_at"] != "" {
		t.Errorf("unexpected body: %v", body)
	}

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	h.SetRefresh(at, "transport error: 503")
	code, body = healthz(t, h)
	if code != http.StatusOK || body["status"] != "degraded" {
		t.Fatalf("after failed refresh: %d %v", code, body["status"])
	}
	if body["last_refresh_at"] != "2026-03-01T08:00:00Z" || body["last_error"] != "transport error: 503" {
		t.Errorf("unexpected body: %v", body)
	}

	h.SetStoreOK(false)
	code, body = healthz(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Fatalf("store down: %d %v", code, body["status"])
	}

	h.SetRefresh(at.Add(time.Hour), "")
	h.SetStoreOK(true)
	if _, body = healthz(t, h); body["status"] != "healthy" {
		t.Errorf("recovered status = %v", body["status"])
	}
	if _, ok := body["last_error"]; ok {
		t.Error("last_error should be omitted once cleared")
	}
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).SetCachedPoints(42)
	srv := NewServer(":0", NewHealthStatus("sqlite"), reg, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pricewatch_cached_points 42") {
		t.Errorf("/metrics missing gauge:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rec.Code)
	}
}

package app

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandlerExposition(t *testing.T) {
	rm := newRuntimeMetrics()
	rm.setTracingEnabled(true)
	rm.observeDispatch("webpush", 201)
	rm.observeDispatch("fcm", 502)
	rm.observeReject(400, "ttl")
	rm.observeReject(413, "body_size")
	rm.observeReject(413, "body_size")

	h := newMetricsHandler("v1.2.3", time.Unix(1700000000, 0), rm)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("content type = %q", got)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"pushgate_up 1",
		`pushgate_build_info{version="v1.2.3"} 1`,
		"pushgate_start_time_seconds 1700000000",
		"pushgate_tracing_enabled 1",
		"pushgate_dispatch_total 2",
		"pushgate_dispatch_delivered_total 1",
		"pushgate_dispatch_failed_total 1",
		`pushgate_dispatch_router_total{router_type="fcm"} 1`,
		`pushgate_dispatch_router_total{router_type="webpush"} 1`,
		"pushgate_endpoint_rejected_total 3",
		`pushgate_endpoint_rejected_reason_total{reason="body_size"} 2`,
		`pushgate_endpoint_rejected_reason_total{reason="ttl"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestMetricsHandlerNilMetrics(t *testing.T) {
	h := newMetricsHandler("v1.2.3", time.Unix(1700000000, 0), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "pushgate_up 1") {
		t.Fatalf("expected up metric, got:\n%s", rec.Body.String())
	}
}

func TestStatusHandler(t *testing.T) {
	h := newStatusHandler("v1.2.3", time.Now().Add(-2*time.Second), "sqlite", []string{"webpush", "fcm"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	body := rec.Body.String()
	for _, want := range []string{`"version":"v1.2.3"`, `"store_kind":"sqlite"`, `"webpush"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("status missing %q: %s", want, body)
		}
	}
}

func TestHealthzHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	newHealthzHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

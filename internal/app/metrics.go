package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type runtimeMetrics struct {
	tracingEnabled           atomic.Int64
	tracingInitFailuresTotal atomic.Int64
	tracingExportErrorsTotal atomic.Int64

	dispatchTotal          atomic.Int64
	dispatchDeliveredTotal atomic.Int64
	dispatchFailedTotal    atomic.Int64

	rejectedTotal atomic.Int64

	mu               sync.Mutex
	dispatchByRouter map[string]int64
	rejectedByReason map[string]int64
}

func newRuntimeMetrics() *runtimeMetrics {
	return &runtimeMetrics{
		dispatchByRouter: make(map[string]int64),
		rejectedByReason: make(map[string]int64),
	}
}

func (m *runtimeMetrics) setTracingEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.tracingEnabled.Store(1)
		return
	}
	m.tracingEnabled.Store(0)
}

func (m *runtimeMetrics) incTracingInitFailures() {
	if m == nil {
		return
	}
	m.tracingInitFailuresTotal.Add(1)
}

func (m *runtimeMetrics) incTracingExportErrors() {
	if m == nil {
		return
	}
	m.tracingExportErrorsTotal.Add(1)
}

// observeDispatch records a dispatch that reached a router, keyed by the
// stored router type. Matches the coordinator's ObserveResult hook.
func (m *runtimeMetrics) observeDispatch(routerType string, status int) {
	if m == nil {
		return
	}
	m.dispatchTotal.Add(1)
	if status < 300 {
		m.dispatchDeliveredTotal.Add(1)
	} else {
		m.dispatchFailedTotal.Add(1)
	}
	m.mu.Lock()
	m.dispatchByRouter[routerType]++
	m.mu.Unlock()
}

// observeReject records a request that never reached a router. Matches
// the endpoint server's ObserveReject hook.
func (m *runtimeMetrics) observeReject(statusCode int, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.Add(1)
	m.mu.Lock()
	m.rejectedByReason[reason]++
	m.mu.Unlock()
}

func (m *runtimeMetrics) dispatchSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.dispatchByRouter))
	for k, v := range m.dispatchByRouter {
		out[k] = v
	}
	return out
}

func (m *runtimeMetrics) rejectedSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.rejectedByReason))
	for k, v := range m.rejectedByReason {
		out[k] = v
	}
	return out
}

func newMetricsHandler(version string, start time.Time, rm *runtimeMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		tracingEnabled := int64(0)
		tracingInitFailuresTotal := int64(0)
		tracingExportErrorsTotal := int64(0)
		dispatchTotal := int64(0)
		dispatchDeliveredTotal := int64(0)
		dispatchFailedTotal := int64(0)
		rejectedTotal := int64(0)
		var byRouter map[string]int64
		var byReason map[string]int64
		if rm != nil {
			tracingEnabled = rm.tracingEnabled.Load()
			tracingInitFailuresTotal = rm.tracingInitFailuresTotal.Load()
			tracingExportErrorsTotal = rm.tracingExportErrorsTotal.Load()
			dispatchTotal = rm.dispatchTotal.Load()
			dispatchDeliveredTotal = rm.dispatchDeliveredTotal.Load()
			dispatchFailedTotal = rm.dispatchFailedTotal.Load()
			rejectedTotal = rm.rejectedTotal.Load()
			byRouter = rm.dispatchSnapshot()
			byReason = rm.rejectedSnapshot()
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprintf(w, "# HELP pushgate_up Whether the Pushgate process is up.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_up gauge\n")
		_, _ = fmt.Fprintf(w, "pushgate_up 1\n")
		_, _ = fmt.Fprintf(w, "# HELP pushgate_build_info Build information.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_build_info gauge\n")
		_, _ = fmt.Fprintf(w, "pushgate_build_info{version=%q} 1\n", version)
		_, _ = fmt.Fprintf(w, "# HELP pushgate_start_time_seconds Start time since unix epoch.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_start_time_seconds gauge\n")
		_, _ = fmt.Fprintf(w, "pushgate_start_time_seconds %d\n", start.Unix())
		_, _ = fmt.Fprintf(w, "# HELP pushgate_tracing_enabled Whether tracing is enabled.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_tracing_enabled gauge\n")
		_, _ = fmt.Fprintf(w, "pushgate_tracing_enabled %d\n", tracingEnabled)
		_, _ = fmt.Fprintf(w, "# HELP pushgate_tracing_init_failures_total Total number of tracing initialization failures.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_tracing_init_failures_total counter\n")
		_, _ = fmt.Fprintf(w, "pushgate_tracing_init_failures_total %d\n", tracingInitFailuresTotal)
		_, _ = fmt.Fprintf(w, "# HELP pushgate_tracing_export_errors_total Total number of tracing exporter errors reported by OpenTelemetry.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_tracing_export_errors_total counter\n")
		_, _ = fmt.Fprintf(w, "pushgate_tracing_export_errors_total %d\n", tracingExportErrorsTotal)
		_, _ = fmt.Fprintf(w, "# HELP pushgate_dispatch_total Total number of notifications handed to a router.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_dispatch_total counter\n")
		_, _ = fmt.Fprintf(w, "pushgate_dispatch_total %d\n", dispatchTotal)
		_, _ = fmt.Fprintf(w, "# HELP pushgate_dispatch_delivered_total Total number of dispatches the router accepted.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_dispatch_delivered_total counter\n")
		_, _ = fmt.Fprintf(w, "pushgate_dispatch_delivered_total %d\n", dispatchDeliveredTotal)
		_, _ = fmt.Fprintf(w, "# HELP pushgate_dispatch_failed_total Total number of dispatches the router failed.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_dispatch_failed_total counter\n")
		_, _ = fmt.Fprintf(w, "pushgate_dispatch_failed_total %d\n", dispatchFailedTotal)
		if len(byRouter) > 0 {
			_, _ = fmt.Fprintf(w, "# HELP pushgate_dispatch_router_total Total number of dispatches per router type.\n")
			_, _ = fmt.Fprintf(w, "# TYPE pushgate_dispatch_router_total counter\n")
			for _, rt := range sortedKeys(byRouter) {
				_, _ = fmt.Fprintf(w, "pushgate_dispatch_router_total{router_type=%q} %d\n", rt, byRouter[rt])
			}
		}
		_, _ = fmt.Fprintf(w, "# HELP pushgate_endpoint_rejected_total Total number of requests rejected before reaching a router.\n")
		_, _ = fmt.Fprintf(w, "# TYPE pushgate_endpoint_rejected_total counter\n")
		_, _ = fmt.Fprintf(w, "pushgate_endpoint_rejected_total %d\n", rejectedTotal)
		if len(byReason) > 0 {
			_, _ = fmt.Fprintf(w, "# HELP pushgate_endpoint_rejected_reason_total Total number of rejections per reason.\n")
			_, _ = fmt.Fprintf(w, "# TYPE pushgate_endpoint_rejected_reason_total counter\n")
			for _, reason := range sortedKeys(byReason) {
				_, _ = fmt.Fprintf(w, "pushgate_endpoint_rejected_reason_total{reason=%q} %d\n", reason, byReason[reason])
			}
		}
	})
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newHealthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
}

func newStatusHandler(version string, start time.Time, storeKind string, routerTypes []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		payload := struct {
			Version     string   `json:"version"`
			UptimeSecs  int64    `json:"uptime_seconds"`
			StoreKind   string   `json:"store_kind"`
			RouterTypes []string `json:"router_types"`
		}{
			Version:     version,
			UptimeSecs:  int64(time.Since(start).Seconds()),
			StoreKind:   storeKind,
			RouterTypes: routerTypes,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})
}

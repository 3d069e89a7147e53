// Package metrics is the statistics sink of the proxy. The engine
// increments counters on request entry, success and failure; the
// internal listener reads them back as a JSON snapshot and as
// Prometheus exposition.
package metrics

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gm "github.com/rcrowley/go-metrics"
)

// Metrics holds the request counters of the proxy.
type Metrics struct {
	start time.Time
	reg   gm.Registry

	total   gm.Counter
	success gm.Counter
	failed  gm.Counter

	mx    sync.Mutex
	hosts map[string]*hostCounters

	prom        *prometheus.Registry
	promTotal   *prometheus.CounterVec
	promSuccess *prometheus.CounterVec
	promFailed  *prometheus.CounterVec
}

type hostCounters struct {
	requests    gm.Counter
	success     gm.Counter
	failed      gm.Counter
	lastRequest time.Time
}

// HostStats is the per-host slice of a stats snapshot.
type HostStats struct {
	Requests    int64     `json:"requests"`
	Success     int64     `json:"success"`
	Failed      int64     `json:"failed"`
	LastRequest time.Time `json:"lastRequest"`
}

// Stats is the JSON document served on /internal/stats.
type Stats struct {
	TotalRequests   int64                `json:"totalRequests"`
	SuccessRequests int64                `json:"successRequests"`
	FailedRequests  int64                `json:"failedRequests"`
	HostStats       map[string]HostStats `json:"hostStats"`
}

func New() *Metrics {
	reg := gm.NewRegistry()
	prom := prometheus.NewRegistry()

	m := &Metrics{
		start:   time.Now(),
		reg:     reg,
		total:   gm.GetOrRegisterCounter("requests.total", reg),
		success: gm.GetOrRegisterCounter("requests.success", reg),
		failed:  gm.GetOrRegisterCounter("requests.failed", reg),
		hosts:   make(map[string]*hostCounters),
		prom:    prom,
		promTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rproxy_requests_total",
			Help: "Requests received, by host.",
		}, []string{"host"}),
		promSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rproxy_requests_success_total",
			Help: "Requests proxied successfully, by host.",
		}, []string{"host"}),
		promFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rproxy_requests_failed_total",
			Help: "Requests failed, by host.",
		}, []string{"host"}),
	}

	prom.MustRegister(m.promTotal, m.promSuccess, m.promFailed)
	return m
}

func (m *Metrics) host(host string) *hostCounters {
	m.mx.Lock()
	defer m.mx.Unlock()

	h, ok := m.hosts[host]
	if !ok {
		h = &hostCounters{
			requests: gm.NewCounter(),
			success:  gm.NewCounter(),
			failed:   gm.NewCounter(),
		}
		m.hosts[host] = h
	}

	return h
}

// Request counts a request entering the engine.
func (m *Metrics) Request(host string) {
	m.total.Inc(1)
	h := m.host(host)

	m.mx.Lock()
	h.lastRequest = time.Now()
	m.mx.Unlock()

	h.requests.Inc(1)
	m.promTotal.WithLabelValues(host).Inc()
}

// Success counts a request proxied successfully.
func (m *Metrics) Success(host string) {
	m.success.Inc(1)
	m.host(host).success.Inc(1)
	m.promSuccess.WithLabelValues(host).Inc()
}

// Failure counts a request that failed.
func (m *Metrics) Failure(host string) {
	m.failed.Inc(1)
	m.host(host).failed.Inc(1)
	m.promFailed.WithLabelValues(host).Inc()
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Stats {
	s := Stats{
		TotalRequests:   m.total.Count(),
		SuccessRequests: m.success.Count(),
		FailedRequests:  m.failed.Count(),
		HostStats:       make(map[string]HostStats),
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	for host, h := range m.hosts {
		s.HostStats[host] = HostStats{
			Requests:    h.requests.Count(),
			Success:     h.success.Count(),
			Failed:      h.failed.Count(),
			LastRequest: h.lastRequest,
		}
	}

	return s
}

// Uptime returns the time since the sink was created, which is the
// process start for the lifetime of the proxy.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.start)
}

// StatsHandler serves the JSON counter snapshot.
func (m *Metrics) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

// HealthHandler serves process liveness with uptime and memory usage.
func (m *Metrics) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "ok",
			"uptime_seconds": int64(m.Uptime() / time.Second),
			"memory": map[string]interface{}{
				"alloc_bytes":       ms.Alloc,
				"total_alloc_bytes": ms.TotalAlloc,
				"sys_bytes":         ms.Sys,
				"num_gc":            ms.NumGC,
				"goroutines":        runtime.NumGoroutine(),
			},
		})
	})
}

// PrometheusHandler serves the Prometheus exposition of the counters.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.prom, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus collectors for the presence service.
//
// Each Metrics value owns its own registry, so tests and multiple service
// instances never collide on the default global registry.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name when none is configured.
const DefaultNamespace = "graylogic_presence"

// Metrics holds the service collectors and their registry.
type Metrics struct {
	Registry *prometheus.Registry

	Transitions   *prometheus.CounterVec
	Brokers       prometheus.Gauge
	Devices       prometheus.Gauge
	ProbeResults  *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec
	WatchClients  prometheus.Gauge

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	buildInfo       *prometheus.GaugeVec
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	start := time.Now()

	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Resource state transitions, by new state.",
			},
			[]string{"state"},
		),
		Brokers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "brokers",
			Help:      "Live presence brokers.",
		}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Hosts with at least one monitored resource.",
		}),
		ProbeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_results_total",
				Help:      "Completed probes, by transport and result code.",
			},
			[]string{"transport", "result"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Round trip of a single probe.",
				// 5ms .. ~10s
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"transport"},
		),
		WatchClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_clients",
			Help:      "Connected WebSocket watch clients.",
		}),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
			},
			[]string{"route"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build info (constant 1, labeled by version).",
			},
			[]string{"version"},
		),
	}

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(start).Seconds() },
	)

	m.Registry.MustRegister(
		m.Transitions, m.Brokers, m.Devices, m.ProbeResults, m.ProbeDuration, m.WatchClients,
		m.requestsTotal, m.requestDuration, m.inFlight, m.buildInfo, uptime,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

// ObserveTransition counts one state change.
func (m *Metrics) ObserveTransition(state string) {
	m.Transitions.WithLabelValues(state).Inc()
}

// ObserveProbe records one completed probe.
func (m *Metrics) ObserveProbe(transport, result string, elapsed time.Duration) {
	m.ProbeResults.WithLabelValues(transport, result).Inc()
	m.ProbeDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// SetBrokers sets the live broker gauge.
func (m *Metrics) SetBrokers(n int) {
	m.Brokers.Set(float64(n))
}

// SetDevices sets the tracked device gauge.
func (m *Metrics) SetDevices(n int) {
	m.Devices.Set(float64(n))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes WebSocket upgrades through to the underlying connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware records request count and latency labelled by chi route pattern.
//
// The pattern is read after the handler runs, when chi has resolved it, so
// "/api/v1/monitors/{id}" is one series regardless of the id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		class := strconv.Itoa(sw.status/100) + "xx"
		m.requestsTotal.WithLabelValues(route, class).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Package telemetry exposes run metrics in the Prometheus text format.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apisim/internal/core"
)

const namespace = "apisim"

// Metrics is both a collector.Hook and a core.Observer. It owns its
// registry so several runs in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	bytesOut  prometheus.Counter
	bytesIn   prometheus.Counter
	completed *prometheus.GaugeVec
	target    *prometheus.GaugeVec
	state     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests dispatched, by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_failures_total",
			Help:      "Requests that were not 2xx, by endpoint.",
		}, []string{"endpoint"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"endpoint"}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_bytes_total",
			Help:      "Request body bytes sent.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Response body bytes received.",
		}),
		completed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_completed_requests",
			Help:      "Requests completed so far in the run.",
		}, []string{"run_id"}),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_target_requests",
			Help:      "Requests the run intends to dispatch.",
		}, []string{"run_id"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_state",
			Help:      "1 for the run's current state, 0 otherwise.",
		}, []string{"run_id", "state"}),
	}
	m.registry.MustRegister(m.requests, m.failures, m.latency, m.bytesOut, m.bytesIn,
		m.completed, m.target, m.state)
	return m
}

// Registry returns the registry all apisim metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// OnMetric counts one completed request.
func (m *Metrics) OnMetric(metric core.Metric) {
	endpoint := metric.EndpointKey()
	m.requests.WithLabelValues(endpoint, strconv.Itoa(metric.StatusCode)).Inc()
	if !metric.Success() {
		m.failures.WithLabelValues(endpoint).Inc()
	}
	m.latency.WithLabelValues(endpoint).Observe(metric.Latency.Seconds())
	m.bytesOut.Add(float64(metric.RequestSize))
	m.bytesIn.Add(float64(metric.ResponseSize))
}

var states = []core.State{
	core.StateInitializing, core.StateLoadingSpecification, core.StateAnalyzingEndpoints,
	core.StateReady, core.StateRunning, core.StatePaused,
	core.StateCompleted, core.StateStopped, core.StateFailed,
}

// OnStatus mirrors the run snapshot into gauges.
func (m *Metrics) OnStatus(s core.Snapshot) {
	m.completed.WithLabelValues(s.RunID).Set(float64(s.Completed))
	m.target.WithLabelValues(s.RunID).Set(float64(s.Target))
	for _, st := range states {
		v := 0.0
		if st == s.State {
			v = 1
		}
		m.state.WithLabelValues(s.RunID, string(st)).Set(v)
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr. The returned server is already listening
// in the background; the caller shuts it down.
func (m *Metrics) Serve(addr string, onError func(error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed && onError != nil {
			onError(err)
		}
	}()
	return srv
}

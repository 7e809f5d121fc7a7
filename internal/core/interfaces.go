// Package core defines the shared types passed between the apisim components.
package core

import (
	"time"
)

// Metric is the immutable record of one dispatched request.
// StatusCode is 0 when the request failed before a response was received.
type Metric struct {
	Timestamp       time.Time     `json:"timestamp"`
	RunID           string        `json:"simulation_id"`
	EndpointPath    string        `json:"endpoint_path"`
	Method          string        `json:"http_method"`
	TargetHost      string        `json:"target_host"`
	TargetPort      int           `json:"target_port"`
	RequestURL      string        `json:"request_url"`
	RequestSize     int64         `json:"request_size_bytes"`
	StartTime       time.Time     `json:"request_start_time"`
	EndTime         time.Time     `json:"request_end_time"`
	Latency         time.Duration `json:"-"`
	LatencyMs       float64       `json:"response_time_ms"`
	StatusCode      int           `json:"status_code"`
	ResponseSize    int64         `json:"response_size_bytes"`
	ResponseMessage string        `json:"response_message"`
	Error           string        `json:"error_message,omitempty"`
	AuthScheme      string        `json:"auth_type,omitempty"`
	CorrelationID   string        `json:"request_id,omitempty"`
}

// Success reports whether the response status was 2xx.
func (m Metric) Success() bool {
	return m.StatusCode >= 200 && m.StatusCode < 300
}

// Failed reports whether the metric counts as an error in error analysis:
// a transport failure, an error message, or a 4xx/5xx status.
func (m Metric) Failed() bool {
	return m.StatusCode == 0 || m.StatusCode >= 400 || m.Error != ""
}

// EndpointKey identifies the endpoint a metric belongs to ("GET /users/{id}").
func (m Metric) EndpointKey() string {
	return m.Method + " " + m.EndpointPath
}

// Reporter is the interface workers use to hand metrics to the collector.
type Reporter interface {
	Record(Metric)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Metric)

func (f ReporterFunc) Record(m Metric) { f(m) }
